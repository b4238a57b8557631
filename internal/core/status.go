package core

import (
	"strings"

	"movt.app/backend/internal/store"
	"movt.app/backend/internal/utils"
)

var statusAliases = map[string]string{
	"pending":    store.StatusPending,
	"pendente":   store.StatusPending,
	"confirmed":  store.StatusConfirmed,
	"confirmado": store.StatusConfirmed,
	"completed":  store.StatusCompleted,
	"concluido":  store.StatusCompleted,
	"cancelled":  store.StatusCancelled,
	"canceled":   store.StatusCancelled,
	"cancelado":  store.StatusCancelled,
}

// NormalizeStatus maps a status lexeme, in any case and with or without
// diacritics, to its stored form.
func NormalizeStatus(s string) (string, bool) {
	v, ok := statusAliases[utils.FoldLexeme(strings.TrimSpace(s))]
	return v, ok
}

func isCompleted(status string) bool {
	v, ok := NormalizeStatus(status)
	return ok && v == store.StatusCompleted
}
