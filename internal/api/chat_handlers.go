package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"movt.app/backend/internal/core"
	"movt.app/backend/internal/utils"
)

// CreateChatRequest names the other participant by local id or external UUID.
type CreateChatRequest struct {
	Participant2ID flexString `json:"participant2_id"`
}

func (h *APIHandler) CreateChatHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateChatRequest
	if err := decodeBody(r, &req); err != nil {
		writeInvalidBody(w, err)
		return
	}

	candidate := strings.TrimSpace(string(req.Participant2ID))
	var otherID int64
	if candidate != "" {
		id, err := h.identities.ResolveLocalUserID(r.Context(), candidate)
		if err != nil {
			writeError(w, storeFailure("failed to resolve chat participant", err))
			return
		}
		if id == 0 {
			if utils.IsUUID(candidate) {
				writeError(w, &core.Error{Kind: core.KindIdentityNotFound, Message: core.ErrIdentityNotFound.Message})
			} else {
				writeError(w, &core.Error{Kind: core.KindInvalidInput, Message: "participant2_id must be a user id"})
			}
			return
		}
		otherID = id
	}

	thread, err := h.chat.CreateOrGetThread(r.Context(), userIDFrom(r), otherID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": thread})
}

func (h *APIHandler) ListChatsHandler(w http.ResponseWriter, r *http.Request) {
	threads, err := h.chat.ListThreads(r.Context(), userIDFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": threads})
}

func (h *APIHandler) DeleteChatHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.chat.DeleteThread(r.Context(), chi.URLParam(r, "id"), userIDFrom(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type SendMessageRequest struct {
	Text     *string `json:"text"`
	ImageURL *string `json:"image_url"`
}

func (h *APIHandler) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := decodeBody(r, &req); err != nil {
		writeInvalidBody(w, err)
		return
	}

	message, err := h.chat.SendMessage(r.Context(), chi.URLParam(r, "id"), userIDFrom(r), req.Text, req.ImageURL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"data": message})
}

func (h *APIHandler) GetMessagesHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, err)
		return
	}

	messages, err := h.chat.GetMessages(r.Context(), chi.URLParam(r, "id"), userIDFrom(r), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": messages})
}

func (h *APIHandler) MarkReadHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.chat.MarkRead(r.Context(), chi.URLParam(r, "id"), userIDFrom(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *APIHandler) DeleteMessageHandler(w http.ResponseWriter, r *http.Request) {
	removal, err := h.chat.DeleteMessage(r.Context(), chi.URLParam(r, "id"), userIDFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "chatDeleted": removal.ThreadDeleted})
}
