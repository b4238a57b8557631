package utils

import (
	"crypto/md5"
	"fmt"

	"github.com/google/uuid"
)

// DegradedUUID returns a UUID-shaped identifier derived from the md5 of
// "<localUserID>-<email>". It is stable for a given pair but is not an
// account in the external identity system and carries no version bits.
func DegradedUUID(localUserID int64, email string) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%d-%s", localUserID, email)))
	var id uuid.UUID
	copy(id[:], sum[:])
	return id.String()
}

// IsUUID reports whether s parses as a UUID in canonical form.
func IsUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
