package store

import (
	"fmt"

	"github.com/google/uuid"
)

// newID returns a UUIDv7 string. IDs sort by creation time, so the files
// stay in insertion order even after a manual re-sort.
func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuidv7: %w", err)
	}

	return id.String(), nil
}
