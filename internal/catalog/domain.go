// internal/catalog/domain.go
package catalog

import (
	"errors"

	"github.com/google/uuid"
)

var (
	ErrOutOfStock   = errors.New("book stock not available")
	ErrItemNotFound = errors.New("item not found")
)

// Item is the lending view of a catalog entry: only its available-copy
// counter, which is owned by a Ledger.
type Item struct {
	ID        uuid.UUID `json:"id"`
	Available int       `json:"available"`
}
