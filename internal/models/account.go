package models

import (
	"time"

	"github.com/google/uuid"
)

// Account holds a user's points balance. Rows are created by the external
// signup flow; balance and version change only through ledger entries.
type Account struct {
	ID        uuid.UUID `json:"id"`
	Balance   int64     `json:"balance"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
