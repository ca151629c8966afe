package types

import (
	"time"

	"github.com/google/uuid"
)

// AccountType classifies ledger accounts.
type AccountType string

const (
	AccountTypePrivate  AccountType = "private"
	AccountTypeSale     AccountType = "sale_exit"
	AccountTypeInternal AccountType = "internal"
)

// Account is the ledger-side entity referenced by cashier and transport links.
type Account struct {
	ID   int64       `json:"id"`
	Type AccountType `json:"type"`
	Name string      `json:"name"`
}

// UserTag is a physical identity token such as an NFC chip.
type UserTag struct {
	ID  int64 `json:"id"`
	UID int64 `json:"uid"`
}

// Session is the server-side record of one user login.
type Session struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Terminal is a registered till device. ActiveUserID is the user currently
// logged in at the till, if any.
type Terminal struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	SessionUUID  uuid.UUID `json:"-"`
	ActiveUserID *int64    `json:"active_user_id,omitempty"`
}
