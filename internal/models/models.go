package models

import "time"

// PhotoSlot names a logical media slot scoped to a single user.
type PhotoSlot string

const (
	SlotUserPhoto  PhotoSlot = "photo_1"
	SlotModelPhoto PhotoSlot = "photo_2"
	SlotResult     PhotoSlot = "result"
)

// Entitlement records which budget admitted the current try-on flow.
type Entitlement string

const (
	EntitlementNone      Entitlement = ""
	EntitlementAllowlist Entitlement = "allowlist"
	EntitlementFree      Entitlement = "free"
	EntitlementPaid      Entitlement = "paid"
)

// User is the persisted entitlement row, keyed by the Telegram user id.
type User struct {
	UserID    int64
	PaidTries int
	FreeUsed  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Payment is one reconciled webhook notification. OperationID is the
// provider's payment id and deduplicates redelivered notifications.
type Payment struct {
	ID          int64
	OperationID string
	UserID      int64
	Amount      int
	Credits     int
	CreatedAt   time.Time
}

// CatalogModel is one garment entry discovered under the models/ prefix.
type CatalogModel struct {
	Category string
	Name     string
}
