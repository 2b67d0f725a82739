package credits

import (
	"time"

	"github.com/google/uuid"
)

type Source string

const (
	SourcePurchase   Source = "purchase"
	SourceConversion Source = "conversion"
	SourceBonus      Source = "bonus"
	SourceRefund     Source = "refund"
)

// Wallet is a credit lot: immutable origin, mutable balance, hard expiry.
// Once expires_at passes the remaining balance is forfeited for good.
type Wallet struct {
	ID               int       `db:"id" json:"id"`
	UserID           int       `db:"user_id" json:"user_id"`
	CreditsInitial   int       `db:"credits_initial" json:"credits_initial"`
	CreditsRemaining int       `db:"credits_remaining" json:"credits_remaining"`
	Source           Source    `db:"source" json:"source"`
	ExpiresAt        time.Time `db:"expires_at" json:"expires_at"`
	IsExpired        bool      `db:"is_expired" json:"is_expired"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// DebitLine records how much one debit took from one lot.
type DebitLine struct {
	WalletID int `db:"wallet_id" json:"wallet_id"`
	Amount   int `db:"amount" json:"amount"`
}

type DebitReceipt struct {
	GroupID uuid.UUID   `json:"group_id"`
	UserID  int         `json:"user_id"`
	Total   int         `json:"total"`
	Reason  string      `json:"reason"`
	Lines   []DebitLine `json:"lines"`
}

// WalletPlan is a dry-run of a debit: which lots would be touched, in
// first-to-expire order, without mutating anything.
type WalletPlan struct {
	Amount     int         `json:"amount"`
	Affordable bool        `json:"affordable"`
	Available  int         `json:"available"`
	Lines      []DebitLine `json:"lines"`
}

// ExpiredLot is emitted by the expiration sweep for notification.
type ExpiredLot struct {
	WalletID int `db:"id"`
	UserID   int `db:"user_id"`
	Lost     int `db:"credits_remaining"`
}

const RefundValidityDays = 30
