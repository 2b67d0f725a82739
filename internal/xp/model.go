package xp

import "time"

// ValidityDays is the XP conversion window: grants expire 90 days after
// they are earned. Expired, unconverted XP silently leaves the pool.
const ValidityDays = 90

// Grant sources.
const (
	SourceBooking     = "booking"
	SourceAchievement = "achievement"
	SourceManual      = "manual"
	SourcePenalty     = "penalty"
)

// LedgerEntry is an append-only XP grant. converted_amount is the only
// column that ever changes after insert.
type LedgerEntry struct {
	ID              int       `db:"id" json:"id"`
	UserID          int       `db:"user_id" json:"user_id"`
	XPAmount        int       `db:"xp_amount" json:"xp_amount"`
	ConvertedAmount int       `db:"converted_amount" json:"converted_amount"`
	Source          string    `db:"source" json:"source"`
	SourceID        *int      `db:"source_id" json:"source_id,omitempty"`
	EarnedAt        time.Time `db:"earned_at" json:"earned_at"`
	ExpiresAt       time.Time `db:"expires_at" json:"expires_at"`
}

// Rule is an admin-defined XP to credits policy. Priority is a rank:
// 1 is tried first by the automatic sweep, xp_required breaks ties.
type Rule struct {
	ID                 int       `db:"id" json:"id"`
	Name               string    `db:"name" json:"name"`
	XPRequired         int       `db:"xp_required" json:"xp_required"`
	CreditsGranted     int       `db:"credits_granted" json:"credits_granted"`
	CreditValidityDays int       `db:"credit_validity_days" json:"credit_validity_days"`
	IsAutomatic        bool      `db:"is_automatic" json:"is_automatic"`
	MaxUsesPerUser     *int      `db:"max_uses_per_user" json:"max_uses_per_user,omitempty"`
	CooldownDays       *int      `db:"cooldown_days" json:"cooldown_days,omitempty"`
	Priority           int       `db:"priority" json:"priority"`
	Active             bool      `db:"active" json:"active"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

// Conversion is the audit row linking consumed ledger XP to the minted
// credit lot under a rule.
type Conversion struct {
	ID             int       `db:"id" json:"id"`
	UserID         int       `db:"user_id" json:"user_id"`
	RuleID         int       `db:"rule_id" json:"rule_id"`
	WalletID       int       `db:"wallet_id" json:"wallet_id"`
	XPSpent        int       `db:"xp_spent" json:"xp_spent"`
	CreditsGranted int       `db:"credits_granted" json:"credits_granted"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// RuleAvailability is a rule annotated with whether this user can use it
// right now, and why not.
type RuleAvailability struct {
	Rule      Rule   `json:"rule"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"` // cooldown, max_uses, insufficient_xp
}

// Summary backs the UserSummary operation.
type Summary struct {
	UserID            int          `json:"user_id"`
	XPAvailable       int          `json:"xp_available"`
	XPExpiringSoon    int          `json:"xp_expiring_soon"`
	CreditsBalance    int          `json:"credits_balance"`
	CreditsExpiring   int          `json:"credits_expiring_soon"`
	RecentConversions []Conversion `json:"recent_conversions"`
}
