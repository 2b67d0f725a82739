package user

import "time"

type Role string

const (
	RoleAdmin        Role = "admin"
	RoleStudent      Role = "student"
	RoleInstructor   Role = "instructor"
	RoleTechnician   Role = "technician"
	RoleNutritionist Role = "nutritionist"
	RoleTerminal     Role = "terminal"
)

type User struct {
	ID           int       `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         Role      `db:"role" json:"role"`
	Gender       *string   `db:"gender" json:"gender,omitempty"`
	TaxID        string    `db:"tax_id" json:"tax_id"`
	// Cached aggregates of the XP ledger and credit wallets. Recomputed
	// inside the same transaction as every ledger change; read-optimization
	// only, never used to decide a debit.
	XPAvailable    int       `db:"xp_available" json:"xp_available"`
	CreditsBalance int       `db:"credits_balance" json:"credits_balance"`
	Active         bool      `db:"active" json:"active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// HealthScreening gates bookings for modalities that require one.
// The questionnaire itself lives outside the core; only validity matters here.
type HealthScreening struct {
	ID        int       `db:"id" json:"id"`
	UserID    int       `db:"user_id" json:"user_id"`
	Kind      string    `db:"kind" json:"kind"` // parq, ems, eletrolipo
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	Blocked   bool      `db:"blocked" json:"blocked"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type ScreeningStatus string

const (
	ScreeningOK      ScreeningStatus = "ok"
	ScreeningMissing ScreeningStatus = "missing"
	ScreeningBlocked ScreeningStatus = "blocked"
)
