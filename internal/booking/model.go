package booking

import "time"

type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusNoShow    Status = "no_show"
	StatusCancelled Status = "cancelled"
)

type CreditSource string

const (
	SourceSubscription CreditSource = "subscription"
	SourceWallet       CreditSource = "wallet"
)

// Check-in XP policy.
const (
	XPBase          = 10
	XPEarlyBird     = 3 // class scheduled before 07:00
	XPFirstOfDay    = 5 // first completed booking of the calendar day
	EarlyBirdBefore = 7 // hour
)

// Booking records a reservation. cost_at_booking is captured at creation
// and reused verbatim on refund, so later pricing changes never touch past
// bookings.
type Booking struct {
	ID             int          `db:"id" json:"id"`
	UserID         int          `db:"user_id" json:"user_id"`
	ScheduleID     int          `db:"schedule_id" json:"schedule_id"`
	ClassDate      time.Time    `db:"class_date" json:"class_date"`
	Status         Status       `db:"status" json:"status"`
	CostAtBooking  int          `db:"cost_at_booking" json:"cost_at_booking"`
	Source         CreditSource `db:"source" json:"source"`
	SubscriptionID *int         `db:"subscription_id" json:"subscription_id,omitempty"`
	XPEarned       int          `db:"xp_earned" json:"xp_earned"`
	CheckinAt      *time.Time   `db:"checkin_at" json:"checkin_at,omitempty"`
	CancelledAt    *time.Time   `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
}

// BookRequest is the input to BookClass. Exactly one credit source:
// a subscription id, or nil to draw from wallet lots.
type BookRequest struct {
	UserID         int
	ScheduleID     int
	Date           time.Time
	SubscriptionID *int
}

// RecurringBooking generates confirmed bookings on a fixed cadence.
// Failed occurrences are skipped, never retried.
type RecurringBooking struct {
	ID             int        `db:"id" json:"id"`
	UserID         int        `db:"user_id" json:"user_id"`
	SubscriptionID *int       `db:"subscription_id" json:"subscription_id,omitempty"`
	ScheduleID     int        `db:"schedule_id" json:"schedule_id"`
	FrequencyDays  int        `db:"frequency_days" json:"frequency_days"`
	NextOccurrence time.Time  `db:"next_occurrence" json:"next_occurrence"`
	LastCreated    *time.Time `db:"last_created" json:"last_created,omitempty"`
	EndDate        *time.Time `db:"end_date" json:"end_date,omitempty"`
	Active         bool       `db:"active" json:"active"`
}

// ReminderRow carries what a class reminder needs in one read.
type ReminderRow struct {
	BookingID    int       `db:"booking_id"`
	UserID       int       `db:"user_id"`
	UserName     string    `db:"user_name"`
	UserEmail    string    `db:"user_email"`
	ModalityName string    `db:"modality_name"`
	ClassStart   time.Time `db:"class_start"`
}

// RecurringStats summarizes one generation pass.
type RecurringStats struct {
	Considered int `json:"considered"`
	Created    int `json:"created"`
	Skipped    int `json:"skipped"`
	Errors     int `json:"errors"`
}
