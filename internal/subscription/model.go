package subscription

import "time"

type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentPaid      PaymentStatus = "paid"
	PaymentOverdue   PaymentStatus = "overdue"
	PaymentCancelled PaymentStatus = "cancelled"
)

// Dunning policy thresholds, in days overdue.
const (
	SuspendAfterDays = 15
	CancelAfterDays  = 90
	ReminderLeadDays = 3
)

// Subscription is a purchased credit bundle paid in installments.
// Subscription credits are a separate pool from wallet lots; both sum into
// the user's reported balance.
type Subscription struct {
	ID              int        `db:"id" json:"id"`
	UserID          int        `db:"user_id" json:"user_id"`
	CreditsTotal    int        `db:"credits_total" json:"credits_total"`
	CreditsUsed     int        `db:"credits_used" json:"credits_used"`
	StartDate       time.Time  `db:"start_date" json:"start_date"`
	EndDate         time.Time  `db:"end_date" json:"end_date"`
	Status          Status     `db:"status" json:"status"`
	PaymentStatus   string     `db:"payment_status" json:"payment_status"`
	SuspendedAt     *time.Time `db:"suspended_at" json:"suspended_at,omitempty"`
	SuspendedReason *string    `db:"suspended_reason" json:"suspended_reason,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

func (s *Subscription) CreditsRemaining() int {
	return s.CreditsTotal - s.CreditsUsed
}

// Payment is one installment of a subscription plan.
type Payment struct {
	ID                int           `db:"id" json:"id"`
	SubscriptionID    int           `db:"subscription_id" json:"subscription_id"`
	InstallmentNo     int           `db:"installment_no" json:"installment_no"`
	TotalInstallments int           `db:"total_installments" json:"total_installments"`
	AmountCents       int64         `db:"amount_cents" json:"amount_cents"`
	DueDate           time.Time     `db:"due_date" json:"due_date"`
	PaidDate          *time.Time    `db:"paid_date" json:"paid_date,omitempty"`
	Status            PaymentStatus `db:"status" json:"status"`
	OverdueDays       int           `db:"overdue_days" json:"overdue_days"`
	GatewayReference  *string       `db:"gateway_reference" json:"gateway_reference,omitempty"`
}

// DunningStats summarizes one sweep for logs and the CLI.
type DunningStats struct {
	PaymentsChecked int `json:"payments_checked"`
	MarkedOverdue   int `json:"marked_overdue"`
	Suspended       int `json:"suspended"`
	Cancelled       int `json:"cancelled"`
	Reminders       int `json:"reminders"`
	Expired         int `json:"expired_subscriptions"`
	Errors          int `json:"errors"`
}
