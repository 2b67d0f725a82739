package commission

import (
	"time"

	"github.com/shopspring/decimal"
)

type DemandLevel string

const (
	DemandLow      DemandLevel = "low"
	DemandStandard DemandLevel = "standard"
	DemandHigh     DemandLevel = "high"
)

type EntryStatus string

const (
	EntryPending   EntryStatus = "pending"
	EntryApproved  EntryStatus = "approved"
	EntryPaid      EntryStatus = "paid"
	EntryCancelled EntryStatus = "cancelled"
)

type BatchStatus string

const (
	BatchDraft      BatchStatus = "draft"
	BatchPending    BatchStatus = "pending"
	BatchApproved   BatchStatus = "approved"
	BatchProcessing BatchStatus = "processing"
	BatchPaid       BatchStatus = "paid"
	BatchFailed     BatchStatus = "failed"
)

// Default split when a schedule has no configuration.
const (
	DefaultAcademyPct      = 40
	DefaultProfessionalPct = 60
)

// SplitConfiguration pairs 1:1 with a class schedule. academy_pct +
// professional_pct is always 100. A manual override means suggestions may
// still be computed but are never stored or applied.
type SplitConfiguration struct {
	ID                       int          `db:"id" json:"id"`
	ScheduleID               int          `db:"schedule_id" json:"schedule_id"`
	AcademyPct               int          `db:"academy_pct" json:"academy_pct"`
	ProfessionalPct          int          `db:"professional_pct" json:"professional_pct"`
	DemandLevel              DemandLevel  `db:"demand_level" json:"demand_level"`
	OccupancyRate            float64      `db:"occupancy_rate" json:"occupancy_rate"`
	SuggestedAcademyPct      *int         `db:"suggested_academy_pct" json:"suggested_academy_pct,omitempty"`
	SuggestedProfessionalPct *int         `db:"suggested_professional_pct" json:"suggested_professional_pct,omitempty"`
	SuggestedDemandLevel     *DemandLevel `db:"suggested_demand_level" json:"suggested_demand_level,omitempty"`
	SuggestionPending        bool         `db:"suggestion_pending" json:"suggestion_pending"`
	SuggestedAt              *time.Time   `db:"suggested_at" json:"suggested_at,omitempty"`
	IsManualOverride         bool         `db:"is_manual_override" json:"is_manual_override"`
	UpdatedAt                time.Time    `db:"updated_at" json:"updated_at"`
}

// SplitSettings holds the admin-tunable thresholds and the per-demand
// target splits. Single row.
type SplitSettings struct {
	ID                  int     `db:"id" json:"id"`
	LowThresholdPct     float64 `db:"low_threshold_pct" json:"low_threshold_pct"`   // occupancy below => low
	HighThresholdPct    float64 `db:"high_threshold_pct" json:"high_threshold_pct"` // occupancy above => high
	LowAcademyPct       int     `db:"low_academy_pct" json:"low_academy_pct"`
	LowProfessionalPct  int     `db:"low_professional_pct" json:"low_professional_pct"`
	StdAcademyPct       int     `db:"std_academy_pct" json:"std_academy_pct"`
	StdProfessionalPct  int     `db:"std_professional_pct" json:"std_professional_pct"`
	HighAcademyPct      int     `db:"high_academy_pct" json:"high_academy_pct"`
	HighProfessionalPct int     `db:"high_professional_pct" json:"high_professional_pct"`
}

// TargetFor resolves the configured split for a demand level.
func (s *SplitSettings) TargetFor(level DemandLevel) (academy, professional int) {
	switch level {
	case DemandLow:
		return s.LowAcademyPct, s.LowProfessionalPct
	case DemandHigh:
		return s.HighAcademyPct, s.HighProfessionalPct
	default:
		return s.StdAcademyPct, s.StdProfessionalPct
	}
}

// Classify maps a 30-day occupancy rate (0..1) to a demand level.
func (s *SplitSettings) Classify(occupancy float64) DemandLevel {
	pct := occupancy * 100
	if pct < s.LowThresholdPct {
		return DemandLow
	}
	if pct > s.HighThresholdPct {
		return DemandHigh
	}
	return DemandStandard
}

// CommissionEntry is one finalized booking priced at the split that was
// current at finalization time. At most one entry per booking.
type CommissionEntry struct {
	ID                 int             `db:"id" json:"id"`
	BookingID          int             `db:"booking_id" json:"booking_id"`
	ProfessionalID     int             `db:"professional_id" json:"professional_id"`
	ScheduleID         int             `db:"schedule_id" json:"schedule_id"`
	CreditValue        decimal.Decimal `db:"credit_value" json:"credit_value"`
	AcademyPct         int             `db:"academy_pct" json:"academy_pct"`
	ProfessionalPct    int             `db:"professional_pct" json:"professional_pct"`
	AmountAcademy      decimal.Decimal `db:"amount_academy" json:"amount_academy"`
	AmountProfessional decimal.Decimal `db:"amount_professional" json:"amount_professional"`
	BookingStatus      string          `db:"booking_status" json:"booking_status"`
	Status             EntryStatus     `db:"status" json:"status"`
	PayoutBatchID      *int            `db:"payout_batch_id" json:"payout_batch_id,omitempty"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
}

// PayoutBatch aggregates one professional's commissions for one month.
type PayoutBatch struct {
	ID               int             `db:"id" json:"id"`
	ProfessionalID   int             `db:"professional_id" json:"professional_id"`
	Month            int             `db:"month" json:"month"`
	Year             int             `db:"year" json:"year"`
	TotalAmount      decimal.Decimal `db:"total_amount" json:"total_amount"`
	EntriesCount     int             `db:"entries_count" json:"entries_count"`
	Status           BatchStatus     `db:"status" json:"status"`
	PaymentReference *string         `db:"payment_reference" json:"payment_reference,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// Statement is a professional's monthly view.
type Statement struct {
	ProfessionalID int               `json:"professional_id"`
	Month          int               `json:"month"`
	Year           int               `json:"year"`
	Entries        []CommissionEntry `json:"entries"`
	Total          decimal.Decimal   `json:"total"`
	Batch          *PayoutBatch      `json:"batch,omitempty"`
}

// SuggestionStats summarizes one nightly recompute.
type SuggestionStats struct {
	SchedulesScanned int `json:"schedules_scanned"`
	Suggested        int `json:"suggested"`
	Refreshed        int `json:"refreshed"`
	Skipped          int `json:"skipped_manual_override"`
	Errors           int `json:"errors"`
}

// SplitAmounts divides value by an integer percent pair using bankers'
// rounding at two decimals. The professional share is the remainder so the
// two always sum exactly to value.
func SplitAmounts(value decimal.Decimal, academyPct int) (academy, professional decimal.Decimal) {
	academy = value.Mul(decimal.NewFromInt(int64(academyPct))).Div(decimal.NewFromInt(100)).RoundBank(2)
	professional = value.Sub(academy)
	return academy, professional
}
