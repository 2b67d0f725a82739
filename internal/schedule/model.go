package schedule

import "time"

// Screening kinds a modality may require.
const (
	ScreeningPARQ       = "parq"
	ScreeningEMS        = "ems"
	ScreeningEletrolipo = "eletrolipo"
)

type Modality struct {
	ID                int     `db:"id" json:"id"`
	Name              string  `db:"name" json:"name"`
	CreditsCost       int     `db:"credits_cost" json:"credits_cost"`
	RequiresScreening *string `db:"requires_screening" json:"requires_screening,omitempty"`
	GenderSegregated  bool    `db:"gender_segregated" json:"gender_segregated"`
}

// ClassSchedule is a weekly slot. current_split_rate and
// avg_occupancy_rate are caches maintained by the commission engine.
type ClassSchedule struct {
	ID               int     `db:"id" json:"id"`
	ModalityID       int     `db:"modality_id" json:"modality_id"`
	InstructorID     int     `db:"instructor_id" json:"instructor_id"`
	Weekday          int     `db:"weekday" json:"weekday"` // 0 = Sunday
	StartTime        string  `db:"start_time" json:"start_time"`
	EndTime          string  `db:"end_time" json:"end_time"`
	Capacity         int     `db:"capacity" json:"capacity"`
	Active           bool    `db:"active" json:"active"`
	CurrentSplitRate float64 `db:"current_split_rate" json:"current_split_rate"`
	AvgOccupancyRate float64 `db:"avg_occupancy_rate" json:"avg_occupancy_rate"`
}

// ScheduleWithModality joins the slot with the pricing and gating info the
// booking path needs in one read.
type ScheduleWithModality struct {
	ClassSchedule
	ModalityName      string  `db:"modality_name"`
	CreditsCost       int     `db:"credits_cost"`
	RequiresScreening *string `db:"requires_screening"`
	GenderSegregated  bool    `db:"gender_segregated"`
	InstructorRole    string  `db:"instructor_role"`
}

// GenderDay pins a segregated slot to one gender for one date. Forced
// assignments come from an admin and always win; unforced ones come from
// the distribution pass or the first booker.
type GenderDay struct {
	ScheduleID int       `db:"schedule_id" json:"schedule_id"`
	Date       time.Time `db:"date" json:"date"`
	Gender     string    `db:"gender" json:"gender"`
	Forced     bool      `db:"forced" json:"forced"`
}

// ClassDateTime resolves the concrete start of a schedule on a date.
func (s *ClassSchedule) ClassDateTime(date time.Time, loc *time.Location) time.Time {
	t, err := time.ParseInLocation("15:04:05", s.StartTime, loc)
	if err != nil {
		t, _ = time.ParseInLocation("15:04", s.StartTime, loc)
	}
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, loc)
}

// ClassEndDateTime resolves the concrete end of a schedule on a date.
func (s *ClassSchedule) ClassEndDateTime(date time.Time, loc *time.Location) time.Time {
	t, err := time.ParseInLocation("15:04:05", s.EndTime, loc)
	if err != nil {
		t, _ = time.ParseInLocation("15:04", s.EndTime, loc)
	}
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, loc)
}
