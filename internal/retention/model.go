package retention

import "time"

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Outreach cadence. A member inactive past a threshold gets at most one
// message per threshold per cooldown window.
const (
	MissYouAfterDays  = 7
	WinBackAfterDays  = 21
	OutreachCooldownD = 14
)

// EngagementScore is the per-member snapshot the nightly calculation
// maintains. Score is 0..100; the risk level is derived from it.
type EngagementScore struct {
	UserID        int       `db:"user_id" json:"user_id"`
	Score         int       `db:"score" json:"score"`
	DaysSinceLast int       `db:"days_since_last" json:"days_since_last"`
	Visits30D     int       `db:"visits_30d" json:"visits_30d"`
	RiskLevel     RiskLevel `db:"risk_level" json:"risk_level"`
	CalculatedAt  time.Time `db:"calculated_at" json:"calculated_at"`
}

// ActivitySnapshot is the raw per-member activity the score derives from.
type ActivitySnapshot struct {
	UserID         int        `db:"user_id"`
	Name           string     `db:"name"`
	Email          string     `db:"email"`
	CreditsBalance int        `db:"credits_balance"`
	LastCompleted  *time.Time `db:"last_completed"`
	Visits30D      int        `db:"visits_30d"`
}

// ScoreFor derives the engagement score from activity. Recency dominates,
// frequency tops it up; a member who never completed a class scores zero.
func ScoreFor(daysSinceLast, visits30d int) int {
	if daysSinceLast < 0 {
		return 0
	}
	score := 100 - daysSinceLast*4
	if score < 0 {
		score = 0
	}
	score += visits30d * 2
	if score > 100 {
		score = 100
	}
	return score
}

func RiskFor(score int) RiskLevel {
	switch {
	case score >= 60:
		return RiskLow
	case score >= 30:
		return RiskMedium
	default:
		return RiskHigh
	}
}
