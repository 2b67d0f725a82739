package retention

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// ListActivity returns one activity row per active student.
func (r *Repository) ListActivity(ctx context.Context) ([]ActivitySnapshot, error) {
	var rows []ActivitySnapshot
	err := r.db.SelectContext(ctx, &rows, `
		SELECT u.id AS user_id,
		       u.name,
		       u.email,
		       u.credits_balance,
		       MAX(b.class_date) FILTER (WHERE b.status = 'completed') AS last_completed,
		       COUNT(*) FILTER (
		           WHERE b.status = 'completed'
		             AND b.class_date >= CURRENT_DATE - INTERVAL '30 days'
		       ) AS visits_30d
		FROM users u
		LEFT JOIN bookings b ON b.user_id = u.id
		WHERE u.active = true AND u.role = 'student'
		GROUP BY u.id, u.name, u.email, u.credits_balance
		ORDER BY u.id
	`)
	return rows, err
}

// UpsertScore stores the snapshot, one row per member.
func (r *Repository) UpsertScore(ctx context.Context, s EngagementScore) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO engagement_scores (user_id, score, days_since_last, visits_30d, risk_level, calculated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET score = $2, days_since_last = $3, visits_30d = $4, risk_level = $5, calculated_at = NOW()
	`, s.UserID, s.Score, s.DaysSinceLast, s.Visits30D, s.RiskLevel)
	return err
}

func (r *Repository) GetScore(ctx context.Context, userID int) (*EngagementScore, error) {
	var s EngagementScore
	err := r.db.GetContext(ctx, &s, `
		SELECT user_id, score, days_since_last, visits_30d, risk_level, calculated_at
		FROM engagement_scores
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// SentRecently reports whether this outreach kind went to the user inside
// the cooldown window.
func (r *Repository) SentRecently(ctx context.Context, userID int, kind string, since time.Time) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM retention_messages
			WHERE user_id = $1 AND kind = $2 AND sent_at >= $3
		)
	`, userID, kind, since)
	return exists, err
}

func (r *Repository) RecordSent(ctx context.Context, userID int, kind string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO retention_messages (user_id, kind, sent_at)
		VALUES ($1, $2, NOW())
	`, userID, kind)
	return err
}
