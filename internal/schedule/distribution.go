package schedule

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Admsmartfit/academia-sub000/internal/db"
	"github.com/Admsmartfit/academia-sub000/internal/logger"
	"github.com/Admsmartfit/academia-sub000/internal/user"
)

const dominanceWindowDays = 90

// Distributor pre-assigns genders to segregated slots for a date, before
// the first booking pins them. Rules, in order:
//  1. admin-forced assignments are never touched
//  2. a slot keeps its historically dominant gender (90-day window)
//  3. remaining slots are split proportionally to the active-student
//     male:female ratio
//
// Once a slot has a confirmed booking it is pinned by the first booker and
// this pass leaves it alone.
type Distributor struct {
	db       *sqlx.DB
	repo     *Repository
	userRepo *user.Repository
}

func NewDistributor(database *sqlx.DB, repo *Repository, userRepo *user.Repository) *Distributor {
	return &Distributor{db: database, repo: repo, userRepo: userRepo}
}

func (d *Distributor) DistributeForDate(ctx context.Context, date time.Time) (int, error) {
	schedules, err := d.repo.ListSegregatedForWeekday(ctx, int(date.Weekday()))
	if err != nil {
		return 0, err
	}
	if len(schedules) == 0 {
		return 0, nil
	}

	male, female, err := d.userRepo.GenderCounts(ctx)
	if err != nil {
		return 0, err
	}

	// Proportional target for slots with no history. With no declared
	// genders at all, alternate evenly.
	maleShare := 0.5
	if male+female > 0 {
		maleShare = float64(male) / float64(male+female)
	}

	assigned := 0
	maleAssigned, totalAssigned := 0, 0
	for _, s := range schedules {
		select {
		case <-ctx.Done():
			return assigned, ctx.Err()
		default:
		}

		existing, err := d.repo.GenderForDate(ctx, s.ID, date)
		if err != nil {
			logger.Errorf("Gender distribution: slot %d lookup failed: %v", s.ID, err)
			continue
		}
		if existing != nil {
			// Forced or already pinned; count it toward the balance.
			totalAssigned++
			if existing.Gender == "male" {
				maleAssigned++
			}
			continue
		}

		booked, err := d.repo.HasConfirmedBooking(ctx, s.ID, date)
		if err != nil || booked {
			continue
		}

		gender := ""
		dominant, err := d.repo.DominantGender(ctx, s.ID, dominanceWindowDays)
		if err != nil {
			logger.Errorf("Gender distribution: slot %d dominance query failed: %v", s.ID, err)
			continue
		}
		if dominant != nil {
			gender = *dominant
		} else {
			// Keep the running assignment close to the population share.
			if totalAssigned == 0 || float64(maleAssigned)/float64(totalAssigned) < maleShare {
				gender = "male"
			} else {
				gender = "female"
			}
		}

		err = db.InTx(ctx, d.db, func(tx *sqlx.Tx) error {
			return AssignGenderTx(ctx, tx, s.ID, date, gender, false)
		})
		if err != nil {
			logger.Errorf("Gender distribution: slot %d assignment failed: %v", s.ID, err)
			continue
		}

		assigned++
		totalAssigned++
		if gender == "male" {
			maleAssigned++
		}
	}

	return assigned, nil
}
