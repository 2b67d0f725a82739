package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/Admsmartfit/academia-sub000/internal/apperr"
	"github.com/Admsmartfit/academia-sub000/internal/logger"
)

// Fake is an in-memory gateway for development and tests. Every charge is
// created pending; MarkPaid simulates the provider webhook.
type Fake struct {
	mu      sync.Mutex
	charges map[string]*Charge
}

func NewFake() *Fake {
	return &Fake{charges: make(map[string]*Charge)}
}

func (f *Fake) CreatePix(ctx context.Context, req ChargeRequest) (*Charge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := &Charge{
		Reference:  req.Reference,
		ExternalID: "fake-" + req.Reference,
		Status:     StatusPending,
		PixCode:    "00020126fake" + req.Reference,
		CreatedAt:  time.Now(),
	}
	f.charges[req.Reference] = c
	logger.Infof("Fake gateway: pix charge %s for %s created", req.Reference, req.Amount.StringFixed(2))
	return c, nil
}

func (f *Fake) CreateRecurring(ctx context.Context, req RecurringRequest) (*Charge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := &Charge{
		Reference:  req.Reference,
		ExternalID: "fake-rec-" + req.Reference,
		Status:     StatusPending,
		CreatedAt:  time.Now(),
	}
	f.charges[req.Reference] = c
	logger.Infof("Fake gateway: recurring charge %s for %s created", req.Reference, req.Amount.StringFixed(2))
	return c, nil
}

func (f *Fake) GetStatus(ctx context.Context, reference string) (ChargeStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.charges[reference]
	if !ok {
		return "", apperr.Newf(apperr.KindNotFound, "charge %s not found", reference)
	}
	return c.Status, nil
}

func (f *Fake) Cancel(ctx context.Context, reference string) error {
	return f.transition(reference, StatusCancelled)
}

func (f *Fake) Pause(ctx context.Context, reference string) error {
	logger.Infof("Fake gateway: charge %s paused", reference)
	return nil
}

func (f *Fake) Resume(ctx context.Context, reference string) error {
	logger.Infof("Fake gateway: charge %s resumed", reference)
	return nil
}

func (f *Fake) Refund(ctx context.Context, reference string) error {
	return f.transition(reference, StatusRefunded)
}

// MarkPaid simulates a provider payment confirmation.
func (f *Fake) MarkPaid(reference string) error {
	return f.transition(reference, StatusPaid)
}

func (f *Fake) transition(reference string, to ChargeStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.charges[reference]
	if !ok {
		return apperr.Newf(apperr.KindNotFound, "charge %s not found", reference)
	}
	c.Status = to
	return nil
}
