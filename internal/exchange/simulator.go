package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/trustbank/trade-api/internal/types"
)

// Simulator is an in-memory exchange used by tests and the simulation
// binary. Prices and submission outcomes are scripted per test; status can
// be advanced externally to drive the reconciler.
type Simulator struct {
	mu          sync.Mutex
	prices      map[string]float64
	statuses    map[string]string
	byKey       map[string]string // idempotency key -> reference
	rejectNext  bool
	priceErr    error
	statusPolls int
}

func NewSimulator() *Simulator {
	return &Simulator{
		prices: map[string]float64{
			"btc_ngn":  95_000_000,
			"eth_ngn":  5_200_000,
			"usdt_ngn": 1_550,
		},
		statuses: make(map[string]string),
		byKey:    make(map[string]string),
	}
}

func (s *Simulator) SetPrice(pair string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[pair] = price
}

// FailNextPrice makes the next TickerPrice call fail once.
func (s *Simulator) FailNextPrice(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priceErr = err
}

// RejectNextSubmission makes the next SubmitTrade report a rejection.
func (s *Simulator) RejectNextSubmission() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectNext = true
}

// SetStatus scripts the provider-side status for a reference.
func (s *Simulator) SetStatus(externalRef, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[externalRef] = status
}

// StatusPolls reports how many TradeStatus calls have been made.
func (s *Simulator) StatusPolls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusPolls
}

func (s *Simulator) TickerPrice(_ context.Context, pair string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.priceErr != nil {
		err := s.priceErr
		s.priceErr = nil
		return 0, err
	}
	price, ok := s.prices[pair]
	if !ok {
		return 0, fmt.Errorf("no market for %s", pair)
	}
	return price, nil
}

func (s *Simulator) SubmitTrade(_ context.Context, req *SubmitRequest) (*SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Replayed submissions return the original acceptance.
	if ref, ok := s.byKey[req.IdempotencyKey]; ok {
		return &SubmitResult{
			Accepted:          true,
			ExternalReference: ref,
			Status:            s.statuses[ref],
		}, nil
	}

	if s.rejectNext {
		s.rejectNext = false
		return &SubmitResult{Accepted: false}, nil
	}

	ref := "SIM_" + uuid.New().String()
	status := "pending"
	if req.PaymentMethod == types.MethodWallet {
		status = "submitted"
	}
	s.statuses[ref] = status
	s.byKey[req.IdempotencyKey] = ref

	result := &SubmitResult{
		Accepted:          true,
		ExternalReference: ref,
		Status:            status,
	}
	if req.PaymentMethod != types.MethodWallet {
		result.RedirectURL = "https://pay.example.com/checkout/" + ref
	}
	return result, nil
}

func (s *Simulator) TradeStatus(_ context.Context, externalRef string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusPolls++
	status, ok := s.statuses[externalRef]
	if !ok {
		return "", errors.New("reference not found")
	}
	return status, nil
}
