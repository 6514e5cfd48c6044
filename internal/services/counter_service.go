package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/repositories"
)

const (
	orderNumberCounter = "orders:number"
	orderNumberWidth   = 6
	// largest sequence that still fits orderNumberWidth base-36 digits ("ZZZZZZ")
	maxOrderSequence int64 = 2176782335
)

// ErrCounterExhausted means the order number space is used up.
var ErrCounterExhausted = errors.New("counter: exhausted")

type CounterServiceDeps struct {
	Repository repositories.CounterRepository
}

type counterService struct {
	repo repositories.CounterRepository
}

var _ CounterService = (*counterService)(nil)

func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}
	return &counterService{repo: deps.Repository}, nil
}

// Prime records the order number bound on the counter. It runs once at startup, outside any
// transaction, and leaves the current value untouched.
func (s *counterService) Prime(ctx context.Context) error {
	limit := maxOrderSequence
	if err := s.repo.Configure(ctx, orderNumberCounter, repositories.CounterConfig{Step: 1, MaxValue: &limit}); err != nil {
		return fmt.Errorf("prime order number counter: %w", err)
	}
	return nil
}

// NextOrderNumber allocates the next short order code: the global sequence in upper-case base 36,
// left padded to six characters ("00001A"). Call it inside the order creation transaction so an
// aborted order does not burn a number.
func (s *counterService) NextOrderNumber(ctx context.Context) (string, error) {
	seq, err := s.repo.Next(ctx, orderNumberCounter, 0)
	if err != nil {
		var repoErr *repositories.Error
		if errors.As(err, &repoErr) && repoErr.Kind == repositories.ErrorKindExhausted {
			return "", fmt.Errorf("%w: %s", ErrCounterExhausted, repoErr.Message)
		}
		return "", err
	}
	if seq > maxOrderSequence {
		return "", fmt.Errorf("%w: order sequence %d exceeds %d", ErrCounterExhausted, seq, maxOrderSequence)
	}
	return formatOrderNumber(seq), nil
}

func formatOrderNumber(seq int64) string {
	code := strings.ToUpper(strconv.FormatInt(seq, 36))
	return strings.Repeat("0", max(orderNumberWidth-len(code), 0)) + code
}
