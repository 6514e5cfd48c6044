package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/domain"
)

// Pinger is implemented by stores and clients that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DependencyCheck is one readiness probe. A failing required dependency turns the report into an
// error; a failing optional one only degrades it.
type DependencyCheck struct {
	Name     string
	Timeout  time.Duration
	Optional bool
	Check    func(context.Context) error
}

// PingCheck probes p under name.
func PingCheck(name string, p Pinger) DependencyCheck {
	return DependencyCheck{Name: name, Check: p.Ping}
}

type DependencyHealthOption func(*dependencyHealth)

// WithDependencyTimeout applies to checks that leave Timeout unset.
func WithDependencyTimeout(timeout time.Duration) DependencyHealthOption {
	return func(h *dependencyHealth) {
		if timeout > 0 {
			h.timeout = timeout
		}
	}
}

func WithDependencyClock(clock func() time.Time) DependencyHealthOption {
	return func(h *dependencyHealth) {
		if clock != nil {
			h.now = clock
		}
	}
}

type dependencyHealth struct {
	checks  []DependencyCheck
	timeout time.Duration
	now     func() time.Time
}

var _ HealthRepository = (*dependencyHealth)(nil)

// NewDependencyHealthRepository validates checks: names must be unique and non-empty.
func NewDependencyHealthRepository(checks []DependencyCheck, opts ...DependencyHealthOption) (HealthRepository, error) {
	if len(checks) == 0 {
		return nil, errors.New("health repository: no dependency checks")
	}
	h := &dependencyHealth{timeout: 1500 * time.Millisecond, now: time.Now}
	names := make(map[string]bool, len(checks))
	for _, check := range checks {
		check.Name = strings.TrimSpace(check.Name)
		switch {
		case check.Name == "":
			return nil, errors.New("health repository: dependency check without name")
		case check.Check == nil:
			return nil, fmt.Errorf("health repository: dependency %s has no probe", check.Name)
		case names[check.Name]:
			return nil, fmt.Errorf("health repository: dependency %s registered twice", check.Name)
		}
		names[check.Name] = true
		h.checks = append(h.checks, check)
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Collect runs all probes in parallel and reports the worst outcome as the overall status.
func (h *dependencyHealth) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	report := domain.SystemHealthReport{
		Status: domain.HealthStatusOK,
		Checks: make(map[string]domain.SystemHealthCheck, len(h.checks)),
	}
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, check := range h.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := h.probe(ctx, check)
			mu.Lock()
			defer mu.Unlock()
			report.Checks[check.Name] = result
			switch {
			case result.Status == domain.HealthStatusError:
				report.Status = domain.HealthStatusError
			case result.Status != domain.HealthStatusOK && report.Status == domain.HealthStatusOK:
				report.Status = domain.HealthStatusDegraded
			}
		}()
	}
	wg.Wait()
	report.GeneratedAt = h.now()
	return report, nil
}

func (h *dependencyHealth) probe(ctx context.Context, check DependencyCheck) domain.SystemHealthCheck {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = h.timeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := h.now()
	err := check.Check(probeCtx)
	if err == nil {
		// a probe that ignored its deadline still counts as timed out
		err = probeCtx.Err()
	}
	finished := h.now()

	result := domain.SystemHealthCheck{
		Status:    domain.HealthStatusOK,
		Detail:    "ok",
		Latency:   finished.Sub(started),
		CheckedAt: finished,
	}
	if err == nil {
		return result
	}

	result.Error = err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		result.Detail = "timeout"
	case errors.Is(err, context.Canceled):
		result.Detail = "cancelled"
	default:
		result.Detail = "unreachable"
	}
	result.Status = domain.HealthStatusError
	if check.Optional {
		result.Status = domain.HealthStatusDegraded
	}
	return result
}
