package services

import (
	"cmp"
	"context"
	"errors"
	"time"

	domain "github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/domain"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/repositories"
)

// BuildInfo identifies the running binary in readiness reports.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
	// Realtime reports the event hub state; it is added to every report as the "realtime" check.
	Realtime func() domain.SystemHealthCheck
}

type systemService struct {
	health   repositories.HealthRepository
	now      func() time.Time
	build    BuildInfo
	realtime func() domain.SystemHealthCheck
}

var _ SystemService = (*systemService)(nil)

func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	if deps.Build.StartedAt.IsZero() {
		deps.Build.StartedAt = clock()
	}
	return &systemService{
		health:   deps.HealthRepository,
		now:      func() time.Time { return clock().UTC() },
		build:    deps.Build,
		realtime: deps.Realtime,
	}, nil
}

// HealthReport probes the store dependencies and folds in build metadata and hub state. The
// overall status is the worst of the individual checks.
func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	report, err := s.health.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}
	now := s.now()

	if report.Checks == nil {
		report.Checks = make(map[string]domain.SystemHealthCheck)
	}
	if s.realtime != nil {
		check := s.realtime()
		if check.CheckedAt.IsZero() {
			check.CheckedAt = now
		}
		report.Checks["realtime"] = check
	}

	status := report.Status
	for _, check := range report.Checks {
		status = worseStatus(status, check.Status)
	}
	report.Status = cmp.Or(status, domain.HealthStatusOK)

	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	report.Version = cmp.Or(report.Version, s.build.Version)
	report.CommitSHA = cmp.Or(report.CommitSHA, s.build.CommitSHA)
	report.Environment = cmp.Or(report.Environment, s.build.Environment)
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	return report, nil
}

var statusSeverity = map[string]int{
	domain.HealthStatusOK:       1,
	domain.HealthStatusDegraded: 2,
	domain.HealthStatusError:    3,
}

// worseStatus treats unknown non-empty statuses as degraded.
func worseStatus(a, b string) string {
	severity := func(s string) int {
		if s == "" {
			return 0
		}
		if n, ok := statusSeverity[s]; ok {
			return n
		}
		return statusSeverity[domain.HealthStatusDegraded]
	}
	if severity(b) > severity(a) {
		if _, known := statusSeverity[b]; !known {
			return domain.HealthStatusDegraded
		}
		return b
	}
	return a
}
