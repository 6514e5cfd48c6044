package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/domain"
)

var probedAt = time.Date(2026, time.March, 1, 21, 0, 0, 0, time.UTC)

func healthy(context.Context) error { return nil }

func collect(t *testing.T, checks []DependencyCheck, opts ...DependencyHealthOption) domain.SystemHealthReport {
	t.Helper()
	opts = append([]DependencyHealthOption{WithDependencyClock(func() time.Time { return probedAt })}, opts...)
	repo, err := NewDependencyHealthRepository(checks, opts...)
	require.NoError(t, err)
	report, err := repo.Collect(context.Background())
	require.NoError(t, err)
	return report
}

func TestDependencyHealthAllReachable(t *testing.T) {
	report := collect(t, []DependencyCheck{
		{Name: "postgres", Check: healthy},
		{Name: "pubsub", Optional: true, Check: healthy},
	})

	require.Equal(t, domain.HealthStatusOK, report.Status)
	require.Equal(t, probedAt, report.GeneratedAt)
	require.Len(t, report.Checks, 2)
	for name, check := range report.Checks {
		require.Equal(t, domain.HealthStatusOK, check.Status, name)
		require.Equal(t, "ok", check.Detail, name)
		require.Equal(t, probedAt, check.CheckedAt, name)
		require.Empty(t, check.Error, name)
	}
}

func TestDependencyHealthFailureSeverity(t *testing.T) {
	refused := errors.New("connection refused")
	cases := map[string]struct {
		optional   bool
		wantReport string
	}{
		"required store down": {wantReport: domain.HealthStatusError},
		"optional relay down": {optional: true, wantReport: domain.HealthStatusDegraded},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			report := collect(t, []DependencyCheck{
				{Name: "store", Optional: tc.optional, Check: func(context.Context) error { return refused }},
				{Name: "secretManager", Optional: true, Check: healthy},
			})

			require.Equal(t, tc.wantReport, report.Status)
			failed := report.Checks["store"]
			require.Equal(t, tc.wantReport, failed.Status)
			require.Equal(t, "unreachable", failed.Detail)
			require.Equal(t, refused.Error(), failed.Error)
			require.Equal(t, domain.HealthStatusOK, report.Checks["secretManager"].Status)
		})
	}
}

func TestDependencyHealthRequiredFailureOutranksDegraded(t *testing.T) {
	down := func(context.Context) error { return errors.New("down") }
	report := collect(t, []DependencyCheck{
		{Name: "pubsub", Optional: true, Check: down},
		{Name: "firestore", Check: down},
		{Name: "secretManager", Optional: true, Check: down},
	})
	require.Equal(t, domain.HealthStatusError, report.Status)
}

func TestDependencyHealthTimeouts(t *testing.T) {
	blocking := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	t.Run("repository default", func(t *testing.T) {
		report := collect(t, []DependencyCheck{{Name: "firestore", Check: blocking}},
			WithDependencyTimeout(5*time.Millisecond))
		check := report.Checks["firestore"]
		require.Equal(t, domain.HealthStatusError, check.Status)
		require.Equal(t, "timeout", check.Detail)
	})

	t.Run("per check", func(t *testing.T) {
		report := collect(t, []DependencyCheck{
			{Name: "secretManager", Optional: true, Timeout: 5 * time.Millisecond, Check: blocking},
		}, WithDependencyTimeout(time.Minute))
		require.Equal(t, domain.HealthStatusDegraded, report.Status)
		require.Equal(t, "timeout", report.Checks["secretManager"].Detail)
	})

	t.Run("probe ignoring its deadline", func(t *testing.T) {
		report := collect(t, []DependencyCheck{{Name: "slow", Timeout: time.Millisecond, Check: func(context.Context) error {
			time.Sleep(10 * time.Millisecond)
			return nil
		}}})
		require.Equal(t, "timeout", report.Checks["slow"].Detail)
	})
}

func TestNewDependencyHealthRepositoryRejectsBadChecks(t *testing.T) {
	cases := map[string][]DependencyCheck{
		"empty":      nil,
		"blank name": {{Name: "  ", Check: healthy}},
		"no probe":   {{Name: "postgres"}},
		"duplicate":  {{Name: "postgres", Check: healthy}, {Name: " postgres ", Check: healthy}},
	}
	for name, checks := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewDependencyHealthRepository(checks)
			require.Error(t, err)
		})
	}
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestPingCheck(t *testing.T) {
	report := collect(t, []DependencyCheck{PingCheck("postgres", pingFunc(func(context.Context) error {
		return errors.New("pool closed")
	}))})
	require.Equal(t, domain.HealthStatusError, report.Status)
	require.Equal(t, "pool closed", report.Checks["postgres"].Error)
}
