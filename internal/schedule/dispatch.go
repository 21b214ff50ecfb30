package schedule

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-engage-backend/internal/domain"
	"github.com/tbourn/go-engage-backend/internal/repo"
	"github.com/tbourn/go-engage-backend/internal/services"
)

// Discoverer runs one discovery pass for an account and discovery type.
// *services.DiscoveryService satisfies it.
type Discoverer interface {
	Discover(ctx context.Context, accountID, discoveryType string) (*services.DiscoveryResult, error)
}

// Dispatcher triggers the discovery schedules that are due. A schedule is
// due when its cron expression has an activation after LastRunAt that is
// not in the future; a schedule that never ran is due immediately. Run
// failures are already recorded on the schedule row by the discovery
// service, so the scan continues past them.
type Dispatcher struct {
	// DB is the GORM handle used to load schedule rows.
	DB *gorm.DB
	// Svc runs the discovery passes.
	Svc Discoverer
	// Now returns the current time. Nil means time.Now; tests override it.
	Now func() time.Time
}

// DispatchDue scans the enabled schedules and runs discovery for the due
// ones, sequentially. Schedules whose cron expression does not parse are
// skipped with a warning.
func (d *Dispatcher) DispatchDue(ctx context.Context) error {
	rows, err := repo.ListEnabledSchedules(ctx, d.DB)
	if err != nil {
		return err
	}

	now := d.now().UTC()
	ran := 0
	for i := range rows {
		sc := &rows[i]
		due, err := Due(sc, now)
		if err != nil {
			log.Warn().
				Err(err).
				Str("schedule_id", sc.ID).
				Str("cron", sc.Cron).
				Msg("skipping schedule with unparseable cron expression")
			continue
		}
		if !due {
			continue
		}
		ran++
		if _, err := d.Svc.Discover(ctx, sc.AccountID, sc.DiscoveryType); err != nil {
			log.Error().
				Err(err).
				Str("account_id", sc.AccountID).
				Str("discovery_type", sc.DiscoveryType).
				Msg("scheduled discovery run failed")
		}
	}

	if ran > 0 {
		log.Info().Int("ran", ran).Int("scanned", len(rows)).Msg("discovery dispatch complete")
	}
	return nil
}

// Due reports whether the schedule's next cron activation after its last
// successful run is at or before now. A schedule with no recorded run is
// due.
func Due(s *domain.Schedule, now time.Time) (bool, error) {
	spec, err := cron.ParseStandard(s.Cron)
	if err != nil {
		return false, err
	}
	if s.LastRunAt == nil {
		return true, nil
	}
	return !spec.Next(*s.LastRunAt).After(now), nil
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}
