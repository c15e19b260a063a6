package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/food-dispatch/internal/observability"
)

// Advancer is the slice of the dispatch engine the sweeper drives.
type Advancer interface {
	SweepExpired(ctx context.Context, batch int) (int, error)
}

const (
	DefaultPeriod   = 60 * time.Second
	DefaultBatchCap = 20
)

// Sweeper periodically reclaims delivery tasks whose current offer has
// lapsed. It is the only mechanism that moves a task past a volunteer who
// never responds; the per-tick batch cap bounds worst-case work.
type Sweeper struct {
	Engine   Advancer
	Period   time.Duration
	BatchCap int
	Logger   *slog.Logger
}

func (s *Sweeper) period() time.Duration {
	if s.Period > 0 {
		return s.Period
	}
	return DefaultPeriod
}

func (s *Sweeper) batchCap() int {
	if s.BatchCap > 0 {
		return s.BatchCap
	}
	return DefaultBatchCap
}

func (s *Sweeper) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Run ticks until the context is canceled. Sweep errors are logged and the
// loop keeps going; a broken tick must not kill the process.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.period())
	defer ticker.Stop()
	s.log().Info("expiry sweeper started", "period", s.period().String(), "batch_cap", s.batchCap())
	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-ctx.Done():
			s.log().Info("expiry sweeper stopped")
			return
		}
	}
}

// Tick runs one bounded sweep pass.
func (s *Sweeper) Tick(ctx context.Context) {
	observability.SweepRunsTotal.Inc()
	advanced, err := s.Engine.SweepExpired(ctx, s.batchCap())
	if err != nil {
		s.log().Error("sweep failed", "error", err)
		return
	}
	if advanced > 0 {
		s.log().Info("sweep advanced expired offers", "count", advanced)
	}
}
