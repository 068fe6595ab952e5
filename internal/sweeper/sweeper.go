// Package sweeper runs the periodic session expiry sweep.
package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tamosreddi/orders-sub000/internal/config"
	"github.com/tamosreddi/orders-sub000/internal/session"
)

type Service struct {
	sessions *session.Manager
	cfg      config.Config
}

func NewService(sessions *session.Manager, cfg config.Config) *Service {
	return &Service{sessions: sessions, cfg: cfg}
}

// Run sweeps on the configured interval until the context is cancelled.
// Sweep errors are logged, not fatal; the next tick retries.
func (s *Service) Run(ctx context.Context) error {
	for {
		if err := s.Sweep(time.Now()); err != nil {
			zap.L().Error("sweep cycle failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.cfg.SweepInterval):
		}
	}
}

// Sweep closes every session past its expiry, regardless of state.
func (s *Service) Sweep(now time.Time) error {
	ids, err := s.sessions.CloseExpired(now)
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		zap.L().Info("sessions expired", zap.Int("closed", len(ids)), zap.Strings("session_ids", ids))
	}
	return nil
}
