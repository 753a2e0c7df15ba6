package scheduler

import (
	"context"

	"github.com/timescale/hel/internal/hel/config"
)

// Reload re-validates raw against the Loader and, if it applies cleanly,
// swaps the live source set: sources removed from cfg are stopped,
// sources newly added are started, and sources present in both are left
// running untouched unless global.reload.restart_sources_on_sighup is
// set, in which case they are torn down and rebuilt so their resilience
// state (circuit breaker, rate limiter, token cache) and dedupe LRU start
// fresh (spec §4.J "SIGHUP config reload").
//
// A bad reload leaves the running sources alone: Reload applies cfg to
// the Loader first and returns Apply's error before touching any source,
// so the previous, known-good source set keeps running.
func (s *Scheduler) Reload(ctx context.Context, cfg *config.RunConfig, rawForHash []byte) error {
	if err := s.deps.Loader.Apply(cfg, rawForHash); err != nil {
		return err
	}

	s.mu.Lock()
	s.global = cfg.Global
	s.sourceSem = newSemaphore(cfg.Global.Bulkhead.MaxConcurrentSources)
	s.requestSem = newSemaphore(cfg.Global.Bulkhead.MaxConcurrentRequests)
	restart := cfg.Global.Reload.RestartSourcesOnSighup
	existing := make(map[string]struct{}, len(s.runners))
	for id := range s.runners {
		existing[id] = struct{}{}
	}
	s.mu.Unlock()

	for id := range existing {
		if _, keep := cfg.Sources[id]; !keep {
			s.logger.Info("scheduler: source removed on reload, stopping", "source", id)
			s.stopSource(id)
		}
	}

	for id, source := range cfg.Sources {
		_, wasRunning := existing[id]
		switch {
		case !wasRunning:
			s.logger.Info("scheduler: source added on reload, starting", "source", id)
			if err := s.startSource(ctx, source); err != nil {
				s.logger.Error("scheduler: failed to start reloaded source", "source", id, "error", err)
			}
		case restart:
			s.logger.Info("scheduler: restarting source per restart_sources_on_sighup", "source", id)
			s.stopSource(id)
			if err := s.startSource(ctx, source); err != nil {
				s.logger.Error("scheduler: failed to restart source", "source", id, "error", err)
			}
		}
	}

	return nil
}
