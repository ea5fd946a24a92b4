package scheduler

import "cronexec/internal/task/engine"

type Snapshot struct {
	Stopped bool
	Chains  []ChainInfo

	// Engine is set when the pool is an *engine.Service.
	Engine *engine.Snapshot
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	stopped := s.stopped
	pool := s.pool
	s.mu.Unlock()

	snap := Snapshot{Stopped: stopped, Chains: s.Chains()}
	if eng, ok := pool.(*engine.Service); ok && eng != nil {
		es := eng.Snapshot()
		snap.Engine = &es
	}
	return snap
}
