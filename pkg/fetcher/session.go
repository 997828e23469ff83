package fetcher

import (
	"context"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
)

type session struct {
	id     string
	cancel context.CancelFunc
}

// Sessions hands out one cancellable context per logical fetch key. Beginning a new
// session for a key aborts the previous one, so a superseded fetch stops issuing requests
// and its in-flight results are dropped.
type Sessions struct {
	active *xsync.Map[string, session]
}

func NewSessions() *Sessions {
	return &Sessions{active: xsync.NewMap[string, session]()}
}

// Begin aborts any session running under key and starts a new one. The returned release
// func ends the session; it is a no-op once a newer session took over the key.
func (s *Sessions) Begin(parent context.Context, key string) (ctx context.Context, id string, release func()) {
	ctx, cancel := context.WithCancel(parent)
	id = uuid.NewString()

	s.active.Compute(key, func(prev session, loaded bool) (session, xsync.ComputeOp) {
		if loaded {
			prev.cancel()
		}
		return session{id: id, cancel: cancel}, xsync.UpdateOp
	})

	release = func() {
		cancel()
		s.active.Compute(key, func(cur session, loaded bool) (session, xsync.ComputeOp) {
			if loaded && cur.id == id {
				return cur, xsync.DeleteOp
			}
			return cur, xsync.CancelOp
		})
	}
	return ctx, id, release
}

// Abort cancels the session running under key, if any.
func (s *Sessions) Abort(key string) {
	if cur, ok := s.active.LoadAndDelete(key); ok {
		cur.cancel()
	}
}

// AbortAll cancels every running session.
func (s *Sessions) AbortAll() {
	s.active.Range(func(key string, cur session) bool {
		cur.cancel()
		s.active.Delete(key)
		return true
	})
}

// Active reports whether a session is running under key.
func (s *Sessions) Active(key string) bool {
	_, ok := s.active.Load(key)
	return ok
}
