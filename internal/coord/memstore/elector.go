package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/ErlanBelekov/workflow-scheduler/internal/coord"
)

// election tracks one election path: the current holder and the FIFO of waiters.
type election struct {
	holder  *lease
	waiters []*waiter
}

type waiter struct {
	session *Session
	granted chan *lease
}

// Session is one participant's connection to the store. Expire simulates a
// crash or session timeout; Revoke simulates a connection blip the participant
// survives.
type Session struct {
	store *Store
	id    string

	mu     sync.Mutex
	closed bool
	leases map[*lease]struct{}
}

var _ coord.Elector = (*Session)(nil)

func (s *Store) NewSession(id string) *Session {
	return &Session{store: s, id: id, leases: make(map[*lease]struct{})}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Acquire(ctx context.Context, electionPath string) (coord.Lease, error) {
	st := s.store

	st.mu.Lock()
	if s.isClosed() {
		st.mu.Unlock()
		return nil, fmt.Errorf("acquire %s: %w", electionPath, coord.ErrSessionClosed)
	}
	e := st.electionLocked(electionPath)
	if e.holder == nil {
		l := st.grantLocked(e, electionPath, s)
		st.mu.Unlock()
		return l, nil
	}
	w := &waiter{session: s, granted: make(chan *lease, 1)}
	e.waiters = append(e.waiters, w)
	st.mu.Unlock()

	select {
	case l := <-w.granted:
		if l == nil {
			return nil, fmt.Errorf("acquire %s: %w", electionPath, coord.ErrSessionClosed)
		}
		return l, nil
	case <-ctx.Done():
		st.mu.Lock()
		e.removeWaiter(w)
		st.mu.Unlock()
		// A grant may have raced the cancellation; hand it straight on.
		select {
		case l := <-w.granted:
			if l != nil {
				_ = l.Release(context.Background())
			}
		default:
		}
		return nil, ctx.Err()
	}
}

// Revoke ends every lease held by this session; the session stays usable.
func (s *Session) Revoke() {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.revokeLocked()
}

// Expire ends every lease and closes the session permanently.
func (s *Session) Expire() {
	st := s.store
	st.mu.Lock()
	defer st.mu.Unlock()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.revokeLocked()
	for _, e := range st.elections {
		kept := e.waiters[:0]
		for _, w := range e.waiters {
			if w.session == s {
				w.granted <- nil
				continue
			}
			kept = append(kept, w)
		}
		e.waiters = kept
	}
}

func (s *Session) revokeLocked() {
	s.mu.Lock()
	held := make([]*lease, 0, len(s.leases))
	for l := range s.leases {
		held = append(held, l)
	}
	s.mu.Unlock()

	for _, l := range held {
		l.lostOnce.Do(func() { close(l.lost) })
		s.store.releaseLocked(l)
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Leader returns the session id currently holding electionPath, or "".
func (s *Store) Leader(electionPath string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.elections[electionPath]
	if !ok || e.holder == nil {
		return ""
	}
	return e.holder.session.id
}

func (s *Store) electionLocked(p string) *election {
	e, ok := s.elections[p]
	if !ok {
		e = &election{}
		s.elections[p] = e
	}
	return e
}

func (s *Store) grantLocked(e *election, p string, sess *Session) *lease {
	l := &lease{store: s, session: sess, path: p, lost: make(chan struct{})}
	e.holder = l
	sess.mu.Lock()
	sess.leases[l] = struct{}{}
	sess.mu.Unlock()
	return l
}

// releaseLocked clears l as holder (if it still is) and promotes the next live waiter.
func (s *Store) releaseLocked(l *lease) {
	l.session.mu.Lock()
	delete(l.session.leases, l)
	l.session.mu.Unlock()

	e := s.elections[l.path]
	if e == nil || e.holder != l {
		return
	}
	e.holder = nil
	for len(e.waiters) > 0 {
		w := e.waiters[0]
		e.waiters = e.waiters[1:]
		if w.session.isClosed() {
			w.granted <- nil
			continue
		}
		w.granted <- s.grantLocked(e, l.path, w.session)
		return
	}
}

func (e *election) removeWaiter(w *waiter) {
	for i, cur := range e.waiters {
		if cur == w {
			e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
			return
		}
	}
}

type lease struct {
	store    *Store
	session  *Session
	path     string
	lost     chan struct{}
	lostOnce sync.Once
}

func (l *lease) Lost() <-chan struct{} { return l.lost }

func (l *lease) Release(_ context.Context) error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	l.store.releaseLocked(l)
	return nil
}
