// Package memstore is an in-process coord.Store and coord.Elector. It backs
// single-node development runs and lets tests simulate a cluster whose members
// share one store, including session expiry.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ErlanBelekov/workflow-scheduler/internal/coord"
)

const watchBuffer = 256

type Store struct {
	mu         sync.Mutex
	nodes      map[string]coord.Node
	version    int64
	maxPayload int

	watchers map[int]*watcher
	nextID   int

	elections map[string]*election
}

type watcher struct {
	prefix string
	ch     chan coord.Event
}

type Option func(*Store)

func WithMaxPayload(n int) Option {
	return func(s *Store) { s.maxPayload = n }
}

func New(opts ...Option) *Store {
	s := &Store{
		nodes:      make(map[string]coord.Node),
		maxPayload: coord.DefaultMaxPayload,
		watchers:   make(map[int]*watcher),
		elections:  make(map[string]*election),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) MaxPayload() int { return s.maxPayload }

// Ping always succeeds; it lets the store stand in wherever a database ping is checked.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Get(ctx context.Context, p string) (coord.Node, error) {
	if err := ctx.Err(); err != nil {
		return coord.Node{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[p]
	if !ok {
		return coord.Node{}, fmt.Errorf("get %s: %w", p, coord.ErrNoNode)
	}
	return cloneNode(n), nil
}

func (s *Store) Exists(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.nodes[p]
	return ok, nil
}

func (s *Store) Create(ctx context.Context, p string, data []byte, opts ...coord.CreateOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := coord.ValidatePath(p); err != nil {
		return fmt.Errorf("create %s: %w", p, err)
	}
	if len(data) > s.maxPayload {
		return fmt.Errorf("create %s: payload %d bytes exceeds %d", p, len(data), s.maxPayload)
	}
	o := coord.ApplyCreateOptions(opts)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[p]; ok {
		return fmt.Errorf("create %s: %w", p, coord.ErrNodeExists)
	}
	for _, parent := range coord.Parents(p) {
		if _, ok := s.nodes[parent]; ok {
			continue
		}
		if !o.Parents {
			return fmt.Errorf("create %s: parent %s: %w", p, parent, coord.ErrNoNode)
		}
		s.setLocked(parent, nil, coord.EventCreated)
	}
	s.setLocked(p, data, coord.EventCreated)
	return nil
}

func (s *Store) Put(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := coord.ValidatePath(p); err != nil {
		return fmt.Errorf("put %s: %w", p, err)
	}
	if len(data) > s.maxPayload {
		return fmt.Errorf("put %s: payload %d bytes exceeds %d", p, len(data), s.maxPayload)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, parent := range coord.Parents(p) {
		if _, ok := s.nodes[parent]; !ok {
			s.setLocked(parent, nil, coord.EventCreated)
		}
	}
	typ := coord.EventCreated
	if _, ok := s.nodes[p]; ok {
		typ = coord.EventUpdated
	}
	s.setLocked(p, data, typ)
	return nil
}

func (s *Store) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[p]; !ok {
		return fmt.Errorf("delete %s: %w", p, coord.ErrNoNode)
	}
	delete(s.nodes, p)
	s.notifyLocked(coord.Event{Type: coord.EventDeleted, Path: p})
	return nil
}

func (s *Store) Children(ctx context.Context, p string) ([]coord.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []coord.Node
	for path, n := range s.nodes {
		if coord.IsChild(p, path) {
			out = append(out, cloneNode(n))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Watch delivers events without blocking writers. A watcher that falls
// watchBuffer events behind is dropped and its channel closed.
func (s *Store) Watch(ctx context.Context, prefix string) (<-chan coord.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	w := &watcher{prefix: prefix, ch: make(chan coord.Event, watchBuffer)}
	s.watchers[id] = w
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		if cur, ok := s.watchers[id]; ok && cur == w {
			delete(s.watchers, id)
			close(w.ch)
		}
	}()
	return w.ch, nil
}

func (s *Store) setLocked(p string, data []byte, typ coord.EventType) {
	s.version++
	n := coord.Node{Path: p, Data: append([]byte(nil), data...), Version: s.version}
	if prev, ok := s.nodes[p]; ok {
		n.CreatedAt = prev.CreatedAt
	} else {
		n.CreatedAt = time.Now()
	}
	s.nodes[p] = n
	s.notifyLocked(coord.Event{Type: typ, Path: p})
}

func (s *Store) notifyLocked(ev coord.Event) {
	for id, w := range s.watchers {
		if !coord.HasPrefix(w.prefix, ev.Path) {
			continue
		}
		select {
		case w.ch <- ev:
		default:
			delete(s.watchers, id)
			close(w.ch)
		}
	}
}

func cloneNode(n coord.Node) coord.Node {
	n.Data = append([]byte(nil), n.Data...)
	return n
}
