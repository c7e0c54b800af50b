// Package coord defines the coordination store the scheduler cluster shares:
// a hierarchical, path-addressed node store with watch notifications, plus a
// leader-election primitive built on the same store.
package coord

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"
)

var (
	ErrNodeExists    = errors.New("node already exists")
	ErrNoNode        = errors.New("node does not exist")
	ErrSessionClosed = errors.New("coordination session closed")
	ErrInvalidPath   = errors.New("invalid node path")
)

// DefaultMaxPayload bounds the size of a single node's data.
const DefaultMaxPayload = 1 << 20

type Node struct {
	Path      string
	Data      []byte
	Version   int64
	CreatedAt time.Time
}

// Name returns the last path segment.
func (n Node) Name() string { return path.Base(n.Path) }

type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
)

type Event struct {
	Type EventType
	Path string
}

type CreateOption func(*CreateOptions)

type CreateOptions struct {
	Parents bool
}

// CreateParents makes Create add any missing ancestor nodes (with empty data).
func CreateParents() CreateOption {
	return func(o *CreateOptions) { o.Parents = true }
}

func ApplyCreateOptions(opts []CreateOption) CreateOptions {
	var o CreateOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Store is the node store. Create fails with ErrNodeExists when the node is
// already present and never overwrites; Put is an upsert reserved for admin paths.
type Store interface {
	Get(ctx context.Context, p string) (Node, error)
	Exists(ctx context.Context, p string) (bool, error)
	Create(ctx context.Context, p string, data []byte, opts ...CreateOption) error
	Put(ctx context.Context, p string, data []byte) error
	Delete(ctx context.Context, p string) error
	// Children lists the direct children of p ordered by path.
	Children(ctx context.Context, p string) ([]Node, error)
	// Watch streams changes to every node under prefix until ctx is done.
	// The channel is closed when the watch ends; callers should resync afterwards.
	Watch(ctx context.Context, prefix string) (<-chan Event, error)
	MaxPayload() int
}

// Lease is held by the single elected participant for an election path.
type Lease interface {
	// Lost is closed when leadership ends for any reason other than Release.
	Lost() <-chan struct{}
	Release(ctx context.Context) error
}

// Elector blocks in Acquire until this participant is elected or ctx is done.
type Elector interface {
	Acquire(ctx context.Context, electionPath string) (Lease, error)
}

func ValidatePath(p string) error {
	if p == "" || !strings.HasPrefix(p, "/") || p != path.Clean(p) || p == "/" {
		return ErrInvalidPath
	}
	return nil
}

// Parents returns every ancestor of p, outermost first, excluding "/".
func Parents(p string) []string {
	var out []string
	for dir := path.Dir(p); dir != "/" && dir != "."; dir = path.Dir(dir) {
		out = append([]string{dir}, out...)
	}
	return out
}

func IsChild(parent, p string) bool {
	return path.Dir(p) == parent
}

func HasPrefix(prefix, p string) bool {
	if prefix == "/" {
		return strings.HasPrefix(p, "/")
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}
