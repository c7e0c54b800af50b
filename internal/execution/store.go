// Package execution writes execution markers: the coordination-store nodes
// whose existence means "this schedule has fired for the current trigger".
// The execution engine watches the marker path and takes over from there.
package execution

import (
	"context"
	"errors"
	"fmt"

	"github.com/ErlanBelekov/workflow-scheduler/internal/coord"
	"github.com/ErlanBelekov/workflow-scheduler/internal/domain"
)

var ErrPayloadTooLarge = errors.New("execution payload exceeds maximum size")

type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeCreated
	OutcomeAlreadyExists
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeAlreadyExists:
		return "already_exists"
	case OutcomeRejected:
		return "rejected"
	default:
		return "failed"
	}
}

type Store struct {
	nodes      coord.Store
	maxPayload int
}

// NewStore caps payloads at maxPayload, or at the node store's own limit when
// maxPayload is zero or larger than what the store accepts.
func NewStore(nodes coord.Store, maxPayload int) *Store {
	if limit := nodes.MaxPayload(); maxPayload <= 0 || maxPayload > limit {
		maxPayload = limit
	}
	return &Store{nodes: nodes, maxPayload: maxPayload}
}

func (s *Store) MaxPayload() int { return s.maxPayload }

func MarkerPath(id domain.ScheduleID) string {
	return coord.RunKey(string(id))
}

func (s *Store) HasMarker(ctx context.Context, id domain.ScheduleID) (bool, error) {
	ok, err := s.nodes.Exists(ctx, MarkerPath(id))
	if err != nil {
		return false, fmt.Errorf("check marker %s: %w", id, err)
	}
	return ok, nil
}

// Clear removes the marker for id so the schedule can fire again. A missing
// marker is not an error.
func (s *Store) Clear(ctx context.Context, id domain.ScheduleID) error {
	if err := s.nodes.Delete(ctx, MarkerPath(id)); err != nil && !errors.Is(err, coord.ErrNoNode) {
		return fmt.Errorf("clear marker %s: %w", id, err)
	}
	return nil
}

// TryCreate checks for an existing marker and creates one if absent. The check
// and the create are separate store calls; a writer that loses the race in
// between gets OutcomeAlreadyExists from the store's create-if-absent.
func (s *Store) TryCreate(ctx context.Context, id domain.ScheduleID, payload []byte) (Outcome, error) {
	if len(payload) > s.maxPayload {
		return OutcomeRejected, fmt.Errorf("schedule %s: %d bytes, limit %d: %w",
			id, len(payload), s.maxPayload, ErrPayloadTooLarge)
	}

	exists, err := s.HasMarker(ctx, id)
	if err != nil {
		return OutcomeFailed, err
	}
	if exists {
		return OutcomeAlreadyExists, nil
	}

	if err := s.nodes.Create(ctx, MarkerPath(id), payload, coord.CreateParents()); err != nil {
		if errors.Is(err, coord.ErrNodeExists) {
			return OutcomeAlreadyExists, nil
		}
		return OutcomeFailed, fmt.Errorf("create marker %s: %w", id, err)
	}
	return OutcomeCreated, nil
}
