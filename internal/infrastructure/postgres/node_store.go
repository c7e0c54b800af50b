package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/ErlanBelekov/workflow-scheduler/internal/coord"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// NodeStore implements coord.Store on the coord_nodes table.
type NodeStore struct {
	pool       *pgxpool.Pool
	logger     *slog.Logger
	maxPayload int
}

var _ coord.Store = (*NodeStore)(nil)

func NewNodeStore(pool *pgxpool.Pool, logger *slog.Logger, maxPayload int) *NodeStore {
	if maxPayload <= 0 {
		maxPayload = coord.DefaultMaxPayload
	}
	return &NodeStore{pool: pool, logger: logger.With("component", "node_store"), maxPayload: maxPayload}
}

func (s *NodeStore) MaxPayload() int { return s.maxPayload }

// Ping lets the health checker treat the store as a dependency.
func (s *NodeStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *NodeStore) Get(ctx context.Context, p string) (coord.Node, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT path, data, version, created_at FROM coord_nodes WHERE path = $1`, p)
	n, err := scanNode(row)
	if err != nil {
		return coord.Node{}, fmt.Errorf("get %s: %w", p, err)
	}
	return n, nil
}

func (s *NodeStore) Exists(ctx context.Context, p string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM coord_nodes WHERE path = $1)`, p).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", p, err)
	}
	return ok, nil
}

// Create inserts p and, with CreateParents, any missing ancestors in one transaction.
// A concurrent creator of the same path surfaces as coord.ErrNodeExists.
func (s *NodeStore) Create(ctx context.Context, p string, data []byte, opts ...coord.CreateOption) (err error) {
	if err := coord.ValidatePath(p); err != nil {
		return fmt.Errorf("create %s: %w", p, err)
	}
	if len(data) > s.maxPayload {
		return fmt.Errorf("create %s: payload %d bytes exceeds %d", p, len(data), s.maxPayload)
	}
	o := coord.ApplyCreateOptions(opts)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	for _, parent := range coord.Parents(p) {
		if o.Parents {
			if _, err = tx.Exec(ctx,
				`INSERT INTO coord_nodes (path, parent) VALUES ($1, $2) ON CONFLICT (path) DO NOTHING`,
				parent, path.Dir(parent)); err != nil {
				return fmt.Errorf("create parent %s: %w", parent, err)
			}
			continue
		}
		var ok bool
		if err = tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM coord_nodes WHERE path = $1)`, parent).Scan(&ok); err != nil {
			return fmt.Errorf("check parent %s: %w", parent, err)
		}
		if !ok {
			return fmt.Errorf("create %s: parent %s: %w", p, parent, coord.ErrNoNode)
		}
	}

	if _, err = tx.Exec(ctx,
		`INSERT INTO coord_nodes (path, parent, data) VALUES ($1, $2, $3)`,
		p, path.Dir(p), data); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("create %s: %w", p, coord.ErrNodeExists)
		}
		return fmt.Errorf("create %s: %w", p, err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *NodeStore) Put(ctx context.Context, p string, data []byte) (err error) {
	if err := coord.ValidatePath(p); err != nil {
		return fmt.Errorf("put %s: %w", p, err)
	}
	if len(data) > s.maxPayload {
		return fmt.Errorf("put %s: payload %d bytes exceeds %d", p, len(data), s.maxPayload)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	for _, parent := range coord.Parents(p) {
		if _, err = tx.Exec(ctx,
			`INSERT INTO coord_nodes (path, parent) VALUES ($1, $2) ON CONFLICT (path) DO NOTHING`,
			parent, path.Dir(parent)); err != nil {
			return fmt.Errorf("put parent %s: %w", parent, err)
		}
	}

	if _, err = tx.Exec(ctx, `
		INSERT INTO coord_nodes (path, parent, data) VALUES ($1, $2, $3)
		ON CONFLICT (path) DO UPDATE
		SET data = EXCLUDED.data, version = coord_nodes.version + 1, updated_at = NOW()`,
		p, path.Dir(p), data); err != nil {
		return fmt.Errorf("put %s: %w", p, err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *NodeStore) Delete(ctx context.Context, p string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM coord_nodes WHERE path = $1`, p)
	if err != nil {
		return fmt.Errorf("delete %s: %w", p, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete %s: %w", p, coord.ErrNoNode)
	}
	return nil
}

func (s *NodeStore) Children(ctx context.Context, p string) ([]coord.Node, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT path, data, version, created_at
		FROM coord_nodes
		WHERE parent = $1
		ORDER BY path`, p)
	if err != nil {
		return nil, fmt.Errorf("children %s: %w", p, err)
	}
	defer rows.Close()

	var nodes []coord.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate children %s: %w", p, err)
	}
	return nodes, nil
}

// Watch pins a pooled connection, LISTENs on the trigger channel and forwards
// matching notifications. The channel closes when ctx ends or the connection fails.
func (s *NodeStore) Watch(ctx context.Context, prefix string) (<-chan coord.Event, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire watch conn: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", notifyChannel, err)
	}

	events := make(chan coord.Event, 64)
	go func() {
		defer close(events)
		defer conn.Release()

		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("watch connection lost", "prefix", prefix, "error", err)
				}
				return
			}
			ev, ok := parseNotification(n.Payload)
			if !ok {
				s.logger.Warn("malformed node notification", "payload", n.Payload)
				continue
			}
			if !coord.HasPrefix(prefix, ev.Path) {
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

func parseNotification(payload string) (coord.Event, bool) {
	op, p, ok := strings.Cut(payload, ":")
	if !ok {
		return coord.Event{}, false
	}
	switch typ := coord.EventType(op); typ {
	case coord.EventCreated, coord.EventUpdated, coord.EventDeleted:
		return coord.Event{Type: typ, Path: p}, true
	default:
		return coord.Event{}, false
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (coord.Node, error) {
	var n coord.Node
	if err := row.Scan(&n.Path, &n.Data, &n.Version, &n.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return coord.Node{}, coord.ErrNoNode
		}
		return coord.Node{}, fmt.Errorf("scan node: %w", err)
	}
	return n, nil
}
