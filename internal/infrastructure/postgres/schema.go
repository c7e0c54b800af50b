package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const notifyChannel = "coord_nodes"

// migrateLockName keys the advisory lock held while the schema is applied.
const migrateLockName = "coord_nodes/migrate"

const schema = `
CREATE TABLE IF NOT EXISTS coord_nodes (
	path       TEXT        PRIMARY KEY,
	parent     TEXT        NOT NULL,
	data       BYTEA,
	version    BIGINT      NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS coord_nodes_parent_idx ON coord_nodes (parent);

CREATE OR REPLACE FUNCTION coord_nodes_notify() RETURNS trigger AS $$
BEGIN
	IF TG_OP = 'DELETE' THEN
		PERFORM pg_notify('coord_nodes', 'deleted:' || OLD.path);
		RETURN OLD;
	ELSIF TG_OP = 'UPDATE' THEN
		PERFORM pg_notify('coord_nodes', 'updated:' || NEW.path);
	ELSE
		PERFORM pg_notify('coord_nodes', 'created:' || NEW.path);
	END IF;
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS coord_nodes_notify ON coord_nodes;
CREATE TRIGGER coord_nodes_notify
	AFTER INSERT OR UPDATE OR DELETE ON coord_nodes
	FOR EACH ROW EXECUTE FUNCTION coord_nodes_notify();
`

// Migrate creates the node table and its change-notification trigger.
// It is safe to run on every start; concurrent callers are serialized on a
// transaction-scoped advisory lock.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryKey(migrateLockName)); err != nil {
			return fmt.Errorf("lock: %w", err)
		}
		_, err := tx.Exec(ctx, schema)
		return err
	})
	if err != nil {
		return fmt.Errorf("migrate coord schema: %w", err)
	}
	return nil
}
