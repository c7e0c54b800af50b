// schedctl seeds and inspects the schedule catalog stored in postgres.
//
//	schedctl seed
//	schedctl schedules list [--json]
//	schedctl schedules delete SCHEDULE_ID
//	schedctl token --subject ops --ttl 1h
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ErlanBelekov/workflow-scheduler/internal/cli"
	"github.com/ErlanBelekov/workflow-scheduler/internal/coord"
	"github.com/ErlanBelekov/workflow-scheduler/internal/infrastructure/postgres"
)

func openPostgres(ctx context.Context, databaseURL string) (coord.Store, func(), error) {
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		return nil, nil, errors.New("DATABASE_URL is not set")
	}

	pool, err := postgres.NewPool(ctx, databaseURL, 0)
	if err != nil {
		return nil, nil, err
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return postgres.NewNodeStore(pool, logger, coord.DefaultMaxPayload), pool.Close, nil
}

func main() {
	if err := cli.NewRootCmd(openPostgres, os.Stdout).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
