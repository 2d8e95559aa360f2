// Команда migrate применяет и откатывает миграции схемы PostgreSQL.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
	envPostgresDSN = "SHOP_POSTGRES_DSN"
)

// schema реализуется *postgres.Store.
type schema interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationState(ctx context.Context) (postgres.MigrationState, error)
	Close() error
}

type command struct {
	direction string
	steps     int
	dsn       string
}

// openSchema подменяется в тестах.
var openSchema = func(ctx context.Context, dsn string) (schema, error) {
	return postgres.Open(ctx, dsn)
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Getenv, os.Stdout); err != nil {
		cancel()
		fail("migrate: %v", err)
	}
}

func parseCommand(args []string, getenv func(string) string) (command, error) {
	var cmd command
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.StringVar(&cmd.direction, "direction", "up", "up, down or status")
	fs.IntVar(&cmd.steps, "steps", 0, "migrations to apply or roll back; 0 applies all up, rolls back one down")
	fs.StringVar(&cmd.dsn, "dsn", "", "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	if err := fs.Parse(args); err != nil {
		return command{}, err
	}

	cmd.direction = strings.ToLower(strings.TrimSpace(cmd.direction))
	switch cmd.direction {
	case "up", "down", "status":
	default:
		return command{}, fmt.Errorf("unsupported direction %q (use up|down|status)", cmd.direction)
	}
	if cmd.steps < 0 {
		return command{}, errors.New("steps must be >= 0")
	}

	cmd.dsn = strings.TrimSpace(cmd.dsn)
	if cmd.dsn == "" {
		cmd.dsn = strings.TrimSpace(getenv(envPostgresDSN))
	}
	if cmd.dsn == "" {
		return command{}, fmt.Errorf("%s (or -dsn) is required", envPostgresDSN)
	}
	return cmd, nil
}

func run(ctx context.Context, args []string, getenv func(string) string, out io.Writer) error {
	cmd, err := parseCommand(args, getenv)
	if err != nil {
		return err
	}

	store, err := openSchema(ctx, cmd.dsn)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer func() { _ = store.Close() }()

	label := "migration status"
	switch cmd.direction {
	case "up":
		if err := store.MigrateUp(ctx, cmd.steps); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		label = "migrate up ok"
	case "down":
		if err := store.MigrateDown(ctx, cmd.steps); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		label = "migrate down ok"
	}

	state, err := store.MigrationState(ctx)
	if err != nil {
		return fmt.Errorf("migration state: %w", err)
	}
	_, err = fmt.Fprintln(out, formatState(label, state))
	return err
}

func formatState(label string, state postgres.MigrationState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: version=%d applied=%d pending=%d", label, state.Version, state.Applied, len(state.Pending))
	if len(state.Pending) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(state.Pending, ", "))
	}
	return b.String()
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
