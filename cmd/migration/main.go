package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/pressly/goose/v3"
	"gitlab.com/dirk.krummacker/contact-directory/internal/config"
	"gitlab.com/dirk.krummacker/contact-directory/internal/store"
	"gitlab.com/dirk.krummacker/contact-directory/migrations"
)

// CLI is the command structure of the migration tool.
type CLI struct {
	Timeout time.Duration `help:"Time limit for the whole run." default:"1m"`

	Up      UpCmd      `cmd:"" default:"1" help:"Apply all pending migrations."`
	Down    DownCmd    `cmd:"" help:"Roll back the most recent migration."`
	Status  StatusCmd  `cmd:"" help:"List all migrations and whether they are applied."`
	Version VersionCmd `cmd:"" help:"Print the current schema version."`
}

// UpCmd applies all pending migrations.
type UpCmd struct{}

func (c *UpCmd) Run(ctx context.Context, p *goose.Provider) error {
	results, err := p.Up(ctx)
	if err != nil {
		return fmt.Errorf("up: %w", err)
	}
	if len(results) == 0 {
		fmt.Println("no pending migrations")
	}
	for _, r := range results {
		fmt.Printf("applied %s in %s\n", r.Source.Path, r.Duration)
	}
	return nil
}

// DownCmd rolls back the most recent migration.
type DownCmd struct{}

func (c *DownCmd) Run(ctx context.Context, p *goose.Provider) error {
	r, err := p.Down(ctx)
	if err != nil {
		return fmt.Errorf("down: %w", err)
	}
	fmt.Printf("rolled back %s in %s\n", r.Source.Path, r.Duration)
	return nil
}

// StatusCmd lists all migrations.
type StatusCmd struct{}

func (c *StatusCmd) Run(ctx context.Context, p *goose.Provider) error {
	statuses, err := p.Status(ctx)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	for _, s := range statuses {
		applied := "-"
		if !s.AppliedAt.IsZero() {
			applied = s.AppliedAt.Format(time.RFC3339)
		}
		fmt.Printf("%5d  %-8s  %-25s  %s\n", s.Source.Version, s.State, applied, s.Source.Path)
	}
	return nil
}

// VersionCmd prints the current schema version.
type VersionCmd struct{}

func (c *VersionCmd) Run(ctx context.Context, p *goose.Provider) error {
	v, err := p.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("version: %w", err)
	}
	fmt.Println(v)
	return nil
}

// Usage example on the command line:
// > DBHOST=localhost DBUSER=dirk DBPWD=bullo92 go run main.go up
func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("migration"),
		kong.Description("Manages the schema of the contacts database."),
	)

	cfg, err := config.Load()
	if err != nil {
		fail(err)
	}
	if !cfg.Database.Enabled() {
		fail(fmt.Errorf("DBHOST is not set"))
	}

	sqlDB, err := store.OpenMySQL(cfg.Database)
	if err != nil {
		fail(err)
	}
	defer sqlDB.Close()

	provider, err := newProvider(sqlDB)
	if err != nil {
		fail(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cli.Timeout)
	defer cancel()
	kctx.BindTo(ctx, (*context.Context)(nil))
	kctx.Bind(provider)
	if err := kctx.Run(); err != nil {
		sqlDB.Close()
		fail(err)
	}
}

// newProvider reads the migrations embedded in the binary.
func newProvider(sqlDB *sql.DB) (*goose.Provider, error) {
	p, err := goose.NewProvider(goose.DialectMySQL, sqlDB, migrations.FS)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return p, nil
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %s\n", err)
	os.Exit(1)
}
