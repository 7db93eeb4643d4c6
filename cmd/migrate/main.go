// Command migrate manages the database schema.
//
// Usage:
//
//	migrate [flags] up|down|status|seed
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"seatgrid.io/internal/migrate"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	dsn := fs.String("dsn", os.Getenv("SEATGRID_PG_DSN"), "postgres connection string")
	migrationsDir := fs.String("migrations", "migrations", "directory with .up.sql/.down.sql files")
	seedsDir := fs.String("seeds", "migrations/seeds", "directory with seed .sql files")
	if err := fs.Parse(args); err != nil {
		return err
	}
	command := fs.Arg(0)
	if command == "" {
		return fmt.Errorf("missing command: up, down, status or seed")
	}
	if *dsn == "" {
		return fmt.Errorf("no dsn: pass -dsn or set SEATGRID_PG_DSN")
	}

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	mgr := migrate.NewManager(db, *migrationsDir, *seedsDir)
	switch command {
	case "up":
		if err := mgr.Up(ctx); err != nil {
			return err
		}
		fmt.Println("migrations applied")
	case "down":
		if err := mgr.Down(ctx); err != nil {
			return err
		}
		fmt.Println("last migration rolled back")
	case "status":
		applied, err := mgr.Status(ctx)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Println("no migrations applied")
			return nil
		}
		for _, name := range applied {
			fmt.Println(name)
		}
	case "seed":
		if err := mgr.Seed(ctx); err != nil {
			return err
		}
		fmt.Println("seeds applied")
	default:
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}
