package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"nuclight.org/video-relay-bot/app/storage"
	"nuclight.org/video-relay-bot/pkg/logger"
)

var opts struct {
	DBPath    string `long:"db-path" env:"DB_PATH" required:"true" description:"path to the sqlite database file"`
	UsersFile string `short:"f" long:"users-file" env:"USERS_FILE" default:"users.json" description:"legacy users file to import"`
}

func main() {
	_, err := flags.Parse(&opts)
	if err != nil {
		os.Exit(1)
	}

	log := logger.NewLogger()
	log.Info("starting import", "file", opts.UsersFile)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, log); err != nil {
		log.Error("importing users", "error", err)
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, log logger.Logger) (err error) {
	db, err := storage.NewSQLite(ctx, opts.DBPath)
	if err != nil {
		return fmt.Errorf("creating sqlite3 database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("closing sqlite3 database", "error", closeErr)
		}
	}()

	f, err := os.Open(opts.UsersFile)
	if err != nil {
		return fmt.Errorf("opening users file: %w", err)
	}
	defer func() { _ = f.Close() }()

	imported, err := db.ImportUsers(ctx, f)
	if err != nil {
		return err
	}

	total, err := db.CountUsers(ctx)
	if err != nil {
		return fmt.Errorf("counting users: %w", err)
	}

	log.Info("done", "imported", imported, "total", total)

	return nil
}
