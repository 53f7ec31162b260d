package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/openfathom/scanward/internal/config"
	"github.com/openfathom/scanward/internal/db"
)

// DatabaseOperation represents a function that operates on a database connection.
type DatabaseOperation func(*db.DB) error

// withDatabase executes the given operation with a database connection.
// It handles all database setup and cleanup, returning any errors that occur.
func withDatabase(operation DatabaseOperation) error {
	cfg, err := config.Load(getConfigFilePath())
	if err != nil {
		return fmt.Errorf("error loading config: %v", err)
	}

	dbConfig := cfg.GetDatabaseConfig()
	database, err := db.Connect(context.Background(), &dbConfig)
	if err != nil {
		return fmt.Errorf("error connecting to database: %v", err)
	}

	defer func() {
		if closeErr := database.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close database connection: %v\n", closeErr)
		}
	}()

	return operation(database)
}

// withDatabaseOrExit executes the given operation with a database
// connection and exits the program if any errors occur.
func withDatabaseOrExit(operation DatabaseOperation) {
	if err := withDatabase(operation); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// withStore executes the given operation with a task store bound to a
// fresh database connection. This is the preferred helper for task
// management commands.
func withStore(operation func(*db.Store) error) error {
	return withDatabase(func(database *db.DB) error {
		return operation(db.NewStore(database))
	})
}

// withStoreOrExit executes the given operation with a task store and
// exits the program if any errors occur. This is suitable for CLI
// commands that should terminate on database errors.
func withStoreOrExit(operation func(*db.Store) error) {
	if err := withStore(operation); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
