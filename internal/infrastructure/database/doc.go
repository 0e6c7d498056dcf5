// Package database provides SQLite connectivity for RV-Link Core.
//
// This package manages:
//   - Database connection with busy timeout and foreign keys enabled
//   - Idempotent schema application
//   - Health checks for the lifecycle manager
//
// The only consumer in this core is the diagnostics store, which defaults
// to an in-memory database (database.MemoryPath). The core deliberately
// persists nothing across restarts; a file-backed path is supported for
// bench debugging only.
//
// # Usage
//
//	db, err := database.Open(database.Config{Path: database.MemoryPath, BusyTimeout: 5})
//	if err != nil {
//	    return fmt.Errorf("opening database: %w", err)
//	}
//	defer db.Close()
package database
