// Package database provides SQLite connectivity and schema migrations for the
// campus auth store.
//
// This package manages:
//   - A single-connection pool with WAL mode, foreign keys and BEGIN IMMEDIATE
//     transactions, which serialises concurrent writers
//   - Embedded, versioned migrations (YYYYMMDD_HHMMSS_name.up.sql / .down.sql)
//   - The WithTx helper used by every multi-record write
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package database
