// Package database provides SQLite storage for scardbridge.
//
// The bridge keeps one table of its own, the IRP completion journal, but
// the package stays generic: it opens the database with WAL mode and a
// busy timeout, and applies versioned migrations from any fs.FS.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql. Each one is applied in its own transaction
// and recorded in schema_migrations.
package database
