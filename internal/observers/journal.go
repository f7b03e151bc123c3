package observers

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/Aman-CERP/anythingd/internal/observer"
)

// JournalEntry is one recorded event.
type JournalEntry struct {
	ID      int64
	Kind    observer.Kind
	Path    string
	OldPath string
	At      time.Time
}

// Journal appends events to a SQLite table.
type Journal struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// OpenJournal opens or creates the journal database at path.
func OpenJournal(path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	// Events arrive from a single executor; one connection is enough.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	j := &Journal{db: db, path: path, logger: logger, now: time.Now}
	if err := j.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	logger.Debug("journal opened", slog.String("path", path))
	return j, nil
}

func (j *Journal) initSchema() error {
	_, err := j.db.Exec(`
	CREATE TABLE IF NOT EXISTS events (
		id       INTEGER PRIMARY KEY AUTOINCREMENT,
		kind     TEXT    NOT NULL,
		path     TEXT    NOT NULL,
		old_path TEXT    NOT NULL DEFAULT '',
		at       INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_path ON events(path);
	`)
	return err
}

func (j *Journal) OnFileCreate(path string) error {
	return j.append(observer.Created, path, "")
}

func (j *Journal) OnFileDelete(path string) error {
	return j.append(observer.Deleted, path, "")
}

func (j *Journal) OnFileRename(oldPath, newPath string) error {
	return j.append(observer.Renamed, newPath, oldPath)
}

func (j *Journal) append(kind observer.Kind, path, oldPath string) error {
	_, err := j.db.Exec(
		"INSERT INTO events (kind, path, old_path, at) VALUES (?, ?, ?, ?)",
		kind.String(), path, oldPath, j.now().UnixNano())
	if err != nil {
		return fmt.Errorf("journal %s %s: %w", kind, path, err)
	}
	return nil
}

// Count returns the number of recorded events.
func (j *Journal) Count() (int, error) {
	var n int
	err := j.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&n)
	return n, err
}

// Recent returns up to limit events, newest first.
func (j *Journal) Recent(limit int) ([]JournalEntry, error) {
	rows, err := j.db.Query(
		"SELECT id, kind, path, old_path, at FROM events ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var (
			e    JournalEntry
			kind string
			at   int64
		)
		if err := rows.Scan(&e.ID, &kind, &e.Path, &e.OldPath, &at); err != nil {
			return nil, err
		}
		e.Kind = parseKind(kind)
		e.At = time.Unix(0, at)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Path returns the database file.
func (j *Journal) Path() string {
	return j.path
}

// Close checkpoints the WAL and closes the database.
func (j *Journal) Close() error {
	if _, err := j.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		j.logger.Debug("journal checkpoint failed", slog.String("error", err.Error()))
	}
	return j.db.Close()
}

func parseKind(s string) observer.Kind {
	for _, k := range []observer.Kind{observer.Created, observer.Deleted, observer.Renamed} {
		if k.String() == s {
			return k
		}
	}
	return observer.Kind(-1)
}
