package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/osvaldoandrade/formq/pkg/persistence"

	_ "github.com/mattn/go-sqlite3"
)

// Config holds SQLite-specific configuration
type Config struct {
	Path string `json:"path"`
}

// Plugin implements PluginPersistence on a single SQLite database file.
type Plugin struct {
	db *sql.DB
	tz *time.Location
}

// NewPlugin opens (and migrates) the database at Config.Path.
func NewPlugin(config persistence.PluginConfig) (persistence.PluginPersistence, error) {
	var cfg Config
	if err := json.Unmarshal(config.Config, &cfg); err != nil {
		return nil, fmt.Errorf("sqlite persistence config: %w", err)
	}
	if strings.TrimSpace(cfg.Path) == "" {
		cfg.Path = "formq.db"
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	tz := config.Timezone
	if tz == nil {
		tz = time.UTC
	}
	p := &Plugin{db: db, tz: tz}
	if err := p.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return p, nil
}

func (p *Plugin) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		url TEXT,
		title TEXT NOT NULL DEFAULT '',
		questions TEXT NOT NULL DEFAULT '[]', -- JSON array of QuestionDef
		is_submitted INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tests_user ON tests(user_id);

	CREATE TABLE IF NOT EXISTS test_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		test_id INTEGER NOT NULL REFERENCES tests(id),
		user_id TEXT NOT NULL,
		job_id TEXT NOT NULL,
		run_content TEXT NOT NULL, -- JSON array of ResolvedAnswer
		llm_model TEXT,
		llm_attempts INTEGER NOT NULL DEFAULT 0,
		tokens INTEGER NOT NULL DEFAULT 0,
		llm_answering_time REAL NOT NULL DEFAULT 0,
		submitted_date TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_test_runs_job ON test_runs(job_id);
	CREATE INDEX IF NOT EXISTS idx_test_runs_user ON test_runs(user_id);

	CREATE TABLE IF NOT EXISTS documents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		test_id INTEGER NOT NULL REFERENCES tests(id),
		user_id TEXT NOT NULL,
		file_name TEXT NOT NULL,
		original_file_name TEXT NOT NULL,
		file_type TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		scope TEXT NOT NULL DEFAULT 'test',
		chunks INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_test ON documents(test_id, user_id);

	CREATE TABLE IF NOT EXISTS document_chunks (
		document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		chunk_index INTEGER NOT NULL,
		chunk_text TEXT NOT NULL,
		PRIMARY KEY (document_id, chunk_index)
	);
	`
	_, err := p.db.Exec(schema)
	return err
}

func (p *Plugin) TestStorage() persistence.TestStorage { return &testStorage{db: p.db, tz: p.tz} }
func (p *Plugin) RunStorage() persistence.RunStorage   { return &runStorage{db: p.db, tz: p.tz} }

func (p *Plugin) DocumentStorage() persistence.DocumentStorage {
	return &documentStorage{db: p.db, tz: p.tz}
}

func (p *Plugin) Health(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Plugin) Close() error {
	return p.db.Close()
}

func init() {
	persistence.RegisterProvider("sqlite", NewPlugin)
}
