// Package store persists books and their analysis in SQLite.
package store

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	_ "modernc.org/sqlite"

	"inkwell/pkg/schema"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var ErrNotFound = errors.New("not found")

// Repository is the persistence surface used by the pipeline and the server.
type Repository interface {
	CreateBook(ctx context.Context, b *schema.Book) error
	GetBook(ctx context.Context, id int64) (*schema.Book, error)
	ListBooks(ctx context.Context) ([]*schema.Book, error)
	SetBookStatus(ctx context.Context, id int64, status, errMsg string) error
	SetBookStyle(ctx context.Context, id int64, style string) error
	DeleteBook(ctx context.Context, id int64) error

	ReplaceChunks(ctx context.Context, bookID int64, chunks []schema.Chunk) error
	Chunks(ctx context.Context, bookID int64) ([]schema.Chunk, error)
	ReplaceChunkAnalyses(ctx context.Context, bookID int64, analyses []schema.ChunkAnalysis) error
	ChunkAnalyses(ctx context.Context, bookID int64) ([]schema.ChunkAnalysis, error)

	ReplaceEntities(ctx context.Context, bookID int64, entityType string, entities []schema.Entity) error
	UpdateEntityVisuals(ctx context.Context, entityType string, id int64, ont *schema.EntityOntology, tokens *schema.EntityVisualTokens) error
	Entities(ctx context.Context, bookID int64, entityType string, mainOnly bool) ([]schema.Entity, error)

	ReplaceScenes(ctx context.Context, bookID int64, scenes []schema.Scene) error
	Scenes(ctx context.Context, bookID int64) ([]schema.Scene, error)
	GetScene(ctx context.Context, bookID, sceneID int64) (schema.Scene, error)
	UpdateScene(ctx context.Context, bookID, sceneID int64, p ScenePatch) (schema.Scene, error)

	RateEngine(ctx context.Context, bookID int64, provider, action string) (schema.EngineRating, error)
	ListEngineRatings(ctx context.Context, bookID int64) ([]schema.EngineRating, error)
	EngineRatings(ctx context.Context, bookID int64) (map[string]int, error)

	AddReferenceImage(ctx context.Context, img *schema.ReferenceImage) (bool, error)
	ReferenceImages(ctx context.Context, entityType string, entityID int64) ([]schema.ReferenceImage, error)
	SelectReferenceImage(ctx context.Context, id int64, selected bool) error
	TrimReferenceImages(ctx context.Context, entityType string, entityID int64, keep int) (int64, error)
}

var _ Repository = (*DB)(nil)

type DB struct {
	conn *sql.DB
	log  *log.Logger
}

// Open opens or creates the database at path and applies pending migrations.
// ":memory:" opens a private in-memory database.
func Open(path string, logger *log.Logger) (*DB, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	db := &DB{conn: conn, log: cmp.Or(logger, log.Default())}
	if _, err := db.Migrate(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) Conn() *sql.DB {
	return d.conn
}

// Migrate applies every embedded migration not yet recorded in _migrations
// and returns the names it applied.
func (d *DB) Migrate(ctx context.Context) ([]string, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	var applied []string
	for _, m := range entries {
		name := m.Name()
		if m.IsDir() || !strings.HasSuffix(name, ".sql") || d.isApplied(ctx, name) {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return applied, fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := d.conn.ExecContext(ctx, string(content)); err != nil {
			return applied, fmt.Errorf("execute migration %s: %w", name, err)
		}
		if _, err := d.conn.ExecContext(ctx, "INSERT INTO _migrations (name) VALUES (?)", name); err != nil {
			return applied, fmt.Errorf("record migration %s: %w", name, err)
		}
		d.log.Info("applied migration", "name", name)
		applied = append(applied, name)
	}
	return applied, nil
}

func (d *DB) isApplied(ctx context.Context, name string) bool {
	var exists int
	if err := d.conn.QueryRowContext(ctx, "SELECT 1 FROM sqlite_master WHERE type='table' AND name='_migrations'").Scan(&exists); err != nil {
		return false
	}
	var applied int
	err := d.conn.QueryRowContext(ctx, "SELECT 1 FROM _migrations WHERE name = ?", name).Scan(&applied)
	return err == nil && applied == 1
}

// inTx runs fn in a transaction, rolling back on error.
func (d *DB) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}
