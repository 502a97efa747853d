// Package library is the durable record of ingested resources and the
// exclusive owner of their artifact files.
//
// Layout under the library root:
//
//	library.db            one row per resource
//	resources/<id>/...    artifacts owned by the resource
//	.staging/<job id>/    job-private work areas, invisible to List
//	.trash/               directories being deleted
package library

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"friday/internal/domain"
	"friday/internal/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS resources (
	seq              INTEGER PRIMARY KEY AUTOINCREMENT,
	id               TEXT NOT NULL UNIQUE,
	kind             TEXT NOT NULL,
	title            TEXT NOT NULL,
	source           TEXT NOT NULL,
	primary_artifact TEXT NOT NULL DEFAULT '',
	assets           TEXT NOT NULL DEFAULT '[]',
	vector_index     TEXT NOT NULL DEFAULT '',
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL
);`

const (
	resourcesDir = "resources"
	stagingDir   = ".staging"
	trashDir     = ".trash"
	dbFile       = "library.db"
)

// Store persists resources in SQLite and their artifacts on disk.
type Store struct {
	root   string
	db     *sql.DB
	logger *logging.Logger
	now    func() time.Time

	// mu serializes Create and Delete so directory moves and row changes
	// never interleave.
	mu sync.Mutex
}

// Open prepares the library root, migrates the index and sweeps leftovers
// from a previous crash.
func Open(ctx context.Context, root string, logger *logging.Logger) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, domain.Validationf("library path is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve library path: %w", err)
	}
	for _, dir := range []string{abs, filepath.Join(abs, resourcesDir), filepath.Join(abs, stagingDir), filepath.Join(abs, trashDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	dsn := "file:" + filepath.Join(abs, dbFile) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open library index: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate library index: %w", err)
	}

	s := &Store{
		root:   abs,
		db:     db,
		logger: logger.With("component", "library"),
		now:    time.Now,
	}
	if err := s.sweep(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Root returns the absolute library root.
func (s *Store) Root() string {
	return s.root
}

// Close releases the index.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create atomically materializes res: the staging directory becomes the
// resource directory and the row is inserted, or nothing is visible.
// Artifact paths in res must point inside staging.
func (s *Store) Create(ctx context.Context, res domain.Resource, staging *Staging) (domain.Resource, error) {
	if err := validateResource(res); err != nil {
		return domain.Resource{}, err
	}
	if staging == nil || staging.consumed {
		return domain.Resource{}, domain.InternalError(nil, "resource %s has no staging area", res.ID)
	}

	primary, err := relativeArtifact(staging.dir, res.PrimaryArtifact)
	if err != nil {
		return domain.Resource{}, err
	}
	assets := make([]string, 0, len(res.Assets))
	for _, asset := range res.Assets {
		rel, err := relativeArtifact(staging.dir, asset)
		if err != nil {
			return domain.Resource{}, err
		}
		assets = append(assets, rel)
	}
	assetsJSON, err := json.Marshal(assets)
	if err != nil {
		return domain.Resource{}, domain.InternalError(err, "encode assets")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM resources WHERE id = ?`, res.ID).Scan(&exists)
	if err != nil {
		return domain.Resource{}, domain.IOError(err, "query library index")
	}
	if exists > 0 {
		return domain.Resource{}, domain.InternalError(nil, "resource %s already exists", res.ID)
	}

	finalDir := s.resourceDir(res.ID)
	if _, err := os.Stat(finalDir); err == nil {
		return domain.Resource{}, domain.InternalError(nil, "resource directory %s already exists", finalDir)
	}
	if err := os.Rename(staging.dir, finalDir); err != nil {
		return domain.Resource{}, domain.IOError(err, "move artifacts into library")
	}

	now := s.now().UTC().Round(0)
	res.CreatedAt = now
	res.UpdatedAt = now

	if err := s.insert(ctx, res, primary, string(assetsJSON)); err != nil {
		if restoreErr := os.Rename(finalDir, staging.dir); restoreErr != nil {
			s.logger.Error("restore staging after failed insert", "resource_id", res.ID, "error", restoreErr)
			_ = os.RemoveAll(finalDir)
		}
		return domain.Resource{}, err
	}
	staging.consumed = true

	res.PrimaryArtifact = s.absArtifact(res.ID, primary)
	res.Assets = s.absArtifacts(res.ID, assets)
	s.logger.Info("resource created", "resource_id", res.ID, "kind", res.Kind, "assets", len(assets))
	return res, nil
}

func (s *Store) insert(ctx context.Context, res domain.Resource, primary, assets string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.IOError(err, "begin library transaction")
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO resources (id, kind, title, source, primary_artifact, assets, vector_index, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, string(res.Kind), res.Title, res.Source, primary, assets, res.VectorIndex,
		formatTime(res.CreatedAt), formatTime(res.UpdatedAt),
	)
	if err != nil {
		return domain.IOError(err, "insert resource %s", res.ID)
	}
	if err := tx.Commit(); err != nil {
		return domain.IOError(err, "commit resource %s", res.ID)
	}
	return nil
}

// List returns every resource in insertion order.
func (s *Store) List(ctx context.Context) ([]domain.Resource, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, title, source, primary_artifact, assets, vector_index, created_at, updated_at
		FROM resources ORDER BY seq ASC`)
	if err != nil {
		return nil, domain.IOError(err, "list resources")
	}
	defer rows.Close()

	out := []domain.Resource{}
	for rows.Next() {
		res, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.IOError(err, "list resources")
	}
	return out, nil
}

// Get returns one resource by id.
func (s *Store) Get(ctx context.Context, id string) (domain.Resource, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, title, source, primary_artifact, assets, vector_index, created_at, updated_at
		FROM resources WHERE id = ?`, id)
	res, err := s.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Resource{}, domain.NotFoundf("resource %s not found", id)
	}
	return res, err
}

// Delete removes the record and its artifacts. Either both disappear or
// neither does.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	dir := s.resourceDir(id)
	trash := filepath.Join(s.root, trashDir, fmt.Sprintf("%s-%d", id, s.now().UnixNano()))
	moved := false
	if _, err := os.Stat(dir); err == nil {
		if err := os.Rename(dir, trash); err != nil {
			return domain.IOError(err, "move resource %s to trash", id)
		}
		moved = true
	}

	restore := func() {
		if !moved {
			return
		}
		if err := os.Rename(trash, dir); err != nil {
			s.logger.Error("restore resource after failed delete", "resource_id", id, "error", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		restore()
		return domain.IOError(err, "begin library transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM resources WHERE id = ?`, id); err != nil {
		restore()
		return domain.IOError(err, "delete resource %s", id)
	}
	if err := tx.Commit(); err != nil {
		restore()
		return domain.IOError(err, "commit delete %s", id)
	}

	if moved {
		if err := os.RemoveAll(trash); err != nil {
			// The record is gone and the files are out of the library tree;
			// the next Open purges the trash.
			s.logger.Warn("purge deleted artifacts", "resource_id", id, "error", err)
		}
	}
	s.logger.Info("resource deleted", "resource_id", id)
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scan(row scanner) (domain.Resource, error) {
	var (
		res                  domain.Resource
		kind, primary        string
		assetsJSON           string
		createdAt, updatedAt string
	)
	err := row.Scan(&res.ID, &kind, &res.Title, &res.Source, &primary, &assetsJSON, &res.VectorIndex, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Resource{}, err
		}
		return domain.Resource{}, domain.IOError(err, "read resource row")
	}
	res.Kind = domain.ResourceKind(kind)

	var assets []string
	if err := json.Unmarshal([]byte(assetsJSON), &assets); err != nil {
		return domain.Resource{}, domain.InternalError(err, "decode assets of %s", res.ID)
	}
	res.PrimaryArtifact = s.absArtifact(res.ID, primary)
	res.Assets = s.absArtifacts(res.ID, assets)

	if res.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Resource{}, domain.InternalError(err, "decode created_at of %s", res.ID)
	}
	if res.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return domain.Resource{}, domain.InternalError(err, "decode updated_at of %s", res.ID)
	}
	return res, nil
}

// sweep removes staging and trash leftovers and resource directories that
// never got a row.
func (s *Store) sweep(ctx context.Context) error {
	for _, dir := range []string{stagingDir, trashDir} {
		entries, err := os.ReadDir(filepath.Join(s.root, dir))
		if err != nil {
			return fmt.Errorf("read %s: %w", dir, err)
		}
		for _, entry := range entries {
			path := filepath.Join(s.root, dir, entry.Name())
			if err := os.RemoveAll(path); err != nil {
				s.logger.Warn("sweep leftover", "path", path, "error", err)
			}
		}
	}

	known := map[string]bool{}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM resources`)
	if err != nil {
		return fmt.Errorf("sweep: list ids: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("sweep: scan id: %w", err)
		}
		known[id] = true
	}
	rows.Close()

	entries, err := os.ReadDir(filepath.Join(s.root, resourcesDir))
	if err != nil {
		return fmt.Errorf("read resources: %w", err)
	}
	for _, entry := range entries {
		if known[entry.Name()] {
			continue
		}
		path := filepath.Join(s.root, resourcesDir, entry.Name())
		s.logger.Warn("removing orphaned resource directory", "path", path)
		_ = os.RemoveAll(path)
	}
	return nil
}

func (s *Store) resourceDir(id string) string {
	return filepath.Join(s.root, resourcesDir, id)
}

func (s *Store) absArtifact(id, rel string) string {
	if rel == "" {
		return ""
	}
	return filepath.Join(s.resourceDir(id), filepath.FromSlash(rel))
}

func (s *Store) absArtifacts(id string, rels []string) []string {
	out := make([]string, 0, len(rels))
	for _, rel := range rels {
		out = append(out, s.absArtifact(id, rel))
	}
	return out
}

func validateResource(res domain.Resource) error {
	switch {
	case strings.TrimSpace(res.ID) == "":
		return domain.InternalError(nil, "resource id is required")
	case strings.ContainsAny(res.ID, `/\`) || res.ID == "." || res.ID == "..":
		return domain.InternalError(nil, "resource id %q is not a valid directory name", res.ID)
	case !res.Kind.Valid():
		return domain.InternalError(nil, "resource kind %q is invalid", res.Kind)
	case strings.TrimSpace(res.Source) == "":
		return domain.InternalError(nil, "resource source is required")
	}
	return nil
}

// relativeArtifact converts an absolute staging path into a slash-separated
// path relative to the staging root and checks it exists.
func relativeArtifact(stagingDir, path string) (string, error) {
	if path == "" {
		return "", nil
	}
	rel, err := filepath.Rel(stagingDir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return "", domain.InternalError(err, "artifact %s is outside the staging area", path)
	}
	if _, err := os.Stat(path); err != nil {
		return "", domain.InternalError(err, "artifact %s is missing", path)
	}
	return filepath.ToSlash(rel), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, raw)
}
