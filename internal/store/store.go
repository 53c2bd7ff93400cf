// Package store persists pipeline results in a single SQLite database.
//
// Two tables: dreams (one row per corpus record with its normalized phrase
// and cluster assignment) and clusters (one row per surviving cluster with
// its taxonomy path). The pipeline owns all writes and replaces the whole
// snapshot transactionally; readers (CLI, MCP server) only query.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hurttlocker/reverie/internal/cluster"
	"github.com/hurttlocker/reverie/internal/corpus"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.reverie/reverie.db"

// ClusterRow is one cluster as stored, with its size denormalized for
// cheap listing.
type ClusterRow struct {
	ID             int64
	Representative string
	Size           int
	Level1         string
	Level2         string
	Level3         string
	Classified     bool
}

// DreamRow is one corpus record as stored.
type DreamRow struct {
	ID         string
	RawTitle   string
	Author     string
	BirthDate  *time.Time
	Normalized string
	ClusterID  int64
}

// ListOpts controls pagination for ListClusters.
type ListOpts struct {
	Limit   int
	Offset  int
	MinSize int
}

// Stats summarizes what the database holds.
type Stats struct {
	DreamCount   int64
	ClusterCount int64
	Classified   int64
}

// Store is a SQLite-backed result store.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (and migrates) the database at path. Pass ":memory:" for
// tests.
func Open(path string) (*Store, error) {
	if path == "" {
		path = expandPath(DefaultDBPath)
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS dreams (
			post_id    TEXT PRIMARY KEY,
			raw_title  TEXT NOT NULL,
			author     TEXT,
			birth_date TEXT,
			normalized TEXT NOT NULL,
			cluster_id INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS clusters (
			id             INTEGER PRIMARY KEY,
			representative TEXT NOT NULL,
			size           INTEGER NOT NULL,
			level1         TEXT NOT NULL DEFAULT '',
			level2         TEXT NOT NULL DEFAULT '',
			level3         TEXT NOT NULL DEFAULT '',
			classified     INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE INDEX IF NOT EXISTS idx_dreams_cluster ON dreams(cluster_id)`,
		`CREATE INDEX IF NOT EXISTS idx_clusters_size ON clusters(size DESC)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing DDL: %w", err)
		}
	}
	return nil
}

// ReplaceSnapshot replaces the full contents of both tables in one
// transaction. The pipeline checkpoints full snapshots, so the store does
// the same; there is never a partial state to reconcile.
func (s *Store) ReplaceSnapshot(ctx context.Context, dreams []*corpus.Dream, clusters []*cluster.Cluster) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning snapshot tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM dreams"); err != nil {
		return fmt.Errorf("clearing dreams: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM clusters"); err != nil {
		return fmt.Errorf("clearing clusters: %w", err)
	}

	dreamStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO dreams (post_id, raw_title, author, birth_date, normalized, cluster_id)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing dream insert: %w", err)
	}
	defer dreamStmt.Close()

	for _, d := range dreams {
		var birth any
		if d.BirthDate != nil {
			birth = d.BirthDate.Format("2006-01-02")
		}
		if _, err := dreamStmt.ExecContext(ctx, d.ID, d.RawTitle, d.Author, birth, d.NormalizedPhrase, d.ClusterID); err != nil {
			return fmt.Errorf("inserting dream %s: %w", d.ID, err)
		}
	}

	clusterStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO clusters (id, representative, size, level1, level2, level3, classified)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing cluster insert: %w", err)
	}
	defer clusterStmt.Close()

	for _, c := range clusters {
		classified := 0
		if c.Classified {
			classified = 1
		}
		if _, err := clusterStmt.ExecContext(ctx, c.ID, c.Representative, c.Size(),
			c.Taxonomy.Level1, c.Taxonomy.Level2, c.Taxonomy.Level3, classified); err != nil {
			return fmt.Errorf("inserting cluster %d: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshot: %w", err)
	}
	return nil
}

// ListClusters returns clusters ordered by size descending, then ID.
func (s *Store) ListClusters(ctx context.Context, opts ListOpts) ([]*ClusterRow, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, representative, size, level1, level2, level3, classified
		 FROM clusters
		 WHERE size >= ?
		 ORDER BY size DESC, id ASC
		 LIMIT ? OFFSET ?`,
		opts.MinSize, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("listing clusters: %w", err)
	}
	defer rows.Close()

	var out []*ClusterRow
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetCluster returns one cluster and its member dreams.
func (s *Store) GetCluster(ctx context.Context, id int64) (*ClusterRow, []*DreamRow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, representative, size, level1, level2, level3, classified
		 FROM clusters WHERE id = ?`, id)
	c, err := scanCluster(row)
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("cluster %d not found", id)
	}
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT post_id, raw_title, author, birth_date, normalized, cluster_id
		 FROM dreams WHERE cluster_id = ? ORDER BY post_id`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("loading cluster %d members: %w", id, err)
	}
	defer rows.Close()

	var members []*DreamRow
	for rows.Next() {
		var d DreamRow
		var author, birth, normalized sql.NullString
		if err := rows.Scan(&d.ID, &d.RawTitle, &author, &birth, &normalized, &d.ClusterID); err != nil {
			return nil, nil, fmt.Errorf("scanning dream: %w", err)
		}
		d.Author = author.String
		d.Normalized = normalized.String
		if birth.Valid && birth.String != "" {
			if t, perr := time.Parse("2006-01-02", birth.String); perr == nil {
				d.BirthDate = &t
			}
		}
		members = append(members, &d)
	}
	return c, members, rows.Err()
}

// ListDreams returns every dream ordered by post ID.
func (s *Store) ListDreams(ctx context.Context) ([]*DreamRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT post_id, raw_title, author, birth_date, normalized, cluster_id
		 FROM dreams ORDER BY post_id`)
	if err != nil {
		return nil, fmt.Errorf("listing dreams: %w", err)
	}
	defer rows.Close()

	var out []*DreamRow
	for rows.Next() {
		var d DreamRow
		var author, birth, normalized sql.NullString
		if err := rows.Scan(&d.ID, &d.RawTitle, &author, &birth, &normalized, &d.ClusterID); err != nil {
			return nil, fmt.Errorf("scanning dream: %w", err)
		}
		d.Author = author.String
		d.Normalized = normalized.String
		if birth.Valid && birth.String != "" {
			if t, perr := time.Parse("2006-01-02", birth.String); perr == nil {
				d.BirthDate = &t
			}
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// Stats reports row counts.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM dreams").Scan(&st.DreamCount); err != nil {
		return nil, fmt.Errorf("counting dreams: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM clusters").Scan(&st.ClusterCount); err != nil {
		return nil, fmt.Errorf("counting clusters: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM clusters WHERE classified = 1").Scan(&st.Classified); err != nil {
		return nil, fmt.Errorf("counting classified clusters: %w", err)
	}
	return st, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanCluster(row scannable) (*ClusterRow, error) {
	var c ClusterRow
	var classified int
	if err := row.Scan(&c.ID, &c.Representative, &c.Size, &c.Level1, &c.Level2, &c.Level3, &classified); err != nil {
		return nil, err
	}
	c.Classified = classified == 1
	return &c, nil
}

// expandPath expands ~ to the home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
