package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"git.home.luguber.info/inful/stalagmite/internal/content"
	"git.home.luguber.info/inful/stalagmite/internal/page"
	_ "modernc.org/sqlite"
)

// Record is one cached artifact. Markdown is set for markdown pages only.
type Record struct {
	Route    string
	Digest   content.Digest
	Rendered string
	Markdown *page.Markdown
}

// Store is the SQLite backed cache. Reads run concurrently; writes are
// serialised in-process so callers never see SQLITE_BUSY.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates the cache database at path. ":memory:" gives a
// private in-memory database.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pages (
		route TEXT PRIMARY KEY,
		digest TEXT NOT NULL,
		rendered TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS markdowns (
		route TEXT PRIMARY KEY,
		parent_group TEXT NOT NULL,
		digest TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		frontmatter TEXT NOT NULL,
		blocks TEXT NOT NULL,
		rendered TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_markdowns_group ON markdowns(parent_group, timestamp, route);
	CREATE TABLE IF NOT EXISTS assets (
		name TEXT PRIMARY KEY,
		digest TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS checkpoint (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		touched INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS rules_files (
		path TEXT PRIMARY KEY
	);
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		outcome TEXT
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

// Restore returns the record for route if its stored digest equals digest.
func (s *Store) Restore(ctx context.Context, route string, digest content.Digest) (*Record, bool, error) {
	var fm, blocks, rendered string
	err := s.db.QueryRowContext(ctx,
		"SELECT frontmatter, blocks, rendered FROM markdowns WHERE route = ? AND digest = ?",
		route, digest.String(),
	).Scan(&fm, &blocks, &rendered)
	switch {
	case err == nil:
		md, err := decodeMarkdown(fm, blocks)
		if err != nil {
			return nil, false, fmt.Errorf("restore %s: %w", route, err)
		}
		return &Record{Route: route, Digest: digest, Rendered: rendered, Markdown: md}, true, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, false, fmt.Errorf("restore %s: %w", route, err)
	}

	err = s.db.QueryRowContext(ctx,
		"SELECT rendered FROM pages WHERE route = ? AND digest = ?",
		route, digest.String(),
	).Scan(&rendered)
	switch {
	case err == nil:
		return &Record{Route: route, Digest: digest, Rendered: rendered}, true, nil
	case errors.Is(err, sql.ErrNoRows):
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("restore %s: %w", route, err)
	}
}

// Commit upserts rec. A route lives in exactly one table, so committing a
// markdown record removes any plain page row for the route and vice versa.
func (s *Store) Commit(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("commit %s: begin: %w", rec.Route, err)
	}
	defer func() { _ = tx.Rollback() }()

	if rec.Markdown != nil {
		fm, blocks, err := encodeMarkdown(rec.Markdown)
		if err != nil {
			return fmt.Errorf("commit %s: %w", rec.Route, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM pages WHERE route = ?", rec.Route); err != nil {
			return fmt.Errorf("commit %s: %w", rec.Route, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO markdowns (route, parent_group, digest, timestamp, frontmatter, blocks, rendered)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(route) DO UPDATE SET
				parent_group = excluded.parent_group,
				digest = excluded.digest,
				timestamp = excluded.timestamp,
				frontmatter = excluded.frontmatter,
				blocks = excluded.blocks,
				rendered = excluded.rendered`,
			rec.Route, content.ParentGroup(rec.Route), rec.Digest.String(),
			rec.Markdown.FrontMatter.Timestamp.UnixNano(), fm, blocks, rec.Rendered,
		)
		if err != nil {
			return fmt.Errorf("commit %s: %w", rec.Route, err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, "DELETE FROM markdowns WHERE route = ?", rec.Route); err != nil {
			return fmt.Errorf("commit %s: %w", rec.Route, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO pages (route, digest, rendered) VALUES (?, ?, ?)
			ON CONFLICT(route) DO UPDATE SET digest = excluded.digest, rendered = excluded.rendered`,
			rec.Route, rec.Digest.String(), rec.Rendered,
		)
		if err != nil {
			return fmt.Errorf("commit %s: %w", rec.Route, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", rec.Route, err)
	}
	return nil
}

// GroupCount returns the number of markdown pages whose parent group is parent.
func (s *Store) GroupCount(ctx context.Context, parent string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM markdowns WHERE parent_group = ?", parent,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count group %s: %w", parent, err)
	}
	return n, nil
}

// FetchPage returns up to limit markdown records of a group in timestamp
// order, skipping offset. Route breaks timestamp ties.
func (s *Store) FetchPage(ctx context.Context, parent string, limit, offset int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT route, digest, frontmatter, blocks, rendered FROM markdowns
		WHERE parent_group = ?
		ORDER BY timestamp ASC, route ASC
		LIMIT ? OFFSET ?`, parent, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("fetch group %s: %w", parent, err)
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var route, digest, fm, blocks, rendered string
		if err := rows.Scan(&route, &digest, &fm, &blocks, &rendered); err != nil {
			return nil, fmt.Errorf("scan group %s: %w", parent, err)
		}
		d, err := content.ParseDigest(digest)
		if err != nil {
			return nil, err
		}
		md, err := decodeMarkdown(fm, blocks)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", route, err)
		}
		out = append(out, Record{Route: route, Digest: d, Rendered: rendered, Markdown: md})
	}
	return out, rows.Err()
}

// Prune deletes page and markdown rows whose route is not in live and
// returns how many were removed.
func (s *Store) Prune(ctx context.Context, live map[string]struct{}) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []string
	for _, table := range []string{"pages", "markdowns"} {
		routes, err := s.routes(ctx, table)
		if err != nil {
			return 0, err
		}
		for _, r := range routes {
			if _, ok := live[r]; !ok {
				stale = append(stale, r)
			}
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("prune: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, r := range stale {
		for _, q := range []string{"DELETE FROM pages WHERE route = ?", "DELETE FROM markdowns WHERE route = ?"} {
			if _, err := tx.ExecContext(ctx, q, r); err != nil {
				return 0, fmt.Errorf("prune %s: %w", r, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	return len(stale), nil
}

func (s *Store) routes(ctx context.Context, table string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT route FROM "+table)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("list %s: %w", table, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CheckLatestTemplateModified compares latest with the stored checkpoint. If
// latest is newer, or no checkpoint exists, the checkpoint is moved forward
// and true is returned. A zero latest means no template source exists and
// leaves the checkpoint untouched.
func (s *Store) CheckLatestTemplateModified(ctx context.Context, latest time.Time) (bool, error) {
	if latest.IsZero() {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var touched int64
	err := s.db.QueryRowContext(ctx, "SELECT touched FROM checkpoint WHERE id = 1").Scan(&touched)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return false, fmt.Errorf("read checkpoint: %w", err)
	case latest.UnixNano() <= touched:
		return false, nil
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoint (id, touched) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET touched = excluded.touched`, latest.UnixNano()); err != nil {
		return false, fmt.Errorf("write checkpoint: %w", err)
	}
	return true, nil
}

// CheckRulesFiles records the set of rules file paths and reports whether it
// differs from the previously recorded set. Order of paths is irrelevant.
// A deleted rules file does not move any mtime, so the set is tracked apart
// from the template checkpoint.
func (s *Store) CheckRulesFiles(ctx context.Context, paths []string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin rules files: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, "SELECT path FROM rules_files")
	if err != nil {
		return false, fmt.Errorf("list rules files: %w", err)
	}
	stored := map[string]struct{}{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			_ = rows.Close()
			return false, fmt.Errorf("list rules files: %w", err)
		}
		stored[p] = struct{}{}
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("list rules files: %w", err)
	}

	current := make(map[string]struct{}, len(paths))
	changed := false
	for _, p := range paths {
		current[p] = struct{}{}
		if _, ok := stored[p]; !ok {
			changed = true
		}
	}
	if len(current) != len(stored) {
		changed = true
	}
	if !changed {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM rules_files"); err != nil {
		return false, fmt.Errorf("reset rules files: %w", err)
	}
	for p := range current {
		if _, err := tx.ExecContext(ctx, "INSERT INTO rules_files (path) VALUES (?)", p); err != nil {
			return false, fmt.Errorf("record rules file %s: %w", p, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit rules files: %w", err)
	}
	return true, nil
}

// CheckAssetChanged records digest for name and reports whether it differs
// from the last recorded one. Unknown assets count as changed.
func (s *Store) CheckAssetChanged(ctx context.Context, name string, digest content.Digest) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stored string
	err := s.db.QueryRowContext(ctx, "SELECT digest FROM assets WHERE name = ?", name).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return false, fmt.Errorf("read asset %s: %w", name, err)
	case stored == digest.String():
		return false, nil
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO assets (name, digest) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET digest = excluded.digest`, name, digest.String()); err != nil {
		return false, fmt.Errorf("write asset %s: %w", name, err)
	}
	return true, nil
}

// PruneAssets forgets assets not in live and returns how many were removed.
func (s *Store) PruneAssets(ctx context.Context, live map[string]struct{}) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, "SELECT name FROM assets")
	if err != nil {
		return 0, fmt.Errorf("list assets: %w", err)
	}
	var gone []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("list assets: %w", err)
		}
		if _, ok := live[name]; !ok {
			gone = append(gone, name)
		}
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("list assets: %w", err)
	}
	for _, name := range gone {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM assets WHERE name = ?", name); err != nil {
			return 0, fmt.Errorf("delete asset %s: %w", name, err)
		}
	}
	return len(gone), nil
}

// BeginRun records the start of run id. clean is false when the previous
// run never finished, in which case cached rows may describe output that
// was never published.
func (s *Store) BeginRun(ctx context.Context, id string, started time.Time) (clean bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var finished sql.NullInt64
	err = s.db.QueryRowContext(ctx,
		"SELECT finished_at FROM runs ORDER BY started_at DESC, rowid DESC LIMIT 1",
	).Scan(&finished)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		clean = true
	case err != nil:
		return false, fmt.Errorf("read last run: %w", err)
	default:
		clean = finished.Valid
	}
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (id, started_at) VALUES (?, ?)", id, started.UnixNano(),
	); err != nil {
		return false, fmt.Errorf("record run %s: %w", id, err)
	}
	return clean, nil
}

// FinishRun marks run id as completed and trims the run log.
func (s *Store) FinishRun(ctx context.Context, id, outcome string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		"UPDATE runs SET finished_at = ?, outcome = ? WHERE id = ?", time.Now().UnixNano(), outcome, id,
	); err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC, rowid DESC LIMIT 50
		)`); err != nil {
		return fmt.Errorf("trim runs: %w", err)
	}
	return nil
}

func encodeMarkdown(md *page.Markdown) (string, string, error) {
	fm, err := json.Marshal(md.FrontMatter)
	if err != nil {
		return "", "", fmt.Errorf("marshal frontmatter: %w", err)
	}
	blocks, err := json.Marshal(md.Blocks)
	if err != nil {
		return "", "", fmt.Errorf("marshal blocks: %w", err)
	}
	return string(fm), string(blocks), nil
}

func decodeMarkdown(fm, blocks string) (*page.Markdown, error) {
	md := &page.Markdown{}
	if err := json.NewDecoder(strings.NewReader(fm)).Decode(&md.FrontMatter); err != nil {
		return nil, fmt.Errorf("unmarshal frontmatter: %w", err)
	}
	if err := json.NewDecoder(strings.NewReader(blocks)).Decode(&md.Blocks); err != nil {
		return nil, fmt.Errorf("unmarshal blocks: %w", err)
	}
	return md, nil
}
