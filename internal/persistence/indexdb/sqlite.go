package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"digtick.dev/internal/sim/catalogs"
	"digtick.dev/internal/sim/tuning"
	"digtick.dev/internal/sim/world"
)

const (
	defaultQueueSize = 65536
	commitEvery      = 500
	commitMaxWait    = time.Second
)

// SQLiteIndex is a queryable secondary index of committed breaks. Writes are
// queued to a single writer goroutine and dropped when the queue is full; the
// JSONL break log stays the source of truth.
type SQLiteIndex struct {
	db     *sql.DB
	logger *log.Logger

	ch   chan world.BreakRecord
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropped    atomic.Uint64
	failed     atomic.Uint64
	written    atomic.Uint64
	lastCommit atomic.Int64
}

type Stats struct {
	QueueDepth     int
	QueueCapacity  int
	WrittenTotal   uint64
	DropBreakTotal uint64
	WriteFailTotal uint64
	// LastCommitUnix is zero until the first batch commits.
	LastCommitUnix int64
}

type BreakRow struct {
	Tick      uint64
	Actor     string
	Name      string
	Pos       [3]int
	Material  string
	Tool      string
	Drop      string
	ToolBroke bool
}

func OpenSQLite(path string, logger *log.Logger) (*SQLiteIndex, error) {
	return openSQLite(path, logger, defaultQueueSize)
}

func openSQLite(path string, logger *log.Logger, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[indexdb] ", log.LstdFlags)
	}

	s := &SQLiteIndex{db: db, logger: logger, ch: make(chan world.BreakRecord, queue)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	} {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s %w", p, err)
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS breaks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tick INTEGER NOT NULL,
			actor TEXT NOT NULL,
			name TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			material TEXT NOT NULL,
			tool TEXT NOT NULL,
			drop_item TEXT NOT NULL,
			tool_broke INTEGER NOT NULL,
			at TEXT NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_breaks_actor_tick ON breaks(actor, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_breaks_pos_tick ON breaks(x, z, y, tick);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close drains the queue, commits, and closes the database.
func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// WriteBreak implements world.BreakSink. It never blocks the caller.
func (s *SQLiteIndex) WriteBreak(r world.BreakRecord) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- r:
	default:
		s.dropped.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
		WrittenTotal:   s.written.Load(),
		DropBreakTotal: s.dropped.Load(),
		WriteFailTotal: s.failed.Load(),
		LastCommitUnix: s.lastCommit.Load(),
	}
}

// UpsertCatalogs stores the raw catalog files and the applied tuning so a
// break row can be traced back to the rules in force.
func (s *SQLiteIndex) UpsertCatalogs(ctx context.Context, configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil || cats == nil {
		return nil
	}
	type row struct {
		name, digest string
		data         []byte
	}
	var rows []row
	for _, f := range []struct{ name, file, digest string }{
		{"materials", "materials.json", cats.Materials.Digest},
		{"tools", "tools.json", cats.Tools.Digest},
	} {
		b, err := os.ReadFile(filepath.Join(configDir, f.file))
		if err != nil {
			return err
		}
		rows = append(rows, row{f.name, f.digest, b})
	}
	tb, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(tb)
	rows = append(rows, row{"tuning", hex.EncodeToString(sum[:]), tb})

	now := time.Now().UTC().Format(time.RFC3339Nano)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.name, r.digest, string(r.data), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CatalogDigest returns the stored digest for a catalog name.
func (s *SQLiteIndex) CatalogDigest(ctx context.Context, name string) (string, error) {
	var d string
	err := s.db.QueryRowContext(ctx, `SELECT digest FROM catalogs WHERE name=?`, name).Scan(&d)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return d, err
}

// CountBreaks counts committed breaks by actor, or all breaks for "".
func (s *SQLiteIndex) CountBreaks(ctx context.Context, actor string) (int, error) {
	var n int
	var err error
	if actor == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM breaks`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM breaks WHERE actor=?`, actor).Scan(&n)
	}
	return n, err
}

// BreaksAt returns the breaks recorded at pos, oldest first.
func (s *SQLiteIndex) BreaksAt(ctx context.Context, pos [3]int) ([]BreakRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tick,actor,name,material,tool,drop_item,tool_broke FROM breaks WHERE x=? AND z=? AND y=? ORDER BY tick, id`,
		pos[0], pos[2], pos[1])
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BreakRow
	for rows.Next() {
		r := BreakRow{Pos: pos}
		var tick int64
		var broke int
		if err := rows.Scan(&tick, &r.Actor, &r.Name, &r.Material, &r.Tool, &r.Drop, &broke); err != nil {
			return nil, err
		}
		r.Tick = uint64(tick)
		r.ToolBroke = broke != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()
	insert, err := s.db.Prepare(`INSERT INTO breaks(tick,actor,name,x,y,z,material,tool,drop_item,tool_broke,at,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		s.logger.Printf("prepare insert: %v", err)
		for range s.ch {
			s.failed.Add(1)
		}
		return
	}
	defer insert.Close()

	var (
		tx      *sql.Tx
		pending int
		opened  time.Time
	)
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.failed.Add(uint64(pending))
			s.logger.Printf("commit batch=%d: %v", pending, err)
		} else {
			s.written.Add(uint64(pending))
			s.lastCommit.Store(time.Now().Unix())
		}
		tx, pending = nil, 0
	}

	for r := range s.ch {
		if tx == nil {
			t, err := s.db.BeginTx(ctx, nil)
			if err != nil {
				s.failed.Add(1)
				s.logger.Printf("begin: %v", err)
				time.Sleep(50 * time.Millisecond)
				continue
			}
			tx, opened = t, time.Now()
		}
		raw, _ := json.Marshal(r)
		broke := 0
		if r.ToolBroke {
			broke = 1
		}
		if _, err := tx.Stmt(insert).Exec(
			int64(r.Tick), r.Actor, r.Name,
			r.Pos[0], r.Pos[1], r.Pos[2],
			r.Material, r.Tool, r.Drop, broke, r.At, string(raw),
		); err != nil {
			s.failed.Add(1)
			s.logger.Printf("insert break tick=%d: %v", r.Tick, err)
			continue
		}
		pending++
		if pending >= commitEvery || time.Since(opened) >= commitMaxWait || len(s.ch) == 0 {
			commit()
		}
	}
	commit()
}
