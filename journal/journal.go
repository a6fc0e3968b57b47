// ════════════════════════════════════════════════════════════════════════════════════════════════
// Collection Journal
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Generational Copying Collector
// Component: SQLite-backed heap.Recorder
//
// Description:
//   Persists one row per finished collection so collector behaviour can be compared across runs
//   and configurations. Rows are written through a prepared statement inside a long-lived
//   transaction that is committed every BatchSize records, on Flush and on Close.
//
// Features:
//   - One runs row per StartRun, carrying the heap configuration as JSON
//   - Batched transactional inserts, never failing the collection that produced them
//   - Per-run readback and summary queries
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"gengc/debug"
	"gengc/heap"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sugawarayuuta/sonnet"
)

// BatchSize is the number of records per commit.
const BatchSize = 256

// ErrNoRun is returned when records arrive before StartRun.
var ErrNoRun = errors.New("journal: no run started")

// Journal records heap collections into a SQLite database.
type Journal struct {
	mu     sync.Mutex
	db     *sql.DB
	tx     *sql.Tx
	insert *sql.Stmt
	run    int64
	batch  int
	failed int // Records dropped because a write failed
}

// Summary aggregates one run.
type Summary struct {
	Run             int64         `json:"run"`
	Label           string        `json:"label"`
	Collections     int           `json:"collections"`
	Majors          int           `json:"majors"`
	Escalations     int           `json:"escalations"`
	ObjectsCopied   uint64        `json:"objects_copied"`
	ObjectsPromoted uint64        `json:"objects_promoted"`
	PeakBytesInUse  uint64        `json:"peak_bytes_in_use"`
	TotalPause      time.Duration `json:"total_pause_ns"`
	MaxPause        time.Duration `json:"max_pause_ns"`
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// DATABASE SETUP
// ═══════════════════════════════════════════════════════════════════════════════════════════════

func configureDatabase(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA cache_size = 10000",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

func initializeSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		label      TEXT NOT NULL,
		config     TEXT NOT NULL,
		started_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS collections (
		run_id               INTEGER NOT NULL REFERENCES runs(id),
		sequence             INTEGER NOT NULL,
		requested            TEXT NOT NULL,
		mode                 TEXT NOT NULL,
		reason               TEXT NOT NULL,
		gen1_position        INTEGER NOT NULL,
		gen1_capacity        INTEGER NOT NULL,
		gen2_position        INTEGER NOT NULL,
		gen2_capacity        INTEGER NOT NULL,
		minimum_next_gen1    INTEGER NOT NULL,
		tenure_footprint     INTEGER NOT NULL,
		objects_copied       INTEGER NOT NULL,
		objects_promoted     INTEGER NOT NULL,
		untenured_fixies     INTEGER NOT NULL,
		tenured_fixies       INTEGER NOT NULL,
		fixie_ceiling        INTEGER NOT NULL,
		bytes_in_use         INTEGER NOT NULL,
		low_memory_threshold INTEGER NOT NULL,
		duration_ns          INTEGER NOT NULL,
		PRIMARY KEY (run_id, sequence)
	) WITHOUT ROWID;
	`
	_, err := db.Exec(schema)
	return err
}

// Open opens or creates the journal database at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}
	// One connection keeps the open transaction and later reads consistent.
	db.SetMaxOpenConns(1)

	if err := configureDatabase(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := initializeSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// TRANSACTION MANAGEMENT
// ═══════════════════════════════════════════════════════════════════════════════════════════════

func (j *Journal) beginTransaction() error {
	var err error
	j.tx, err = j.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	j.insert, err = j.tx.Prepare(`
		INSERT OR REPLACE INTO collections
		(run_id, sequence, requested, mode, reason,
		 gen1_position, gen1_capacity, gen2_position, gen2_capacity,
		 minimum_next_gen1, tenure_footprint, objects_copied, objects_promoted,
		 untenured_fixies, tenured_fixies, fixie_ceiling, bytes_in_use,
		 low_memory_threshold, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		j.tx.Rollback()
		j.tx = nil
		return fmt.Errorf("failed to prepare insert statement in transaction: %w", err)
	}
	j.batch = 0
	return nil
}

func (j *Journal) commitTransaction() error {
	if j.tx == nil {
		return nil
	}
	if j.insert != nil {
		j.insert.Close()
		j.insert = nil
	}
	err := j.tx.Commit()
	j.tx = nil
	if err != nil {
		return fmt.Errorf("failed to commit journal batch: %w", err)
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// RECORDING
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// StartRun commits anything pending and opens a new run. Subsequent records
// belong to it.
func (j *Journal) StartRun(label string, cfg heap.Config) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.commitTransaction(); err != nil {
		return 0, err
	}

	config, err := sonnet.Marshal(cfg)
	if err != nil {
		return 0, fmt.Errorf("failed to encode heap config: %w", err)
	}
	res, err := j.db.Exec("INSERT INTO runs (label, config, started_at) VALUES (?, ?, ?)",
		label, string(config), time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to insert run: %w", err)
	}
	if j.run, err = res.LastInsertId(); err != nil {
		return 0, fmt.Errorf("failed to read run id: %w", err)
	}
	return j.run, nil
}

// OnCollection implements heap.Recorder. Write failures are logged and
// counted, never propagated into the collector.
func (j *Journal) OnCollection(r heap.CollectionRecord) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.write(r); err != nil {
		j.failed++
		debug.DropError("JOURNAL", err)
	}
}

func (j *Journal) write(r heap.CollectionRecord) error {
	if j.run == 0 {
		return ErrNoRun
	}
	if j.tx == nil {
		if err := j.beginTransaction(); err != nil {
			return err
		}
	}

	_, err := j.insert.Exec(j.run, r.Sequence, r.Requested.String(), r.Mode.String(), r.Reason,
		r.Gen1PositionWords, r.Gen1CapacityWords, r.Gen2PositionWords, r.Gen2CapacityWords,
		r.MinimumNextGen1, r.TenureFootprint, int64(r.ObjectsCopied), int64(r.ObjectsPromoted),
		int64(r.UntenuredFixies), int64(r.TenuredFixies), int64(r.FixieCeiling), int64(r.BytesInUse),
		int64(r.LowMemoryThreshold), int64(r.Duration))
	if err != nil {
		return fmt.Errorf("failed to insert collection %d: %w", r.Sequence, err)
	}

	j.batch++
	if j.batch >= BatchSize {
		return j.commitTransaction()
	}
	return nil
}

// Flush commits the pending batch.
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.commitTransaction()
}

// Failed returns the number of records that could not be written.
func (j *Journal) Failed() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.failed
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// READBACK
// ═══════════════════════════════════════════════════════════════════════════════════════════════

func parseType(s string) (heap.CollectionType, error) {
	var t heap.CollectionType
	err := t.UnmarshalJSON([]byte(`"` + s + `"`))
	return t, err
}

// Records returns every committed record of run in sequence order.
func (j *Journal) Records(run int64) ([]heap.CollectionRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.commitTransaction(); err != nil {
		return nil, err
	}

	rows, err := j.db.Query(`
		SELECT sequence, requested, mode, reason,
		       gen1_position, gen1_capacity, gen2_position, gen2_capacity,
		       minimum_next_gen1, tenure_footprint, objects_copied, objects_promoted,
		       untenured_fixies, tenured_fixies, fixie_ceiling, bytes_in_use,
		       low_memory_threshold, duration_ns
		FROM collections WHERE run_id = ? ORDER BY sequence
	`, run)
	if err != nil {
		return nil, fmt.Errorf("failed to query collections: %w", err)
	}
	defer rows.Close()

	var out []heap.CollectionRecord
	for rows.Next() {
		var (
			r               heap.CollectionRecord
			requested, mode string
			duration        int64
		)
		if err := rows.Scan(&r.Sequence, &requested, &mode, &r.Reason,
			&r.Gen1PositionWords, &r.Gen1CapacityWords, &r.Gen2PositionWords, &r.Gen2CapacityWords,
			&r.MinimumNextGen1, &r.TenureFootprint, &r.ObjectsCopied, &r.ObjectsPromoted,
			&r.UntenuredFixies, &r.TenuredFixies, &r.FixieCeiling, &r.BytesInUse,
			&r.LowMemoryThreshold, &duration); err != nil {
			return nil, fmt.Errorf("failed to scan collection: %w", err)
		}
		if r.Requested, err = parseType(requested); err != nil {
			return nil, err
		}
		if r.Mode, err = parseType(mode); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(duration)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Summary aggregates every committed record of run.
func (j *Journal) Summary(run int64) (Summary, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.commitTransaction(); err != nil {
		return Summary{}, err
	}

	s := Summary{Run: run}
	if err := j.db.QueryRow("SELECT label FROM runs WHERE id = ?", run).Scan(&s.Label); err != nil {
		return Summary{}, fmt.Errorf("failed to load run %d: %w", run, err)
	}

	var total, peak int64
	err := j.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(mode = 'major'), 0),
		       COALESCE(SUM(mode <> requested), 0),
		       COALESCE(SUM(objects_copied), 0),
		       COALESCE(SUM(objects_promoted), 0),
		       COALESCE(MAX(bytes_in_use), 0),
		       COALESCE(SUM(duration_ns), 0),
		       COALESCE(MAX(duration_ns), 0)
		FROM collections WHERE run_id = ?
	`, run).Scan(&s.Collections, &s.Majors, &s.Escalations, &s.ObjectsCopied, &s.ObjectsPromoted,
		&s.PeakBytesInUse, &total, &peak)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to summarise run %d: %w", run, err)
	}
	s.TotalPause = time.Duration(total)
	s.MaxPause = time.Duration(peak)
	return s, nil
}

// Close commits pending records and closes the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	err := j.commitTransaction()
	if j.db != nil {
		j.db.Exec("PRAGMA optimize")
		if cerr := j.db.Close(); err == nil {
			err = cerr
		}
		j.db = nil
	}
	return err
}
