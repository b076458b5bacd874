package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"

	"github.com/studiowebux/ftwbench/internal/config"
	"github.com/studiowebux/ftwbench/internal/migrations"
	"github.com/studiowebux/ftwbench/internal/types"
)

// ErrNoRun is returned when no run has been recorded yet
var ErrNoRun = errors.New("no run recorded")

// ErrTxActive is returned when a transaction is already open
var ErrTxActive = errors.New("transaction already in progress")

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Manager stores the catalog and the artifacts captured for it.
// It is meant to be used from a single goroutine.
type Manager struct {
	db *sql.DB
	tx *sql.Tx
}

func NewManager(dbPath string) (*Manager, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, config.DirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open result database: %w", err)
	}
	// One connection keeps :memory: databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to result database: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Manager{db: db}, nil
}

// New wraps an already migrated database
func New(db *sql.DB) *Manager {
	return &Manager{db: db}
}

func (m *Manager) Close() error {
	if m.tx != nil {
		_ = m.tx.Rollback()
		m.tx = nil
	}
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

func (m *Manager) conn() execer {
	if m.tx != nil {
		return m.tx
	}
	return m.db
}

// Begin opens the transaction every following call runs in
func (m *Manager) Begin() error {
	if m.tx != nil {
		return ErrTxActive
	}
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	m.tx = tx
	return nil
}

// Commit commits the open transaction
func (m *Manager) Commit() error {
	if m.tx == nil {
		return nil
	}
	tx := m.tx
	m.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Rollback discards the open transaction
func (m *Manager) Rollback() error {
	if m.tx == nil {
		return nil
	}
	tx := m.tx
	m.tx = nil
	if err := tx.Rollback(); err != nil {
		return fmt.Errorf("failed to roll back transaction: %w", err)
	}
	return nil
}

// InTx reports whether a transaction is open
func (m *Manager) InTx() bool {
	return m.tx != nil
}

// withTx runs fn inside the open transaction, or inside a new one
func (m *Manager) withTx(fn func() error) error {
	if m.tx != nil {
		return fn()
	}
	if err := m.Begin(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		_ = m.Rollback()
		return err
	}
	return m.Commit()
}

// ReplaceCatalog drops every stored test case and inserts cases in order
func (m *Manager) ReplaceCatalog(cases []types.TestCase) error {
	return m.withTx(func() error {
		if _, err := m.conn().Exec("DELETE FROM traffic"); err != nil {
			return fmt.Errorf("failed to clear catalog: %w", err)
		}
		for _, tc := range cases {
			if err := m.insertTestCase(tc); err != nil {
				return err
			}
		}
		return nil
	})
}

func (m *Manager) insertTestCase(tc types.TestCase) error {
	meta, err := json.Marshal(tc.Meta)
	if err != nil {
		return fmt.Errorf("failed to marshal meta for %s: %w", tc.Title, err)
	}
	input, err := json.Marshal(tc.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal input for %s: %w", tc.Title, err)
	}
	output, err := json.Marshal(tc.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal output for %s: %w", tc.Title, err)
	}

	_, err = m.conn().Exec(`
		INSERT INTO traffic (traffic_id, test_title, meta, file, input, output, request)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, tc.ID, tc.Title, string(meta), tc.File, string(input), string(output), tc.Request)
	if err != nil {
		return fmt.Errorf("failed to insert test case %s: %w", tc.Title, err)
	}
	return nil
}

// Count returns the number of stored test cases
func (m *Manager) Count() (int, error) {
	var count int
	err := m.conn().QueryRow("SELECT COUNT(*) FROM traffic").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count test cases: %w", err)
	}
	return count, nil
}

// ForEachRequest calls fn with the id and wire bytes of every test case,
// in load order
func (m *Manager) ForEachRequest(fn func(id string, request []byte) error) error {
	rows, err := m.conn().Query("SELECT traffic_id, request FROM traffic ORDER BY rowid")
	if err != nil {
		return fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var request []byte
		if err := rows.Scan(&id, &request); err != nil {
			return fmt.Errorf("failed to scan request: %w", err)
		}
		if err := fn(id, request); err != nil {
			return err
		}
	}
	return rows.Err()
}

// ClearTraffic drops captured traffic of every test case
func (m *Manager) ClearTraffic() error {
	_, err := m.conn().Exec("UPDATE traffic SET raw_request = NULL, raw_response = NULL, duration_time = NULL")
	if err != nil {
		return fmt.Errorf("failed to clear traffic: %w", err)
	}
	return nil
}

// ClearLogs drops captured logs of every test case
func (m *Manager) ClearLogs() error {
	_, err := m.conn().Exec("UPDATE traffic SET raw_log = NULL")
	if err != nil {
		return fmt.Errorf("failed to clear logs: %w", err)
	}
	return nil
}

// UpdateTraffic stores raw traffic for a test case and returns the number of rows updated
func (m *Manager) UpdateTraffic(rec types.TrafficRecord) (int64, error) {
	res, err := m.conn().Exec(
		"UPDATE traffic SET raw_request = ?, raw_response = ? WHERE traffic_id = ?",
		[]byte(rec.RawRequest), []byte(rec.RawResponse), rec.Key,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update traffic: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n, nil
}

// UpdateLog stores log lines for a test case and returns the number of rows updated
func (m *Manager) UpdateLog(rec types.LogRecord) (int64, error) {
	res, err := m.conn().Exec("UPDATE traffic SET raw_log = ? WHERE traffic_id = ?", rec.RawLog, rec.Key)
	if err != nil {
		return 0, fmt.Errorf("failed to update log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n, nil
}

// Artifacts returns every test case with what was captured for it, in load order
func (m *Manager) Artifacts() ([]types.Artifact, error) {
	rows, err := m.conn().Query(`
		SELECT traffic_id, test_title, COALESCE(output, ''), raw_request, raw_response, raw_log
		FROM traffic
		ORDER BY rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []types.Artifact
	for rows.Next() {
		var a types.Artifact
		var output string
		var rawRequest, rawResponse, rawLog sql.NullString
		if err := rows.Scan(&a.ID, &a.Title, &output, &rawRequest, &rawResponse, &rawLog); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		if output != "" {
			if err := json.Unmarshal([]byte(output), &a.Output); err != nil {
				return nil, fmt.Errorf("failed to decode output of %s: %w", a.Title, err)
			}
		}
		a.RawRequest = rawRequest.String
		a.RawResponse = rawResponse.String
		a.RawLog = rawLog.String
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// CreateRun records a new run and sets its ID
func (m *Manager) CreateRun(run *types.Run) error {
	if run.StartedAt == "" {
		run.StartedAt = time.Now().UTC().Format(time.RFC3339)
	}
	if run.Status == "" {
		run.Status = types.RunPending
	}
	result, err := m.conn().Exec(`
		INSERT INTO runs (magic, packet_file, started_at, status, exit_code)
		VALUES (?, ?, ?, ?, ?)
	`, run.Magic, run.PacketFile, run.StartedAt, run.Status, run.ExitCode)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	run.ID = id
	return nil
}

// UpdateRun stores the packet file, status and exit code of a run
func (m *Manager) UpdateRun(run *types.Run) error {
	if run.FinishedAt == "" && run.Status != types.RunPending {
		run.FinishedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := m.conn().Exec(`
		UPDATE runs SET packet_file = ?, finished_at = ?, status = ?, exit_code = ?
		WHERE id = ?
	`, run.PacketFile, nullable(run.FinishedAt), run.Status, run.ExitCode, run.ID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return nil
}

// LatestRun returns the most recent run, or ErrNoRun
func (m *Manager) LatestRun() (*types.Run, error) {
	run := &types.Run{}
	var packetFile, finishedAt sql.NullString
	err := m.conn().QueryRow(`
		SELECT id, magic, packet_file, started_at, finished_at, status, exit_code
		FROM runs
		ORDER BY id DESC
		LIMIT 1
	`).Scan(&run.ID, &run.Magic, &packetFile, &run.StartedAt, &finishedAt, &run.Status, &run.ExitCode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRun
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest run: %w", err)
	}
	run.PacketFile = packetFile.String
	run.FinishedAt = finishedAt.String
	return run, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
