package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	_ "modernc.org/sqlite"

	"github.com/strato3003/jimny/pkg/export"
	"github.com/strato3003/jimny/pkg/models"
	"github.com/strato3003/jimny/pkg/refine"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrRunNotFound is returned when no run has the requested id
var ErrRunNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id          TEXT PRIMARY KEY,
	created_at      TEXT NOT NULL,
	source          TEXT,
	digest          TEXT NOT NULL,
	observations    INTEGER NOT NULL,
	policy          TEXT NOT NULL,
	outcome         TEXT NOT NULL,
	iterations      INTEGER NOT NULL,
	max_error       REAL NOT NULL,
	fields          INTEGER NOT NULL,
	assigned        INTEGER NOT NULL,
	config_json     TEXT,
	mapping_json    TEXT NOT NULL,
	exclusions_json TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS run_steps (
	run_id      TEXT NOT NULL,
	iteration   INTEGER NOT NULL,
	max_error   REAL NOT NULL,
	worst       TEXT,
	worst_error REAL,
	excluded    TEXT,
	PRIMARY KEY (run_id, iteration),
	FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS runs_created_at ON runs(created_at);
`

// timeFormat sorts lexically in creation order
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Step is one stored refinement iteration
type Step struct {
	Iteration  int     `json:"iteration"`
	MaxError   float64 `json:"max_error"`
	Worst      string  `json:"worst,omitempty"`
	WorstError float64 `json:"worst_error,omitempty"`
	Excluded   string  `json:"excluded,omitempty"`
}

// Summary is the listing view of a run
type Summary struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	Source       string    `json:"source,omitempty"`
	Digest       string    `json:"digest"`
	Observations int       `json:"observations"`
	Policy       string    `json:"policy"`
	Outcome      string    `json:"outcome"`
	Iterations   int       `json:"iterations"`
	MaxError     float64   `json:"max_error"`
	Fields       int       `json:"fields"`
	Assigned     int       `json:"assigned"`
}

// Run is a complete stored run
type Run struct {
	Summary
	Config     jsoniter.RawMessage `json:"config,omitempty"`
	Mapping    export.Document     `json:"mapping"`
	Exclusions []string            `json:"exclusions"`
	Trace      []Step              `json:"trace"`
}

// NewRun captures a refinement result. config is stored as JSON and may be nil.
func NewRun(source string, ds *models.Dataset, policy string, res *refine.Result, config any) (*Run, error) {
	r := &Run{
		Summary: Summary{
			Source:       source,
			Digest:       ds.DigestHex(),
			Observations: ds.Len(),
			Policy:       policy,
			Outcome:      res.Outcome.String(),
			Iterations:   res.Iterations,
			MaxError:     res.Table.Max(),
		},
		Mapping:    export.Document{},
		Exclusions: []string{},
	}
	if res.Assignment != nil {
		r.Fields = len(res.Assignment.Fields)
		r.Assigned = len(res.Assignment.Mappings)
		r.Mapping = export.FromAssignment(res.Assignment)
	}
	for _, e := range res.Exclusions {
		r.Exclusions = append(r.Exclusions, e.String())
	}
	for _, s := range res.Trace {
		st := Step{Iteration: s.Iteration, MaxError: s.MaxError, Worst: string(s.Worst), WorstError: s.WorstError}
		if s.Excluded != nil {
			st.Excluded = s.Excluded.String()
		}
		r.Trace = append(r.Trace, st)
	}
	if config != nil {
		data, err := json.Marshal(config)
		if err != nil {
			return nil, fmt.Errorf("marshal config: %w", err)
		}
		r.Config = data
	}
	return r, nil
}

// Store keeps the run history in SQLite
type Store struct {
	db *sql.DB
}

// Open opens a SQLite database and runs migrations
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores a run and its trace. A run without id gets a new one, which
// is returned.
func (s *Store) Save(ctx context.Context, r *Run) (string, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	mappingJSON, err := json.Marshal(r.Mapping)
	if err != nil {
		return "", fmt.Errorf("marshal mapping: %w", err)
	}
	exclusionsJSON, err := json.Marshal(r.Exclusions)
	if err != nil {
		return "", fmt.Errorf("marshal exclusions: %w", err)
	}
	var configJSON any
	if len(r.Config) > 0 {
		configJSON = string(r.Config)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, created_at, source, digest, observations, policy, outcome,
		 iterations, max_error, fields, assigned, config_json, mapping_json, exclusions_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CreatedAt.UTC().Format(timeFormat), r.Source, r.Digest, r.Observations, r.Policy, r.Outcome,
		r.Iterations, r.MaxError, r.Fields, r.Assigned, configJSON, string(mappingJSON), string(exclusionsJSON),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	for _, st := range r.Trace {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO run_steps (run_id, iteration, max_error, worst, worst_error, excluded)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			r.ID, st.Iteration, st.MaxError, st.Worst, st.WorstError, st.Excluded,
		)
		if err != nil {
			return "", fmt.Errorf("insert step %d: %w", st.Iteration, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return r.ID, nil
}

const summaryColumns = `run_id, created_at, source, digest, observations, policy, outcome,
	iterations, max_error, fields, assigned`

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(row scanner, extra ...any) (Summary, error) {
	var sm Summary
	var createdAt string
	var source sql.NullString
	dest := append([]any{&sm.ID, &createdAt, &source, &sm.Digest, &sm.Observations, &sm.Policy, &sm.Outcome,
		&sm.Iterations, &sm.MaxError, &sm.Fields, &sm.Assigned}, extra...)
	if err := row.Scan(dest...); err != nil {
		return Summary{}, err
	}
	sm.Source = source.String
	sm.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	return sm, nil
}

// List returns the most recent runs first. limit <= 0 lists all of them.
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	query := `SELECT ` + summaryColumns + ` FROM runs ORDER BY created_at DESC, run_id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		sm, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

// Get loads a run with its mapping and trace
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	var configJSON sql.NullString
	var mappingJSON, exclusionsJSON string
	row := s.db.QueryRowContext(ctx,
		`SELECT `+summaryColumns+`, config_json, mapping_json, exclusions_json FROM runs WHERE run_id = ?`, id)
	sm, err := scanSummary(row, &configJSON, &mappingJSON, &exclusionsJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return nil, fmt.Errorf("query run: %w", err)
	}

	r := &Run{Summary: sm}
	if configJSON.Valid {
		r.Config = jsoniter.RawMessage(configJSON.String)
	}
	if err := json.Unmarshal([]byte(mappingJSON), &r.Mapping); err != nil {
		return nil, fmt.Errorf("decode mapping: %w", err)
	}
	if err := json.Unmarshal([]byte(exclusionsJSON), &r.Exclusions); err != nil {
		return nil, fmt.Errorf("decode exclusions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT iteration, max_error, worst, worst_error, excluded FROM run_steps WHERE run_id = ? ORDER BY iteration`, id)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var st Step
		var worst, excluded sql.NullString
		var worstErr sql.NullFloat64
		if err := rows.Scan(&st.Iteration, &st.MaxError, &worst, &worstErr, &excluded); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		st.Worst, st.WorstError, st.Excluded = worst.String, worstErr.Float64, excluded.String
		r.Trace = append(r.Trace, st)
	}
	return r, rows.Err()
}
