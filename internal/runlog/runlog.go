package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"
)

// Run statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// ErrNotFound is returned by GetRun for an unknown run id.
var ErrNotFound = errors.New("run not found")

// Run is one recorded pipeline execution.
type Run struct {
	RunID             string          `json:"run_id"`
	Command           string          `json:"command"`
	InputPath         string          `json:"input_path"`
	ParamsJSON        json.RawMessage `json:"params_json,omitempty"`
	InputPoints       int             `json:"input_points"`
	OutputPoints      int             `json:"output_points"`
	DegenerateNormals int             `json:"degenerate_normals"`
	DurationMS        float64         `json:"duration_ms"`
	Status            string          `json:"status"`
	Error             string          `json:"error,omitempty"`
	CreatedAt         int64           `json:"created_at_ns"`
}

// Store is a run log backed by a SQLite file.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the run log at path and migrates it to the
// latest schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run log %s: %w", path, err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure run log: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun persists r. A missing RunID is filled with a new UUID and a
// missing CreatedAt with the current time.
func (s *Store) RecordRun(ctx context.Context, r *Run) error {
	if r.RunID == "" {
		r.RunID = uuid.New().String()
	}
	if r.CreatedAt == 0 {
		r.CreatedAt = time.Now().UnixNano()
	}
	if r.Status == "" {
		r.Status = StatusSucceeded
	}

	var params, errText interface{}
	if len(r.ParamsJSON) > 0 {
		params = string(r.ParamsJSON)
	}
	if r.Error != "" {
		errText = r.Error
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (
			run_id, command, input_path, params_json,
			input_points, output_points, degenerate_normals,
			duration_ms, status, error, created_at_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Command, r.InputPath, params,
		r.InputPoints, r.OutputPoints, r.DegenerateNormals,
		r.DurationMS, r.Status, errText, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

const selectRun = `
	SELECT run_id, command, input_path, params_json,
	       input_points, output_points, degenerate_normals,
	       duration_ms, status, error, created_at_ns
	FROM runs`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		r       Run
		params  sql.NullString
		errText sql.NullString
	)
	err := row.Scan(
		&r.RunID, &r.Command, &r.InputPath, &params,
		&r.InputPoints, &r.OutputPoints, &r.DegenerateNormals,
		&r.DurationMS, &r.Status, &errText, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if params.Valid {
		r.ParamsJSON = json.RawMessage(params.String)
	}
	r.Error = errText.String
	return &r, nil
}

// GetRun returns a single run by id.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, selectRun+` WHERE run_id = ?`, runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	return r, nil
}

// ListRuns returns up to limit runs, newest first. A limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	query := selectRun + ` ORDER BY created_at_ns DESC, run_id`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// AttachAdminRoutes mounts the run log debug pages on mux: a JSON listing of
// recent runs and a tailsql browser over the database.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+s.path, s.db, &tailsql.DBOptions{
		Label: "Run log",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("runs", "Recent pipeline runs (JSON, ?limit=N)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}
		runs, err := s.ListRuns(r.Context(), limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(runs); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}))
	return nil
}
