package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/sqlrun/sqlrun/internal/history"
	"github.com/sqlrun/sqlrun/internal/migrations"
)

type Recorder struct {
	db *sql.DB
}

// Open connects to dsn and applies pending history migrations.
func Open(ctx context.Context, dsn string) (*Recorder, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("history dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	db.SetMaxOpenConns(2)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping history db: %w", err)
	}
	if _, err := migrations.NewRunner().Up(ctx, db, 0); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return NewRecorder(db), nil
}

func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

func (r *Recorder) Record(ctx context.Context, run history.Run) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO sqlrun_query_run (
	student_id, query_path, data_dir, engine, status, failed_stage,
	tables_loaded, tables_failed, result_rows, output_path, error_text,
	started_at, finished_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		run.StudentID,
		run.QueryPath,
		run.DataDir,
		run.Engine,
		string(run.Status),
		run.FailedStage,
		run.TablesLoaded,
		run.TablesFailed,
		run.ResultRows,
		run.OutputPath,
		run.Error,
		run.StartedAt.UTC(),
		run.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert query run: %w", err)
	}
	return nil
}

func (r *Recorder) Close() error {
	return r.db.Close()
}
