// Package history persists task lifecycle snapshots to PostgreSQL.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	// postgres driver
	_ "github.com/lib/pq"

	"github.com/R3E-Network/confidential_tasks/internal/app/domain/task"
	"github.com/R3E-Network/confidential_tasks/internal/config"
)

// ErrNotFound is returned when a task has no journal entries.
var ErrNotFound = errors.New("task not found in history")

// Event is one journaled snapshot.
type Event struct {
	ID              int64           `db:"id" json:"id"`
	TaskID          string          `db:"task_id" json:"task_id"`
	Stage           string          `db:"stage" json:"stage"`
	LedgerStatus    string          `db:"ledger_status" json:"ledger_status"`
	ExecutionStatus string          `db:"execution_status" json:"execution_status"`
	TxHash          string          `db:"tx_hash" json:"tx_hash,omitempty"`
	Sender          string          `db:"sender" json:"sender"`
	TargetContract  string          `db:"target_contract" json:"target_contract"`
	Record          json.RawMessage `db:"record" json:"record"`
	RecordedAt      time.Time       `db:"recorded_at" json:"recorded_at"`
}

// Journal appends snapshots to the task_events table.
type Journal struct {
	db *sqlx.DB
}

// Open connects to the database described by cfg.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn not configured")
	}
	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}

	db, err := sqlx.Open(driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// New creates a journal on db.
func New(db *sqlx.DB) *Journal {
	return &Journal{db: db}
}

// Append stores the shareable snapshot of rec. Arguments, payload and
// results never reach the database.
func (j *Journal) Append(ctx context.Context, rec *task.Record, stage string) error {
	if rec == nil {
		return fmt.Errorf("nil record")
	}
	body, err := json.Marshal(rec.Snapshot())
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO task_events (task_id, stage, ledger_status, execution_status, tx_hash, sender, target_contract, record, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rec.TaskID, stage, rec.LedgerStatus.String(), rec.ExecutionStatus.String(), rec.TxHash,
		rec.Sender, rec.TargetContract, body, rec.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert task event: %w", err)
	}
	return nil
}

// Events returns the journal of one task, oldest first.
func (j *Journal) Events(ctx context.Context, taskID string) ([]Event, error) {
	var events []Event
	err := j.db.SelectContext(ctx, &events, `
		SELECT id, task_id, stage, ledger_status, execution_status, tx_hash, sender, target_contract, record, recorded_at
		FROM task_events
		WHERE task_id = $1
		ORDER BY id
	`, taskID)
	if err != nil {
		return nil, err
	}
	return events, nil
}

// Latest returns the last journaled snapshot of a task.
func (j *Journal) Latest(ctx context.Context, taskID string) (*task.Snapshot, error) {
	var raw []byte
	err := j.db.GetContext(ctx, &raw, `
		SELECT record
		FROM task_events
		WHERE task_id = $1
		ORDER BY id DESC
		LIMIT 1
	`, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var snap task.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// Prune deletes entries recorded before cutoff.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM task_events WHERE recorded_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
