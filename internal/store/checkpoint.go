package store

import (
	"database/sql"
	"errors"
	"time"
)

// Checkpoint is a registered model snapshot on disk.
type Checkpoint struct {
	ID        string
	RunID     string
	Path      string
	ValLoss   float64
	IsBest    bool
	CreatedAt time.Time
}

// CheckpointRepository provides operations on the checkpoint registry.
type CheckpointRepository struct {
	db *sql.DB
}

// Checkpoints returns the checkpoint repository for this store.
func (s *Store) Checkpoints() *CheckpointRepository {
	return &CheckpointRepository{db: s.db}
}

// Register inserts a checkpoint record. When best is set, any previous best
// for the same run is demoted first.
func (r *CheckpointRepository) Register(c *Checkpoint) error {
	c.CreatedAt = time.Now()
	if c.IsBest {
		if _, err := r.db.Exec(
			`UPDATE checkpoints SET is_best = 0 WHERE run_id = ?`, c.RunID); err != nil {
			return err
		}
	}
	_, err := r.db.Exec(
		`INSERT INTO checkpoints (id, run_id, path, val_loss, is_best, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.RunID, c.Path, c.ValLoss, boolToInt(c.IsBest), c.CreatedAt,
	)
	return err
}

// Best returns the best checkpoint for a run.
func (r *CheckpointRepository) Best(runID string) (*Checkpoint, error) {
	c := &Checkpoint{}
	var isBest int
	err := r.db.QueryRow(
		`SELECT id, run_id, path, val_loss, is_best, created_at
		 FROM checkpoints WHERE run_id = ? AND is_best = 1`, runID,
	).Scan(&c.ID, &c.RunID, &c.Path, &c.ValLoss, &isBest, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.IsBest = isBest != 0
	return c, nil
}

// ListByRun returns all checkpoints of a run, newest first.
func (r *CheckpointRepository) ListByRun(runID string) ([]*Checkpoint, error) {
	rows, err := r.db.Query(
		`SELECT id, run_id, path, val_loss, is_best, created_at
		 FROM checkpoints WHERE run_id = ? ORDER BY created_at DESC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checkpoints []*Checkpoint
	for rows.Next() {
		c := &Checkpoint{}
		var isBest int
		if err := rows.Scan(&c.ID, &c.RunID, &c.Path, &c.ValLoss, &isBest, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.IsBest = isBest != 0
		checkpoints = append(checkpoints, c)
	}
	return checkpoints, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
