package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// Run represents one training run.
type Run struct {
	ID           string
	Phase        string
	Seed         int64
	InputSize    int
	Labels       []string
	BestValLoss  *float64
	TestAccuracy *float64
	Error        string
	StartedAt    time.Time
	FinishedAt   *time.Time
}

// EpochMetric is one epoch's training and validation numbers.
type EpochMetric struct {
	RunID         string
	Phase         string
	Epoch         int
	TrainLoss     float64
	TrainAccuracy float64
	ValLoss       float64
	ValAccuracy   float64
}

// RunRepository provides CRUD operations for training runs.
type RunRepository struct {
	db *sql.DB
}

// Runs returns the run repository for this store.
func (s *Store) Runs() *RunRepository {
	return &RunRepository{db: s.db}
}

// Create inserts a new run.
func (r *RunRepository) Create(run *Run) error {
	run.StartedAt = time.Now()
	labels, err := json.Marshal(run.Labels)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(
		`INSERT INTO training_runs (id, phase, seed, input_size, labels, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Phase, run.Seed, run.InputSize, string(labels), run.StartedAt,
	)
	return err
}

// SetPhase updates the run's current phase.
func (r *RunRepository) SetPhase(id, phase string) error {
	_, err := r.db.Exec(`UPDATE training_runs SET phase = ? WHERE id = ?`, phase, id)
	return err
}

// Finish marks the run complete, recording final numbers. errMsg is empty
// for successful runs.
func (r *RunRepository) Finish(id string, bestValLoss, testAccuracy float64, errMsg string) error {
	_, err := r.db.Exec(
		`UPDATE training_runs
		 SET best_val_loss = ?, test_accuracy = ?, error = ?, finished_at = ?
		 WHERE id = ?`,
		bestValLoss, testAccuracy, errMsg, time.Now(), id,
	)
	return err
}

// GetByID retrieves a run by its ID.
func (r *RunRepository) GetByID(id string) (*Run, error) {
	row := r.db.QueryRow(
		`SELECT id, phase, seed, input_size, labels, best_val_loss, test_accuracy,
		        COALESCE(error, ''), started_at, finished_at
		 FROM training_runs WHERE id = ?`, id)
	return scanRun(row)
}

// List retrieves all runs, most recent first.
func (r *RunRepository) List() ([]*Run, error) {
	rows, err := r.db.Query(
		`SELECT id, phase, seed, input_size, labels, best_val_loss, test_accuracy,
		        COALESCE(error, ''), started_at, finished_at
		 FROM training_runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// AddEpochMetric records one epoch's metrics.
func (r *RunRepository) AddEpochMetric(m *EpochMetric) error {
	_, err := r.db.Exec(
		`INSERT INTO epoch_metrics (run_id, phase, epoch, train_loss, train_accuracy, val_loss, val_accuracy)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.RunID, m.Phase, m.Epoch, m.TrainLoss, m.TrainAccuracy, m.ValLoss, m.ValAccuracy,
	)
	return err
}

// EpochMetrics retrieves all epoch metrics for a run in recorded order.
func (r *RunRepository) EpochMetrics(runID string) ([]*EpochMetric, error) {
	rows, err := r.db.Query(
		`SELECT run_id, phase, epoch, train_loss, train_accuracy, val_loss, val_accuracy
		 FROM epoch_metrics WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metrics []*EpochMetric
	for rows.Next() {
		m := &EpochMetric{}
		if err := rows.Scan(&m.RunID, &m.Phase, &m.Epoch,
			&m.TrainLoss, &m.TrainAccuracy, &m.ValLoss, &m.ValAccuracy); err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var labels string
	err := row.Scan(&run.ID, &run.Phase, &run.Seed, &run.InputSize, &labels,
		&run.BestValLoss, &run.TestAccuracy, &run.Error, &run.StartedAt, &run.FinishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(labels), &run.Labels); err != nil {
		return nil, err
	}
	return run, nil
}
