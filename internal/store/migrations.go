package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Training runs - one row per invocation of the training controller
		`CREATE TABLE IF NOT EXISTS training_runs (
			id TEXT PRIMARY KEY,
			phase TEXT NOT NULL,
			seed INTEGER NOT NULL,
			input_size INTEGER NOT NULL,
			labels TEXT NOT NULL,
			best_val_loss REAL,
			test_accuracy REAL,
			error TEXT,
			started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			finished_at DATETIME
		)`,

		// Epoch metrics - training and validation loss/accuracy per epoch
		`CREATE TABLE IF NOT EXISTS epoch_metrics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES training_runs(id) ON DELETE CASCADE,
			phase TEXT NOT NULL,
			epoch INTEGER NOT NULL,
			train_loss REAL NOT NULL,
			train_accuracy REAL NOT NULL,
			val_loss REAL NOT NULL,
			val_accuracy REAL NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Checkpoints - registered snapshots; at most one best per run
		`CREATE TABLE IF NOT EXISTS checkpoints (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES training_runs(id) ON DELETE CASCADE,
			path TEXT NOT NULL,
			val_loss REAL NOT NULL,
			is_best INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Indexes for better query performance
		`CREATE INDEX IF NOT EXISTS idx_epoch_metrics_run_id ON epoch_metrics(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_run_id ON checkpoints(run_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
