package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Sightings table - confirmed detections, one row per detection
		`CREATE TABLE IF NOT EXISTS sightings (
			id TEXT PRIMARY KEY,
			class TEXT NOT NULL,
			confidence REAL NOT NULL CHECK(confidence >= 0 AND confidence <= 1),
			track_id INTEGER,
			x1 INTEGER NOT NULL,
			y1 INTEGER NOT NULL,
			x2 INTEGER NOT NULL,
			y2 INTEGER NOT NULL,
			thumbnail BLOB,
			detected_at INTEGER NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Settings table - stores application settings as key-value pairs
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		// Indexes for window queries
		`CREATE INDEX IF NOT EXISTS idx_sightings_detected_at ON sightings(detected_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sightings_class ON sightings(class, detected_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
