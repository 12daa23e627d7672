package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:rfids.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &sqliteStore{baseStore{db: db, bind: func(int) string { return "?" }}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			alert_id TEXT NOT NULL,
			ts TIMESTAMP NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			center_freq REAL NOT NULL,
			subject TEXT NOT NULL,
			body TEXT NOT NULL,
			artifact TEXT,
			payload_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
		`CREATE TABLE IF NOT EXISTS sweeps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TIMESTAMP NOT NULL,
			center_freq REAL NOT NULL,
			peak_freq REAL NOT NULL,
			peak_power REAL NOT NULL,
			mean_power REAL NOT NULL,
			anomalies INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sweeps_freq_ts ON sweeps(center_freq, ts)`,
	})
}
