package storage

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/rfids?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db, bind: func(n int) string { return "$" + strconv.Itoa(n) }}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id BIGSERIAL PRIMARY KEY,
			alert_id TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			center_freq DOUBLE PRECISION NOT NULL,
			subject TEXT NOT NULL,
			body TEXT NOT NULL,
			artifact TEXT,
			payload_json JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
		`CREATE TABLE IF NOT EXISTS sweeps (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			center_freq DOUBLE PRECISION NOT NULL,
			peak_freq DOUBLE PRECISION NOT NULL,
			peak_power DOUBLE PRECISION NOT NULL,
			mean_power DOUBLE PRECISION NOT NULL,
			anomalies INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sweeps_freq_ts ON sweeps(center_freq, ts)`,
	})
}
