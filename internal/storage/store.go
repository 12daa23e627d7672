package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"rfids/internal/config"
	"rfids/internal/model"
)

// Store is the optional alert history sink. The scan loop only writes to it.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveAlert(ctx context.Context, alert model.Alert) error
	SaveSweeps(ctx context.Context, sweeps []model.SweepSummary) error
	ListAlerts(ctx context.Context, limit int) ([]model.Alert, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// baseStore holds the SQL shared by both drivers; bind renders the n-th
// placeholder in the driver's syntax.
type baseStore struct {
	db   *sql.DB
	bind func(n int) string
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = b.bind(i + 1)
	}
	return strings.Join(parts, ", ")
}

func (b *baseStore) exec(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (b *baseStore) SaveAlert(ctx context.Context, alert model.Alert) error {
	if b.db == nil {
		return nil
	}
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO alerts (alert_id, ts, seq, kind, center_freq, subject, body, artifact, payload_json)
		VALUES (`+b.placeholders(9)+`)`,
		alert.ID,
		alert.Timestamp.UTC(),
		alert.Sequence,
		string(alert.Kind),
		alert.CenterFreq,
		alert.Subject,
		alert.Body,
		alert.Artifact,
		encodeJSON(alert),
	)
	return err
}

func (b *baseStore) SaveSweeps(ctx context.Context, sweeps []model.SweepSummary) error {
	if b.db == nil || len(sweeps) == 0 {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO sweeps (ts, center_freq, peak_freq, peak_power, mean_power, anomalies)
		VALUES (`+b.placeholders(6)+`)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, s := range sweeps {
		ts := s.Timestamp
		if ts.IsZero() {
			ts = nowUTC()
		}
		if _, err := stmt.ExecContext(ctx,
			ts.UTC(),
			s.CenterFreq,
			s.PeakFreq,
			s.PeakPower,
			s.MeanPower,
			s.Anomalies,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// ListAlerts returns up to limit alerts, newest first.
func (b *baseStore) ListAlerts(ctx context.Context, limit int) ([]model.Alert, error) {
	if b.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := b.db.QueryContext(ctx,
		`SELECT payload_json FROM alerts ORDER BY id DESC LIMIT `+b.bind(1), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Alert
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var alert model.Alert
		if err := json.Unmarshal([]byte(raw), &alert); err != nil {
			return nil, errors.Join(errors.New("corrupt alert row"), err)
		}
		out = append(out, alert)
	}
	return out, rows.Err()
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
