package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"smartclock/internal/domain"

	"github.com/lib/pq"
)

const alarmColumns = `id, hour, minute, days_of_week, enabled, label`

// PostgresAlarmsRepo PostgreSQL 实现（STORE_DRIVER=postgres）。
// ID 仍使用 24 位十六进制，与 MongoDB 保持同一形状。
type PostgresAlarmsRepo struct {
	db *sql.DB
}

func NewPostgresAlarmsRepo(db *sql.DB) *PostgresAlarmsRepo {
	return &PostgresAlarmsRepo{db: db}
}

// EnsureSchema 创建 alarms 表（幂等）
func (r *PostgresAlarmsRepo) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS alarms (
			id           CHAR(24) PRIMARY KEY,
			hour         SMALLINT NOT NULL CHECK (hour BETWEEN 0 AND 23),
			minute       SMALLINT NOT NULL CHECK (minute BETWEEN 0 AND 59),
			days_of_week SMALLINT[] NOT NULL DEFAULT '{}',
			enabled      BOOLEAN NOT NULL DEFAULT TRUE,
			label        TEXT NOT NULL DEFAULT ''
		)`)
	if err != nil {
		return fmt.Errorf("create alarms table: %w", err)
	}
	return nil
}

func (r *PostgresAlarmsRepo) ListAlarms(ctx context.Context) ([]domain.Alarm, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+alarmColumns+` FROM alarms ORDER BY hour, minute`)
	if err != nil {
		return nil, fmt.Errorf("query alarms: %w", err)
	}
	defer rows.Close()

	out := []domain.Alarm{}
	for rows.Next() {
		a, err := scanAlarm(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alarms: %w", err)
	}
	return out, nil
}

func (r *PostgresAlarmsRepo) CreateAlarm(ctx context.Context, alarm domain.Alarm) (string, error) {
	id := domain.NewAlarmID()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO alarms (`+alarmColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, alarm.Hour, alarm.Minute, pq.Array(toInt64s(alarm.DaysOfWeek)), alarm.Enabled, alarm.Label,
	)
	if err != nil {
		return "", fmt.Errorf("insert alarm: %w", err)
	}
	return id, nil
}

func (r *PostgresAlarmsRepo) UpdateAlarm(ctx context.Context, id string, patch domain.AlarmPatch) (*domain.Alarm, error) {
	var sets []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if patch.Hour != nil {
		add("hour", *patch.Hour)
	}
	if patch.Minute != nil {
		add("minute", *patch.Minute)
	}
	if patch.DaysOfWeek != nil {
		add("days_of_week", pq.Array(toInt64s(patch.DaysOfWeek)))
	}
	if patch.Enabled != nil {
		add("enabled", *patch.Enabled)
	}
	if patch.Label != nil {
		add("label", *patch.Label)
	}

	var row *sql.Row
	if len(sets) == 0 {
		row = r.db.QueryRowContext(ctx, `SELECT `+alarmColumns+` FROM alarms WHERE id = $1`, id)
	} else {
		args = append(args, id)
		query := fmt.Sprintf(`UPDATE alarms SET %s WHERE id = $%d RETURNING `+alarmColumns,
			strings.Join(sets, ", "), len(args))
		row = r.db.QueryRowContext(ctx, query, args...)
	}

	a, err := scanAlarm(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *PostgresAlarmsRepo) DeleteAlarm(ctx context.Context, id string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM alarms WHERE id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("delete alarm: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete alarm: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlarm(s rowScanner) (domain.Alarm, error) {
	var (
		a    domain.Alarm
		days []int64
	)
	if err := s.Scan(&a.ID, &a.Hour, &a.Minute, pq.Array(&days), &a.Enabled, &a.Label); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, err
		}
		return a, fmt.Errorf("scan alarm: %w", err)
	}
	a.ID = strings.TrimSpace(a.ID)
	a.DaysOfWeek = make([]int, 0, len(days))
	for _, d := range days {
		a.DaysOfWeek = append(a.DaysOfWeek, int(d))
	}
	return a, nil
}

func toInt64s(in []int) []int64 {
	out := make([]int64, 0, len(in))
	for _, v := range in {
		out = append(out, int64(v))
	}
	return out
}
