package clinic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/opd-token-allocation/internal/db"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const (
	doctorCols = `id, name, default_slots, created_at, updated_at`
	slotCols   = `id, doctor_id, slot_date, start_time, end_time, max_capacity, created_at, updated_at`
)

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var templates []byte

	err := row.Scan(&d.ID, &d.Name, &templates, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(templates, &d.DefaultSlots); err != nil {
		return nil, fmt.Errorf("decode default slots of doctor %s: %w", d.ID, err)
	}
	return &d, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.Date,
		&s.StartTime,
		&s.EndTime,
		&s.MaxCapacity,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	s.Date = NormalizeDate(s.Date, time.UTC)
	return &s, nil
}

func collectSlots(rows pgx.Rows) ([]Slot, error) {
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Interface methods

func (r *PgRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithPgTx(ctx, r.pool, fn)
}

func (r *PgRepository) CreateDoctor(ctx context.Context, d *Doctor) error {
	templates, err := json.Marshal(d.DefaultSlots)
	if err != nil {
		return fmt.Errorf("encode default slots: %w", err)
	}

	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}

	row := db.PgConn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO doctors (id, name, default_slots, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		RETURNING `+doctorCols, d.ID, d.Name, templates)

	created, err := scanDoctor(row)
	if err != nil {
		return fmt.Errorf("insert doctor: %w", err)
	}
	*d = *created
	return nil
}

func (r *PgRepository) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := db.PgConn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+doctorCols+`
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) ListDoctors(ctx context.Context) ([]Doctor, error) {
	rows, err := db.PgConn(ctx, r.pool).Query(ctx, `
		SELECT `+doctorCols+`
		FROM doctors
		ORDER BY created_at, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) EnsureSlot(ctx context.Context, s Slot) (*Slot, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	q := db.PgConn(ctx, r.pool)

	row := q.QueryRow(ctx, `
		INSERT INTO slots (id, doctor_id, slot_date, start_time, end_time, max_capacity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (doctor_id, slot_date, start_time) DO NOTHING
		RETURNING `+slotCols,
		s.ID, s.DoctorID, s.Date, s.StartTime, s.EndTime, s.MaxCapacity)

	created, err := scanSlot(row)
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, ErrSlotNotFound) {
		return nil, fmt.Errorf("insert slot: %w", err)
	}

	// Conflict: hand back the slot that already owns the triple.
	row = q.QueryRow(ctx, `
		SELECT `+slotCols+`
		FROM slots
		WHERE doctor_id = $1 AND slot_date = $2 AND start_time = $3
	`, s.DoctorID, s.Date, s.StartTime)
	return scanSlot(row)
}

func (r *PgRepository) FindSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := db.PgConn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+slotCols+`
		FROM slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) FindSlotsForDoctorOnDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Slot, error) {
	rows, err := db.PgConn(ctx, r.pool).Query(ctx, `
		SELECT `+slotCols+`
		FROM slots
		WHERE doctor_id = $1 AND slot_date = $2
		ORDER BY start_time
	`, doctorID, date)
	if err != nil {
		return nil, err
	}
	return collectSlots(rows)
}

func (r *PgRepository) ListSlots(ctx context.Context, f SlotFilter) ([]Slot, error) {
	var where []string
	var args []any
	if f.Date != nil {
		args = append(args, *f.Date)
		where = append(where, fmt.Sprintf("slot_date = $%d", len(args)))
	}
	if f.DoctorID != nil {
		args = append(args, *f.DoctorID)
		where = append(where, fmt.Sprintf("doctor_id = $%d", len(args)))
	}

	query := `SELECT ` + slotCols + ` FROM slots`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY slot_date, start_time, doctor_id`

	rows, err := db.PgConn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectSlots(rows)
}
