package clinic

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/opd-token-allocation/internal/db"
)

// SQLiteRepository is the single-node backend used for local runs and tests.
type SQLiteRepository struct {
	conn *sql.DB
	now  func() time.Time
}

func NewSQLiteRepository(conn *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{conn: conn, now: time.Now}
}

type sqlRow interface {
	Scan(dest ...any) error
}

func scanSQLiteDoctor(row sqlRow) (*Doctor, error) {
	var d Doctor
	var id, templates string

	if err := row.Scan(&id, &d.Name, &templates, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	var err error
	if d.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse doctor id %q: %w", id, err)
	}
	if err := json.Unmarshal([]byte(templates), &d.DefaultSlots); err != nil {
		return nil, fmt.Errorf("decode default slots of doctor %s: %w", d.ID, err)
	}
	return &d, nil
}

func scanSQLiteSlot(row sqlRow) (*Slot, error) {
	var s Slot
	var id, doctorID, date string

	err := row.Scan(&id, &doctorID, &date, &s.StartTime, &s.EndTime, &s.MaxCapacity, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	if s.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse slot id %q: %w", id, err)
	}
	if s.DoctorID, err = uuid.Parse(doctorID); err != nil {
		return nil, fmt.Errorf("parse doctor id %q: %w", doctorID, err)
	}
	if s.Date, err = time.Parse(DateLayout, date); err != nil {
		return nil, fmt.Errorf("parse slot date %q: %w", date, err)
	}
	return &s, nil
}

func collectSQLiteSlots(rows *sql.Rows) ([]Slot, error) {
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSQLiteSlot(rows)
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

func (r *SQLiteRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithSQLTx(ctx, r.conn, fn)
}

func (r *SQLiteRepository) CreateDoctor(ctx context.Context, d *Doctor) error {
	templates, err := json.Marshal(d.DefaultSlots)
	if err != nil {
		return fmt.Errorf("encode default slots: %w", err)
	}

	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	now := r.now().UTC()

	_, err = db.SQLConn(ctx, r.conn).ExecContext(ctx, `
		INSERT INTO doctors (id, name, default_slots, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, d.ID.String(), d.Name, string(templates), now, now)
	if err != nil {
		return fmt.Errorf("insert doctor: %w", err)
	}

	d.CreatedAt = now
	d.UpdatedAt = now
	return nil
}

func (r *SQLiteRepository) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := db.SQLConn(ctx, r.conn).QueryRowContext(ctx, `
		SELECT `+doctorCols+` FROM doctors WHERE id = ?
	`, id.String())
	return scanSQLiteDoctor(row)
}

func (r *SQLiteRepository) ListDoctors(ctx context.Context) ([]Doctor, error) {
	rows, err := db.SQLConn(ctx, r.conn).QueryContext(ctx, `
		SELECT `+doctorCols+` FROM doctors ORDER BY created_at, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Doctor
	for rows.Next() {
		d, err := scanSQLiteDoctor(rows)
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

func (r *SQLiteRepository) EnsureSlot(ctx context.Context, s Slot) (*Slot, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	now := r.now().UTC()
	q := db.SQLConn(ctx, r.conn)

	_, err := q.ExecContext(ctx, `
		INSERT INTO slots (id, doctor_id, slot_date, start_time, end_time, max_capacity, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (doctor_id, slot_date, start_time) DO NOTHING
	`, s.ID.String(), s.DoctorID.String(), FormatDate(s.Date), s.StartTime, s.EndTime, s.MaxCapacity, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert slot: %w", err)
	}

	row := q.QueryRowContext(ctx, `
		SELECT `+slotCols+`
		FROM slots
		WHERE doctor_id = ? AND slot_date = ? AND start_time = ?
	`, s.DoctorID.String(), FormatDate(s.Date), s.StartTime)
	return scanSQLiteSlot(row)
}

func (r *SQLiteRepository) FindSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := db.SQLConn(ctx, r.conn).QueryRowContext(ctx, `
		SELECT `+slotCols+` FROM slots WHERE id = ?
	`, id.String())
	return scanSQLiteSlot(row)
}

func (r *SQLiteRepository) FindSlotsForDoctorOnDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Slot, error) {
	rows, err := db.SQLConn(ctx, r.conn).QueryContext(ctx, `
		SELECT `+slotCols+`
		FROM slots
		WHERE doctor_id = ? AND slot_date = ?
		ORDER BY start_time
	`, doctorID.String(), FormatDate(date))
	if err != nil {
		return nil, err
	}
	return collectSQLiteSlots(rows)
}

func (r *SQLiteRepository) ListSlots(ctx context.Context, f SlotFilter) ([]Slot, error) {
	var where []string
	var args []any
	if f.Date != nil {
		where = append(where, "slot_date = ?")
		args = append(args, FormatDate(*f.Date))
	}
	if f.DoctorID != nil {
		where = append(where, "doctor_id = ?")
		args = append(args, f.DoctorID.String())
	}

	query := `SELECT ` + slotCols + ` FROM slots`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY slot_date, start_time, doctor_id`

	rows, err := db.SQLConn(ctx, r.conn).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectSQLiteSlots(rows)
}
