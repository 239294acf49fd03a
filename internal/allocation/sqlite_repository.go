package allocation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/opd-token-allocation/internal/db"
)

type SQLiteTokenRepository struct {
	conn *sql.DB
}

func NewSQLiteTokenRepository(conn *sql.DB) *SQLiteTokenRepository {
	return &SQLiteTokenRepository{conn: conn}
}

type sqlRow interface {
	Scan(dest ...any) error
}

func scanSQLiteToken(row sqlRow) (*Token, error) {
	var t Token
	var id, slotID, source, status string
	var phone, reason sql.NullString
	var seq sql.NullInt64

	err := row.Scan(
		&id,
		&slotID,
		&t.PatientName,
		&phone,
		&source,
		&status,
		&t.PriorityScore,
		&seq,
		&reason,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}

	if t.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse token id %q: %w", id, err)
	}
	if t.SlotID, err = uuid.Parse(slotID); err != nil {
		return nil, fmt.Errorf("parse slot id %q: %w", slotID, err)
	}
	t.Source = Source(source)
	t.Status = Status(status)
	if phone.Valid {
		t.Phone = &phone.String
	}
	if seq.Valid {
		n := int(seq.Int64)
		t.SequenceInSlot = &n
	}
	if reason.Valid {
		t.Metadata = &Metadata{EmergencyReason: reason.String}
	}
	return &t, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullableUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func (r *SQLiteTokenRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithSQLTx(ctx, r.conn, fn)
}

// LockSlot only checks the slot exists: the single pinned connection already
// serializes every transaction.
func (r *SQLiteTokenRepository) LockSlot(ctx context.Context, slotID uuid.UUID) error {
	var id string
	err := db.SQLConn(ctx, r.conn).QueryRowContext(ctx, `SELECT id FROM slots WHERE id = ?`, slotID.String()).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSlotNotFound
	}
	return err
}

func (r *SQLiteTokenRepository) CreateToken(ctx context.Context, t *Token) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	at := t.CreatedAt.UTC()

	_, err := db.SQLConn(ctx, r.conn).ExecContext(ctx, `
		INSERT INTO tokens (id, slot_id, patient_name, phone, source, status, priority_score, sequence_in_slot, emergency_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, ?)
	`, t.ID.String(), t.SlotID.String(), t.PatientName, t.Phone, string(t.Source), string(t.Status),
		t.PriorityScore, reasonOf(t), at, at)
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}

	created, err := r.GetToken(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("reload token: %w", err)
	}
	*t = *created
	return nil
}

func (r *SQLiteTokenRepository) GetToken(ctx context.Context, id uuid.UUID) (*Token, error) {
	row := db.SQLConn(ctx, r.conn).QueryRowContext(ctx, `
		SELECT `+tokenCols+`
		FROM tokens
		WHERE id = ?
	`, id.String())
	return scanSQLiteToken(row)
}

func (r *SQLiteTokenRepository) UpdateTokenStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (*Token, error) {
	res, err := db.SQLConn(ctx, r.conn).ExecContext(ctx, `
		UPDATE tokens
		SET status = ?,
		    sequence_in_slot = CASE WHEN ? IN ('booked', 'checked_in', 'in_consultation') THEN sequence_in_slot ELSE NULL END,
		    updated_at = ?
		WHERE id = ? AND status = ?
	`, string(to), string(to), at.UTC(), id.String(), string(from))
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrTokenNotFound
	}
	return r.GetToken(ctx, id)
}

func (r *SQLiteTokenRepository) SetSequence(ctx context.Context, id uuid.UUID, seq *int, at time.Time) error {
	res, err := db.SQLConn(ctx, r.conn).ExecContext(ctx, `
		UPDATE tokens SET sequence_in_slot = ?, updated_at = ? WHERE id = ?
	`, seq, at.UTC(), id.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTokenNotFound
	}
	return nil
}

func (r *SQLiteTokenRepository) CountTokens(ctx context.Context, slotID uuid.UUID, statuses []Status) (int, error) {
	query := `SELECT count(*) FROM tokens WHERE slot_id = ?`
	args := []any{slotID.String()}
	if statuses != nil {
		if len(statuses) == 0 {
			return 0, nil
		}
		query += ` AND status IN (` + placeholders(len(statuses)) + `)`
		for _, s := range statuses {
			args = append(args, string(s))
		}
	}

	var n int
	err := db.SQLConn(ctx, r.conn).QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

func (r *SQLiteTokenRepository) ListTokens(ctx context.Context, f TokenFilter) ([]Token, error) {
	var where []string
	var args []any
	if f.SlotIDs != nil {
		if len(f.SlotIDs) == 0 {
			return nil, nil
		}
		where = append(where, `slot_id IN (`+placeholders(len(f.SlotIDs))+`)`)
		for _, id := range f.SlotIDs {
			args = append(args, id.String())
		}
	}
	if f.Statuses != nil {
		if len(f.Statuses) == 0 {
			return nil, nil
		}
		where = append(where, `status IN (`+placeholders(len(f.Statuses))+`)`)
		for _, s := range f.Statuses {
			args = append(args, string(s))
		}
	}

	query := `SELECT ` + tokenCols + ` FROM tokens`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY priority_score DESC, created_at ASC, id ASC`
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}

	rows, err := db.SQLConn(ctx, r.conn).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Token
	for rows.Next() {
		t, err := scanSQLiteToken(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteTokenRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	var payload any
	if ev.Payload != nil {
		payload = string(ev.Payload)
	}
	_, err := db.SQLConn(ctx, r.conn).ExecContext(ctx, `
		INSERT INTO event_logs (event_type, token_id, slot_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, ev.EventType, nullableUUID(ev.TokenID), nullableUUID(ev.SlotID), payload, ev.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

// ListEvents returns a slot's event log oldest first. Used by reports and tests.
func (r *SQLiteTokenRepository) ListEvents(ctx context.Context, slotID uuid.UUID) ([]EventLog, error) {
	rows, err := db.SQLConn(ctx, r.conn).QueryContext(ctx, `
		SELECT id, event_type, token_id, slot_id, payload, created_at
		FROM event_logs
		WHERE slot_id = ?
		ORDER BY id
	`, slotID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []EventLog
	for rows.Next() {
		var ev EventLog
		var tokenID, sid, payload sql.NullString
		if err := rows.Scan(&ev.ID, &ev.EventType, &tokenID, &sid, &payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if tokenID.Valid {
			id, err := uuid.Parse(tokenID.String)
			if err != nil {
				return nil, fmt.Errorf("parse event token id: %w", err)
			}
			ev.TokenID = &id
		}
		if sid.Valid {
			id, err := uuid.Parse(sid.String)
			if err != nil {
				return nil, fmt.Errorf("parse event slot id: %w", err)
			}
			ev.SlotID = &id
		}
		if payload.Valid {
			ev.Payload = []byte(payload.String)
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}
