package allocation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/opd-token-allocation/internal/db"
)

type PgTokenRepository struct {
	pool *pgxpool.Pool
}

func NewPgTokenRepository(pool *pgxpool.Pool) *PgTokenRepository {
	return &PgTokenRepository{pool: pool}
}

const tokenCols = `id, slot_id, patient_name, phone, source, status, priority_score, sequence_in_slot, emergency_reason, created_at, updated_at`

// Helpers

func scanToken(row pgx.Row) (*Token, error) {
	var t Token
	var source, status string
	var seq *int32
	var reason *string

	err := row.Scan(
		&t.ID,
		&t.SlotID,
		&t.PatientName,
		&t.Phone,
		&source,
		&status,
		&t.PriorityScore,
		&seq,
		&reason,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}

	t.Source = Source(source)
	t.Status = Status(status)
	if seq != nil {
		n := int(*seq)
		t.SequenceInSlot = &n
	}
	if reason != nil {
		t.Metadata = &Metadata{EmergencyReason: *reason}
	}
	return &t, nil
}

func reasonOf(t *Token) *string {
	if t.Metadata == nil || t.Metadata.EmergencyReason == "" {
		return nil
	}
	return &t.Metadata.EmergencyReason
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// Interface methods

func (r *PgTokenRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithPgTx(ctx, r.pool, fn)
}

func (r *PgTokenRepository) LockSlot(ctx context.Context, slotID uuid.UUID) error {
	var id uuid.UUID
	err := db.PgConn(ctx, r.pool).QueryRow(ctx, `
		SELECT id FROM slots WHERE id = $1 FOR UPDATE
	`, slotID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrSlotNotFound
	}
	return err
}

func (r *PgTokenRepository) CreateToken(ctx context.Context, t *Token) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}

	row := db.PgConn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO tokens (id, slot_id, patient_name, phone, source, status, priority_score, sequence_in_slot, emergency_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULL, $8, $9, $9)
		RETURNING `+tokenCols,
		t.ID, t.SlotID, t.PatientName, t.Phone, string(t.Source), string(t.Status), t.PriorityScore, reasonOf(t), t.CreatedAt)

	created, err := scanToken(row)
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	*t = *created
	return nil
}

func (r *PgTokenRepository) GetToken(ctx context.Context, id uuid.UUID) (*Token, error) {
	row := db.PgConn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+tokenCols+`
		FROM tokens
		WHERE id = $1
	`, id)
	return scanToken(row)
}

func (r *PgTokenRepository) UpdateTokenStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (*Token, error) {
	row := db.PgConn(ctx, r.pool).QueryRow(ctx, `
		UPDATE tokens
		SET status = $3,
		    sequence_in_slot = CASE WHEN $3 IN ('booked', 'checked_in', 'in_consultation') THEN sequence_in_slot ELSE NULL END,
		    updated_at = $4
		WHERE id = $1 AND status = $2
		RETURNING `+tokenCols,
		id, string(from), string(to), at)
	return scanToken(row)
}

func (r *PgTokenRepository) SetSequence(ctx context.Context, id uuid.UUID, seq *int, at time.Time) error {
	tag, err := db.PgConn(ctx, r.pool).Exec(ctx, `
		UPDATE tokens
		SET sequence_in_slot = $2, updated_at = $3
		WHERE id = $1
	`, id, seq, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTokenNotFound
	}
	return nil
}

func (r *PgTokenRepository) CountTokens(ctx context.Context, slotID uuid.UUID, statuses []Status) (int, error) {
	var n int
	var err error
	q := db.PgConn(ctx, r.pool)
	if statuses == nil {
		err = q.QueryRow(ctx, `SELECT count(*) FROM tokens WHERE slot_id = $1`, slotID).Scan(&n)
	} else {
		err = q.QueryRow(ctx, `
			SELECT count(*) FROM tokens WHERE slot_id = $1 AND status = ANY($2::text[])
		`, slotID, statusStrings(statuses)).Scan(&n)
	}
	return n, err
}

func (r *PgTokenRepository) ListTokens(ctx context.Context, f TokenFilter) ([]Token, error) {
	var where []string
	var args []any
	if f.SlotIDs != nil {
		args = append(args, uuidStrings(f.SlotIDs))
		where = append(where, fmt.Sprintf("slot_id = ANY($%d::uuid[])", len(args)))
	}
	if f.Statuses != nil {
		args = append(args, statusStrings(f.Statuses))
		where = append(where, fmt.Sprintf("status = ANY($%d::text[])", len(args)))
	}

	query := `SELECT ` + tokenCols + ` FROM tokens`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY priority_score DESC, created_at ASC, id ASC`
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}

	rows, err := db.PgConn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Token
	for rows.Next() {
		t, err := scanToken(rows)
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

func (r *PgTokenRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := db.PgConn(ctx, r.pool).Exec(ctx, `
		INSERT INTO event_logs (event_type, token_id, slot_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, ev.EventType, ev.TokenID, ev.SlotID, ev.Payload, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}
