package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type Entry struct {
	ID          uuid.UUID `json:"id"`
	SubjectID   string    `json:"subject_id"`
	RoleClaim   string    `json:"role_claim"`
	Resource    string    `json:"resource"`
	State       string    `json:"state"`
	Destination string    `json:"destination"`
	Error       *string   `json:"error"`
	RequestID   string    `json:"request_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type RecordEntryParams struct {
	SubjectID   string
	RoleClaim   string
	Resource    string
	State       string
	Destination string
	Error       *string
	RequestID   string
}

const recordEntry = `
INSERT INTO access_decisions (id, subject_id, role_claim, resource, state, destination, error, request_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, subject_id, role_claim, resource, state, destination, error, request_id, created_at
`

func (q *Queries) RecordEntry(ctx context.Context, arg RecordEntryParams) (Entry, error) {
	row := q.db.QueryRow(ctx, recordEntry,
		uuid.New(),
		arg.SubjectID,
		arg.RoleClaim,
		arg.Resource,
		arg.State,
		arg.Destination,
		arg.Error,
		arg.RequestID,
	)
	var e Entry
	err := row.Scan(
		&e.ID,
		&e.SubjectID,
		&e.RoleClaim,
		&e.Resource,
		&e.State,
		&e.Destination,
		&e.Error,
		&e.RequestID,
		&e.CreatedAt,
	)
	return e, err
}

const listEntries = `
SELECT id, subject_id, role_claim, resource, state, destination, error, request_id, created_at
FROM access_decisions
ORDER BY created_at DESC, id
LIMIT $1 OFFSET $2
`

type ListEntriesParams struct {
	Limit  int32
	Offset int32
}

func (q *Queries) ListEntries(ctx context.Context, arg ListEntriesParams) ([]Entry, error) {
	rows, err := q.db.Query(ctx, listEntries, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var e Entry
		err := row.Scan(
			&e.ID,
			&e.SubjectID,
			&e.RoleClaim,
			&e.Resource,
			&e.State,
			&e.Destination,
			&e.Error,
			&e.RequestID,
			&e.CreatedAt,
		)
		return e, err
	})
}

const countEntries = `SELECT count(*) FROM access_decisions`

func (q *Queries) CountEntries(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countEntries).Scan(&count)
	return count, err
}
