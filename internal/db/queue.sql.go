package db

import (
	"context"
	"database/sql"
	"strings"
)

const queueEntryColumns = `q.id, q.song_id, s.number, s.title, s.artist, s.media_ref, s.duration_seconds, s.thumbnail_url,
       q.singer_name, q.status, q.room_code, q.is_playing, q.position_seconds, q.reset_trigger_count,
       q.last_sync_at, q.created_at, q.updated_at
FROM queue q LEFT JOIN songs s ON s.id = q.song_id`

// ownedRoom restricts a write to rooms owned by the bound identity.
const ownedRoom = `room_code IN (SELECT code FROM rooms WHERE owner_id = ?)`

func scanQueueEntry(row interface{ Scan(...interface{}) error }) (QueueEntry, error) {
	var i QueueEntry
	err := row.Scan(
		&i.ID,
		&i.SongID,
		&i.SongNumber,
		&i.SongTitle,
		&i.SongArtist,
		&i.SongMediaRef,
		&i.SongDurationSeconds,
		&i.SongThumbnailUrl,
		&i.SingerName,
		&i.Status,
		&i.RoomCode,
		&i.IsPlaying,
		&i.PositionSeconds,
		&i.ResetTriggerCount,
		&i.LastSyncAt,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

func (q *Queries) queryQueueEntries(ctx context.Context, query string, args ...interface{}) ([]QueueEntry, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []QueueEntry
	for rows.Next() {
		i, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return "NULL"
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

type ListQueueEntriesParams struct {
	RoomCode string
	Statuses []string
}

// ListQueueEntries returns a room's entries with any of the given statuses
// in queue order.
func (q *Queries) ListQueueEntries(ctx context.Context, arg ListQueueEntriesParams) ([]QueueEntry, error) {
	query := `-- name: ListQueueEntries :many
SELECT ` + queueEntryColumns + `
WHERE q.room_code = ? AND q.status IN (` + placeholders(len(arg.Statuses)) + `)
ORDER BY q.created_at ASC, q.id ASC`
	args := make([]interface{}, 0, len(arg.Statuses)+1)
	args = append(args, arg.RoomCode)
	for _, s := range arg.Statuses {
		args = append(args, s)
	}
	return q.queryQueueEntries(ctx, query, args...)
}

func (q *Queries) GetQueueEntriesByIDs(ctx context.Context, ids []int64) ([]QueueEntry, error) {
	query := `-- name: GetQueueEntriesByIDs :many
SELECT ` + queueEntryColumns + `
WHERE q.id IN (` + placeholders(len(ids)) + `)
ORDER BY q.created_at ASC, q.id ASC`
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return q.queryQueueEntries(ctx, query, args...)
}

const getQueueEntry = `-- name: GetQueueEntry :one
SELECT ` + queueEntryColumns + `
WHERE q.id = ?`

func (q *Queries) GetQueueEntry(ctx context.Context, id int64) (QueueEntry, error) {
	return scanQueueEntry(q.db.QueryRowContext(ctx, getQueueEntry, id))
}

const getLatestUpdatedEntry = `-- name: GetLatestUpdatedEntry :one
SELECT ` + queueEntryColumns + `
WHERE q.room_code = ? AND q.status = ?
ORDER BY q.updated_at DESC, q.id DESC
LIMIT 1`

type GetLatestUpdatedEntryParams struct {
	RoomCode string
	Status   string
}

func (q *Queries) GetLatestUpdatedEntry(ctx context.Context, arg GetLatestUpdatedEntryParams) (QueueEntry, error) {
	return scanQueueEntry(q.db.QueryRowContext(ctx, getLatestUpdatedEntry, arg.RoomCode, arg.Status))
}

const createQueueEntry = `-- name: CreateQueueEntry :one
INSERT INTO queue (song_id, singer_name, status, room_code, is_playing)
VALUES (?, ?, ?, ?, ?)
RETURNING id
`

type CreateQueueEntryParams struct {
	SongID     int64
	SingerName string
	Status     string
	RoomCode   string
	IsPlaying  bool
}

func (q *Queries) CreateQueueEntry(ctx context.Context, arg CreateQueueEntryParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, createQueueEntry,
		arg.SongID,
		arg.SingerName,
		arg.Status,
		arg.RoomCode,
		arg.IsPlaying,
	)
	var id int64
	err := row.Scan(&id)
	return id, err
}

// QueuePatch holds the columns a queue update may set. Null fields keep
// their current value.
type QueuePatch struct {
	Status            sql.NullString
	IsPlaying         sql.NullBool
	PositionSeconds   sql.NullInt64
	ResetTriggerCount sql.NullInt64
	CreatedAt         sql.NullString
	StampSync         bool
}

const queuePatchSet = `SET status              = COALESCE(?, status),
    is_playing          = COALESCE(?, is_playing),
    position_seconds    = COALESCE(?, position_seconds),
    reset_trigger_count = COALESCE(?, reset_trigger_count),
    created_at          = COALESCE(?, created_at),
    last_sync_at        = CASE WHEN ? THEN strftime('%Y-%m-%d %H:%M:%f', 'now') ELSE last_sync_at END,
    updated_at          = strftime('%Y-%m-%d %H:%M:%f', 'now')`

func (p QueuePatch) args() []interface{} {
	return []interface{}{
		p.Status,
		p.IsPlaying,
		p.PositionSeconds,
		p.ResetTriggerCount,
		p.CreatedAt,
		p.StampSync,
	}
}

const updateQueueEntry = `-- name: UpdateQueueEntry :execrows
UPDATE queue
` + queuePatchSet + `
WHERE id = ? AND ` + ownedRoom

type UpdateQueueEntryParams struct {
	QueuePatch
	ID      int64
	OwnerID string
}

// UpdateQueueEntry patches one entry if OwnerID owns its room and returns
// the number of rows changed.
func (q *Queries) UpdateQueueEntry(ctx context.Context, arg UpdateQueueEntryParams) (int64, error) {
	args := append(arg.QueuePatch.args(), arg.ID, arg.OwnerID)
	result, err := q.db.ExecContext(ctx, updateQueueEntry, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const updateRoomQueueEntries = `-- name: UpdateRoomQueueEntries :execrows
UPDATE queue
` + queuePatchSet + `
WHERE room_code = ? AND status = ? AND ` + ownedRoom

type UpdateRoomQueueEntriesParams struct {
	QueuePatch
	RoomCode    string
	WhereStatus string
	OwnerID     string
}

// UpdateRoomQueueEntries patches every entry of a room with WhereStatus.
// Rows in rooms OwnerID does not own are skipped, not reported.
func (q *Queries) UpdateRoomQueueEntries(ctx context.Context, arg UpdateRoomQueueEntriesParams) (int64, error) {
	args := append(arg.QueuePatch.args(), arg.RoomCode, arg.WhereStatus, arg.OwnerID)
	result, err := q.db.ExecContext(ctx, updateRoomQueueEntries, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteQueueEntry = `-- name: DeleteQueueEntry :execrows
DELETE FROM queue WHERE id = ? AND ` + ownedRoom

type DeleteQueueEntryParams struct {
	ID      int64
	OwnerID string
}

func (q *Queries) DeleteQueueEntry(ctx context.Context, arg DeleteQueueEntryParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteQueueEntry, arg.ID, arg.OwnerID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteRoomQueueEntries = `-- name: DeleteRoomQueueEntries :execrows
DELETE FROM queue WHERE room_code = ? AND ` + ownedRoom

type DeleteRoomQueueEntriesParams struct {
	RoomCode string
	OwnerID  string
}

func (q *Queries) DeleteRoomQueueEntries(ctx context.Context, arg DeleteRoomQueueEntriesParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteRoomQueueEntries, arg.RoomCode, arg.OwnerID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
