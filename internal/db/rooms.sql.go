package db

import "context"

const createRoom = `-- name: CreateRoom :one
INSERT INTO rooms (code, owner_id)
VALUES (?, ?)
RETURNING code, owner_id, created_at
`

type CreateRoomParams struct {
	Code    string
	OwnerID string
}

func (q *Queries) CreateRoom(ctx context.Context, arg CreateRoomParams) (Room, error) {
	row := q.db.QueryRowContext(ctx, createRoom, arg.Code, arg.OwnerID)
	var i Room
	err := row.Scan(&i.Code, &i.OwnerID, &i.CreatedAt)
	return i, err
}

const getRoomByCode = `-- name: GetRoomByCode :one
SELECT code, owner_id, created_at FROM rooms WHERE code = ?
`

func (q *Queries) GetRoomByCode(ctx context.Context, code string) (Room, error) {
	row := q.db.QueryRowContext(ctx, getRoomByCode, code)
	var i Room
	err := row.Scan(&i.Code, &i.OwnerID, &i.CreatedAt)
	return i, err
}
