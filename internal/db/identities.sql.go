package db

import "context"

const createIdentity = `-- name: CreateIdentity :one
INSERT INTO identities (id, display_name, secret_hash)
VALUES (?, ?, ?)
RETURNING id, display_name, secret_hash, created_at
`

type CreateIdentityParams struct {
	ID          string
	DisplayName string
	SecretHash  string
}

func (q *Queries) CreateIdentity(ctx context.Context, arg CreateIdentityParams) (Identity, error) {
	row := q.db.QueryRowContext(ctx, createIdentity, arg.ID, arg.DisplayName, arg.SecretHash)
	var i Identity
	err := row.Scan(&i.ID, &i.DisplayName, &i.SecretHash, &i.CreatedAt)
	return i, err
}

const getIdentityByID = `-- name: GetIdentityByID :one
SELECT id, display_name, secret_hash, created_at FROM identities WHERE id = ?
`

func (q *Queries) GetIdentityByID(ctx context.Context, id string) (Identity, error) {
	row := q.db.QueryRowContext(ctx, getIdentityByID, id)
	var i Identity
	err := row.Scan(&i.ID, &i.DisplayName, &i.SecretHash, &i.CreatedAt)
	return i, err
}

const displayNameExists = `-- name: DisplayNameExists :one
SELECT EXISTS (SELECT 1 FROM identities WHERE display_name = ?)
`

func (q *Queries) DisplayNameExists(ctx context.Context, displayName string) (bool, error) {
	row := q.db.QueryRowContext(ctx, displayNameExists, displayName)
	var exists bool
	err := row.Scan(&exists)
	return exists, err
}
