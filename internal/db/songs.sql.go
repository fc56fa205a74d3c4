package db

import "context"

const getSongByNumber = `-- name: GetSongByNumber :one
SELECT id, number, title, artist, media_ref, duration_seconds, thumbnail_url, created_at
FROM songs WHERE number = ?
`

func (q *Queries) GetSongByNumber(ctx context.Context, number int64) (Song, error) {
	row := q.db.QueryRowContext(ctx, getSongByNumber, number)
	var i Song
	err := row.Scan(&i.ID, &i.Number, &i.Title, &i.Artist, &i.MediaRef, &i.DurationSeconds, &i.ThumbnailUrl, &i.CreatedAt)
	return i, err
}

const createSong = `-- name: CreateSong :one
INSERT INTO songs (number, title, artist, media_ref, duration_seconds, thumbnail_url)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (number) DO UPDATE SET number = excluded.number
RETURNING id, number, title, artist, media_ref, duration_seconds, thumbnail_url, created_at
`

type CreateSongParams struct {
	Number          int64
	Title           string
	Artist          string
	MediaRef        string
	DurationSeconds int64
	ThumbnailUrl    string
}

// CreateSong registers a song. Registering a number twice returns the
// existing row unchanged.
func (q *Queries) CreateSong(ctx context.Context, arg CreateSongParams) (Song, error) {
	row := q.db.QueryRowContext(ctx, createSong,
		arg.Number,
		arg.Title,
		arg.Artist,
		arg.MediaRef,
		arg.DurationSeconds,
		arg.ThumbnailUrl,
	)
	var i Song
	err := row.Scan(&i.ID, &i.Number, &i.Title, &i.Artist, &i.MediaRef, &i.DurationSeconds, &i.ThumbnailUrl, &i.CreatedAt)
	return i, err
}

const nextSongNumber = `-- name: NextSongNumber :one
SELECT COALESCE(MAX(number), 9999) + 1 FROM songs
`

// NextSongNumber returns the number a newly added song should take. Numbers
// handed out this way start at 10000.
func (q *Queries) NextSongNumber(ctx context.Context) (int64, error) {
	row := q.db.QueryRowContext(ctx, nextSongNumber)
	var n int64
	err := row.Scan(&n)
	return n, err
}
