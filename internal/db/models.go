package db

import "database/sql"

type Identity struct {
	ID          string
	DisplayName string
	SecretHash  string
	CreatedAt   string
}

type Room struct {
	Code      string
	OwnerID   string
	CreatedAt string
}

type Song struct {
	ID              int64
	Number          int64
	Title           string
	Artist          string
	MediaRef        string
	DurationSeconds int64
	ThumbnailUrl    string
	CreatedAt       string
}

// QueueEntry is a queue row joined with its song. The song columns are null
// when the song row is gone.
type QueueEntry struct {
	ID                  int64
	SongID              sql.NullInt64
	SongNumber          sql.NullInt64
	SongTitle           sql.NullString
	SongArtist          sql.NullString
	SongMediaRef        sql.NullString
	SongDurationSeconds sql.NullInt64
	SongThumbnailUrl    sql.NullString
	SingerName          string
	Status              string
	RoomCode            string
	IsPlaying           bool
	PositionSeconds     int64
	ResetTriggerCount   int64
	LastSyncAt          sql.NullString
	CreatedAt           string
	UpdatedAt           string
}
