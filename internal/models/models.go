// Package models holds the JSON request and response bodies of the HTTP API.
// Queue rows, inserts, patches and pulses travel as their engine types.
package models

import "github.com/tunr/backend/internal/engine"

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Identities
type CreateIdentityResponse struct {
	IdentityID  string `json:"identityId"`
	DisplayName string `json:"displayName"`
	Secret      string `json:"secret"`
	Token       string `json:"token"`
}

type RefreshIdentityRequest struct {
	IdentityID string `json:"identityId"`
	Secret     string `json:"secret"`
}

type TokenResponse struct {
	IdentityID  string `json:"identityId"`
	DisplayName string `json:"displayName"`
	Token       string `json:"token"`
}

// Rooms
type CreateRoomRequest struct {
	Code string `json:"code"`
}

type RoomResponse struct {
	Code    string `json:"code"`
	OwnerID string `json:"ownerId"`
	IsOwner bool   `json:"isOwner"`
}

// Songs
type SongResponse struct {
	ID int64 `json:"id"`
	engine.CatalogItem
}

type SearchResponse struct {
	Results []engine.CatalogItem `json:"results"`
}

// Queue
type InsertEntryResponse struct {
	ID int64 `json:"id"`
}

type AffectedResponse struct {
	Affected int64 `json:"affected"`
}

// Sync channel message types.
const (
	MessageQueueChanged = "queue_changed"
	MessageSync         = "sync"
	MessageError        = "error"
)

// SyncMessage is one frame on the room websocket. Payload is set for sync
// frames; Error for error frames.
type SyncMessage struct {
	Type    string        `json:"type"`
	Payload *engine.Pulse `json:"payload,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// PublicConfig exposes the playback cadences so clients need not hard-code them.
type PublicConfig struct {
	PlayingPulseMs    int64   `json:"playingPulseMs"`
	PausedPulseMs     int64   `json:"pausedPulseMs"`
	WatchdogMs        int64   `json:"watchdogMs"`
	OverrunGraceMs    int64   `json:"overrunGraceMs"`
	DriftToleranceSec float64 `json:"driftToleranceSec"`
	LatencyWindowMs   int64   `json:"latencyWindowMs"`
	NudgeStepMs       int     `json:"nudgeStepMs"`
	CatalogLookup     bool    `json:"catalogLookup"`
	CatalogSearch     bool    `json:"catalogSearch"`
}
