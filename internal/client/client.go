// Package client talks to a tunr server over its HTTP API and room
// websocket. A Client implements every engine port, so an engine.Session can
// drive a remote room.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tunr/backend/internal/engine"
	"github.com/tunr/backend/internal/models"
)

// ErrUnauthorized is returned when the server rejects the held credentials
// and they cannot be refreshed.
var ErrUnauthorized = errors.New("unauthorized")

// StatusError is a non-2xx API response. It unwraps to the engine sentinel
// matching its status, so callers can test it with errors.Is.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (e *StatusError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return engine.ErrPermission
	case http.StatusNotFound:
		return engine.ErrNotFound
	case http.StatusConflict:
		return engine.ErrConflict
	}
	return nil
}

// Credentials identify the caller. Secret lets the client mint a new Token
// when the old one expires.
type Credentials struct {
	IdentityID  string
	DisplayName string
	Secret      string
	Token       string
}

// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
	log        *slog.Logger

	mu            sync.RWMutex
	creds         Credentials
	onCredentials func(Credentials)
}

var (
	_ engine.QueueStore       = (*Client)(nil)
	_ engine.Catalog          = (*Client)(nil)
	_ engine.RoomRegistry     = (*Client)(nil)
	_ engine.IdentityProvider = (*Client)(nil)
	_ engine.Dialer           = (*Client)(nil)
)

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithCredentials starts the client with previously saved credentials.
func WithCredentials(creds Credentials) Option {
	return func(c *Client) { c.creds = creds }
}

// OnCredentials is called whenever the client obtains a new identity or
// token, typically to persist them.
func OnCredentials(fn func(Credentials)) Option {
	return func(c *Client) { c.onCredentials = fn }
}

// New returns a client for the server at baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Credentials returns a copy of the held credentials.
func (c *Client) Credentials() Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds
}

func (c *Client) setCredentials(creds Credentials) {
	c.mu.Lock()
	c.creds = creds
	fn := c.onCredentials
	c.mu.Unlock()
	if fn != nil {
		fn(creds)
	}
}

func (c *Client) token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds.Token
}

func (c *Client) canRefresh() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds.IdentityID != "" && c.creds.Secret != ""
}

// do sends a JSON request and decodes a JSON response into out. A 401 is
// retried once after refreshing the token.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	err := c.send(ctx, method, path, payload, out)
	if errors.Is(err, ErrUnauthorized) && c.canRefresh() {
		if rerr := c.refresh(ctx); rerr != nil {
			return errors.Join(err, rerr)
		}
		err = c.send(ctx, method, path, payload, out)
	}
	return err
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return statusError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	var e models.ErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(raw, &e); err != nil {
		e.Error = strings.TrimSpace(string(raw))
	}
	return &StatusError{Status: resp.StatusCode, Code: e.Code, Message: e.Error}
}

// Identity

func (c *Client) Identity() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds.IdentityID
}

// SignInAnonymously refreshes the token of the held identity, or creates a
// new identity when none is held.
func (c *Client) SignInAnonymously(ctx context.Context) (string, error) {
	if c.canRefresh() {
		if err := c.refresh(ctx); err != nil {
			return "", err
		}
		return c.Identity(), nil
	}

	var resp models.CreateIdentityResponse
	if err := c.send(ctx, http.MethodPost, "/api/identities", nil, &resp); err != nil {
		return "", fmt.Errorf("create identity: %w", err)
	}
	c.setCredentials(Credentials{
		IdentityID:  resp.IdentityID,
		DisplayName: resp.DisplayName,
		Secret:      resp.Secret,
		Token:       resp.Token,
	})
	c.log.Debug("identity created", slog.String("identity_id", resp.IdentityID))
	return resp.IdentityID, nil
}

func (c *Client) refresh(ctx context.Context) error {
	creds := c.Credentials()
	payload, _ := json.Marshal(models.RefreshIdentityRequest{IdentityID: creds.IdentityID, Secret: creds.Secret})

	var resp models.TokenResponse
	if err := c.send(ctx, http.MethodPost, "/api/identities/refresh", payload, &resp); err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}
	creds.Token = resp.Token
	creds.DisplayName = resp.DisplayName
	c.setCredentials(creds)
	return nil
}

// Rooms

// RegisterRoom claims code for the caller. The server takes the owner from
// the token, so ownerID is only checked against the held identity.
func (c *Client) RegisterRoom(ctx context.Context, code, ownerID string) error {
	if id := c.Identity(); ownerID != "" && id != "" && ownerID != id {
		return fmt.Errorf("register room %s for %s: %w", code, ownerID, engine.ErrPermission)
	}
	return c.do(ctx, http.MethodPost, "/api/rooms", models.CreateRoomRequest{Code: code}, nil)
}

func (c *Client) RoomOwner(ctx context.Context, code string) (string, error) {
	var resp models.RoomResponse
	if err := c.do(ctx, http.MethodGet, "/api/rooms/"+url.PathEscape(code), nil, &resp); err != nil {
		return "", err
	}
	return resp.OwnerID, nil
}

// Songs

func (c *Client) FindSong(ctx context.Context, number int) (int64, error) {
	var resp models.SongResponse
	if err := c.do(ctx, http.MethodGet, "/api/songs/"+strconv.Itoa(number), nil, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

func (c *Client) RegisterSong(ctx context.Context, item engine.CatalogItem) (int64, error) {
	var resp models.SongResponse
	if err := c.do(ctx, http.MethodPost, "/api/songs", item, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

// AddSong registers item and returns it as stored. A zero Number takes the
// next free number.
func (c *Client) AddSong(ctx context.Context, item engine.CatalogItem) (engine.CatalogItem, error) {
	var resp models.SongResponse
	if err := c.do(ctx, http.MethodPost, "/api/songs", item, &resp); err != nil {
		return engine.CatalogItem{}, err
	}
	return resp.CatalogItem, nil
}

// LookupSong resolves a song number, first against the registered songs and
// then against the server's external catalog.
func (c *Client) LookupSong(ctx context.Context, number int) (engine.CatalogItem, error) {
	var song models.SongResponse
	err := c.do(ctx, http.MethodGet, "/api/songs/"+strconv.Itoa(number), nil, &song)
	if err == nil {
		return song.CatalogItem, nil
	}
	if !errors.Is(err, engine.ErrNotFound) {
		return engine.CatalogItem{}, err
	}
	var item engine.CatalogItem
	if err := c.do(ctx, http.MethodGet, "/api/catalog/"+strconv.Itoa(number), nil, &item); err != nil {
		return engine.CatalogItem{}, fmt.Errorf("song %d: %w", number, err)
	}
	return item, nil
}

// Search queries the server's external catalog.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]engine.CatalogItem, error) {
	q := url.Values{"q": {query}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp models.SearchResponse
	if err := c.do(ctx, http.MethodGet, "/api/catalog/search?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Queue

func roomPath(room string) string {
	return "/api/rooms/" + url.PathEscape(room) + "/queue"
}

func statusQuery(statuses ...engine.Status) string {
	if len(statuses) == 0 {
		return ""
	}
	parts := make([]string, len(statuses))
	for i, s := range statuses {
		parts[i] = string(s)
	}
	return "?" + url.Values{"status": {strings.Join(parts, ",")}}.Encode()
}

func (c *Client) ListEntries(ctx context.Context, room string, statuses ...engine.Status) ([]engine.Row, error) {
	var rows []engine.Row
	if err := c.do(ctx, http.MethodGet, roomPath(room)+statusQuery(statuses...), nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) EntriesByID(ctx context.Context, ids ...int64) ([]engine.Row, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	var rows []engine.Row
	if err := c.do(ctx, http.MethodGet, "/api/queue?ids="+strings.Join(parts, ","), nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) LatestUpdated(ctx context.Context, room string, status engine.Status) (*engine.Row, error) {
	var row *engine.Row
	if err := c.do(ctx, http.MethodGet, roomPath(room)+"/latest"+statusQuery(status), nil, &row); err != nil {
		return nil, err
	}
	return row, nil
}

func (c *Client) InsertEntry(ctx context.Context, e engine.NewEntry) (int64, error) {
	var resp models.InsertEntryResponse
	if err := c.do(ctx, http.MethodPost, roomPath(e.RoomCode), e, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

func (c *Client) UpdateEntry(ctx context.Context, id int64, p engine.EntryPatch) (int64, error) {
	var resp models.AffectedResponse
	if err := c.do(ctx, http.MethodPatch, "/api/queue/"+strconv.FormatInt(id, 10), p, &resp); err != nil {
		return 0, err
	}
	return resp.Affected, nil
}

func (c *Client) UpdateRoomEntries(ctx context.Context, room string, status engine.Status, p engine.EntryPatch) (int64, error) {
	var resp models.AffectedResponse
	if err := c.do(ctx, http.MethodPatch, roomPath(room)+statusQuery(status), p, &resp); err != nil {
		return 0, err
	}
	return resp.Affected, nil
}

func (c *Client) DeleteEntry(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, "/api/queue/"+strconv.FormatInt(id, 10), nil, nil)
}

func (c *Client) DeleteRoomEntries(ctx context.Context, room string) (int64, error) {
	var resp models.AffectedResponse
	if err := c.do(ctx, http.MethodDelete, roomPath(room), nil, &resp); err != nil {
		return 0, err
	}
	return resp.Affected, nil
}
