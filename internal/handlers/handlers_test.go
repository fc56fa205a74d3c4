package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/tunr/backend/internal/broker"
	"github.com/tunr/backend/internal/config"
	"github.com/tunr/backend/internal/database"
	"github.com/tunr/backend/internal/db"
	"github.com/tunr/backend/internal/engine"
	"github.com/tunr/backend/internal/middleware"
	"github.com/tunr/backend/internal/models"
	"github.com/tunr/backend/internal/services"
	"github.com/tunr/backend/internal/store"
)

type testEnv struct {
	srv        *httptest.Server
	store      *store.Store
	auth       *services.AuthService
	hostToken  string
	guestToken string
}

// newTestEnv serves the API over a fresh in-memory database with two
// identities, "host" and "guest".
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	sqlDB, err := database.New(":memory:")
	if err != nil {
		t.Fatalf("database.New() error: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	if err := database.RunMigrations(sqlDB); err != nil {
		t.Fatalf("RunMigrations() error: %v", err)
	}
	st := store.New(db.New(sqlDB), broker.New(), nil)
	auth := services.NewAuthService("test-secret", time.Hour)

	env := &testEnv{store: st, auth: auth}
	for _, id := range []string{"host", "guest"} {
		if _, err := st.CreateIdentity(context.Background(), id, id+"-name", "hash"); err != nil {
			t.Fatalf("CreateIdentity(%s) error: %v", id, err)
		}
	}
	env.hostToken, _ = auth.GenerateToken("host")
	env.guestToken, _ = auth.GenerateToken("guest")

	cfg := &config.Config{PulseRatePerSecond: 100}
	identities := NewIdentityHandler(services.NewIdentityService(st), auth)
	rooms := NewRoomHandler(st)
	songs := NewSongHandler(st, services.NewCatalogService("", ""))
	queue := NewQueueHandler(st)
	realtime := NewRealtimeHandler(st, cfg.PulseRatePerSecond, middleware.NewOrigins(nil))

	r := chi.NewRouter()
	r.Post("/identities", identities.Create)
	r.Post("/identities/refresh", identities.Refresh)
	r.Get("/config", NewConfigHandler(cfg).PublicConfig)
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(auth))
		r.Get("/identities/me", identities.Me)
		r.Post("/rooms", rooms.Create)
		r.Get("/rooms/{code}", rooms.Get)
		r.Get("/rooms/{code}/queue", queue.List)
		r.Post("/rooms/{code}/queue", queue.Insert)
		r.Patch("/rooms/{code}/queue", queue.UpdateRoom)
		r.Delete("/rooms/{code}/queue", queue.DeleteRoom)
		r.Get("/rooms/{code}/queue/latest", queue.Latest)
		r.Get("/rooms/{code}/ws", realtime.Serve)
		r.Get("/rooms/{code}/events", NewSSEHandler(st).Stream)
		r.Get("/queue", queue.ByIDs)
		r.Patch("/queue/{id}", queue.Update)
		r.Delete("/queue/{id}", queue.Delete)
		r.Get("/songs/{number}", songs.Get)
		r.Post("/songs", songs.Register)
		r.Get("/catalog/{number}", songs.Lookup)
	})
	env.srv = httptest.NewServer(r)
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("NewRequest() error: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

// seedRoom registers room ABCD to host, song 101, and one playing entry.
func (e *testEnv) seedRoom(t *testing.T) (songID, entryID int64) {
	t.Helper()
	if resp := e.do(t, http.MethodPost, "/rooms", e.hostToken, models.CreateRoomRequest{Code: "abcd"}); resp.StatusCode != http.StatusCreated {
		t.Fatalf("create room status = %d", resp.StatusCode)
	}
	resp := e.do(t, http.MethodPost, "/songs", e.hostToken, engine.CatalogItem{Number: 101, Title: "Song", Artist: "Artist", MediaRef: "vid", DurationSeconds: 180})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register song status = %d", resp.StatusCode)
	}
	songID = decode[models.SongResponse](t, resp).ID

	resp = e.do(t, http.MethodPost, "/rooms/ABCD/queue", e.hostToken, engine.NewEntry{SongID: songID, SingerName: "Alex", Status: engine.StatusPlaying, IsPlaying: true})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("insert status = %d", resp.StatusCode)
	}
	return songID, decode[models.InsertEntryResponse](t, resp).ID
}

func TestIdentityLifecycle(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/identities", "", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	created := decode[models.CreateIdentityResponse](t, resp)
	if created.IdentityID == "" || created.Token == "" || len(strings.Fields(created.Secret)) != 12 {
		t.Fatalf("created = %+v, want id, token and 12-word secret", created)
	}

	tests := []struct {
		name   string
		secret string
		want   int
	}{
		{"correct secret", created.Secret, http.StatusOK},
		{"secret with different spacing and case", "  " + strings.ToUpper(created.Secret) + " ", http.StatusOK},
		{"wrong secret", "abandon abandon abandon", http.StatusUnauthorized},
		{"empty secret", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/identities/refresh", "", models.RefreshIdentityRequest{IdentityID: created.IdentityID, Secret: tt.secret})
			if resp.StatusCode != tt.want {
				t.Errorf("refresh status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}

	me := decode[models.TokenResponse](t, env.do(t, http.MethodGet, "/identities/me", created.Token, nil))
	if me.IdentityID != created.IdentityID || me.DisplayName != created.DisplayName {
		t.Errorf("me = %+v, want %s/%s", me, created.IdentityID, created.DisplayName)
	}
}

func TestRoomCreate(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		token    string
		code     string
		want     int
		wantCode string
	}{
		{"first claim", env.hostToken, "abcd", http.StatusCreated, ""},
		{"taken code", env.guestToken, "ABCD", http.StatusConflict, "code_taken"},
		{"too short", env.hostToken, "AB", http.StatusBadRequest, "invalid"},
		{"no token", "", "WXYZ", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/rooms", tt.token, models.CreateRoomRequest{Code: tt.code})
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if tt.wantCode != "" {
				if got := decode[models.ErrorResponse](t, resp).Code; got != tt.wantCode {
					t.Errorf("code = %q, want %q", got, tt.wantCode)
				}
			}
		})
	}

	room := decode[models.RoomResponse](t, env.do(t, http.MethodGet, "/rooms/abcd", env.guestToken, nil))
	if room.OwnerID != "host" || room.IsOwner {
		t.Errorf("guest view of room = %+v, want owner host, not owner", room)
	}
	if resp := env.do(t, http.MethodGet, "/rooms/NONE", env.guestToken, nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing room status = %d, want 404", resp.StatusCode)
	}
}

func TestQueueOwnerPolicy(t *testing.T) {
	env := newTestEnv(t)
	songID, entryID := env.seedRoom(t)
	paused := false
	history := engine.StatusHistory

	t.Run("guest insert is allowed", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/rooms/abcd/queue", env.guestToken, engine.NewEntry{SongID: songID, SingerName: "Sam", Status: engine.StatusQueued})
		if resp.StatusCode != http.StatusCreated {
			t.Errorf("status = %d, want 201", resp.StatusCode)
		}
	})

	t.Run("guest single update is 403", func(t *testing.T) {
		resp := env.do(t, http.MethodPatch, "/queue/"+itoa(entryID), env.guestToken, engine.EntryPatch{IsPlaying: &paused})
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", resp.StatusCode)
		}
		if got := decode[models.ErrorResponse](t, resp).Code; got != "not_owner" {
			t.Errorf("code = %q, want not_owner", got)
		}
	})

	t.Run("guest bulk update is 200 with nothing affected", func(t *testing.T) {
		resp := env.do(t, http.MethodPatch, "/rooms/ABCD/queue?status=playing", env.guestToken, engine.EntryPatch{Status: &history})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		if got := decode[models.AffectedResponse](t, resp).Affected; got != 0 {
			t.Errorf("affected = %d, want 0", got)
		}
	})

	t.Run("guest delete is 403", func(t *testing.T) {
		if resp := env.do(t, http.MethodDelete, "/queue/"+itoa(entryID), env.guestToken, nil); resp.StatusCode != http.StatusForbidden {
			t.Errorf("status = %d, want 403", resp.StatusCode)
		}
	})

	t.Run("missing entry is 404", func(t *testing.T) {
		if resp := env.do(t, http.MethodDelete, "/queue/9999", env.hostToken, nil); resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})

	t.Run("host update succeeds", func(t *testing.T) {
		resp := env.do(t, http.MethodPatch, "/queue/"+itoa(entryID), env.hostToken, engine.EntryPatch{IsPlaying: &paused})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		if got := decode[models.AffectedResponse](t, resp).Affected; got != 1 {
			t.Errorf("affected = %d, want 1", got)
		}
	})

	rows := decode[[]engine.Row](t, env.do(t, http.MethodGet, "/rooms/ABCD/queue?status=playing,queued", env.guestToken, nil))
	if len(rows) != 2 || rows[0].SingerName != "Alex" || rows[0].Status != "playing" || rows[0].IsPlaying {
		t.Errorf("rows = %+v, want Alex paused then Sam", rows)
	}
}

func TestQueueReads(t *testing.T) {
	env := newTestEnv(t)
	_, entryID := env.seedRoom(t)

	latest := decode[*engine.Row](t, env.do(t, http.MethodGet, "/rooms/ABCD/queue/latest?status=playing", env.guestToken, nil))
	if latest == nil || latest.ID != entryID {
		t.Errorf("latest playing = %+v, want entry %d", latest, entryID)
	}
	none := decode[*engine.Row](t, env.do(t, http.MethodGet, "/rooms/ABCD/queue/latest?status=history", env.guestToken, nil))
	if none != nil {
		t.Errorf("latest history = %+v, want null", none)
	}

	byID := decode[[]engine.Row](t, env.do(t, http.MethodGet, "/queue?ids="+itoa(entryID)+",9999", env.guestToken, nil))
	if len(byID) != 1 || byID[0].Song == nil || byID[0].Song.Number != 101 {
		t.Errorf("by id = %+v, want the seeded entry with its song", byID)
	}

	tests := []struct {
		name string
		path string
		want int
	}{
		{"unknown status", "/rooms/ABCD/queue?status=skipped", http.StatusBadRequest},
		{"latest needs one status", "/rooms/ABCD/queue/latest", http.StatusBadRequest},
		{"bad room code", "/rooms/a!/queue", http.StatusBadRequest},
		{"bad id list", "/queue?ids=1,x", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if resp := env.do(t, http.MethodGet, tt.path, env.guestToken, nil); resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestSongs(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/songs", env.hostToken, engine.CatalogItem{Title: "Quick", MediaRef: "abc", DurationSeconds: 90})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("quick add status = %d, want 201", resp.StatusCode)
	}
	if got := decode[models.SongResponse](t, resp).Number; got != 10000 {
		t.Errorf("quick add number = %d, want 10000", got)
	}

	song := decode[models.SongResponse](t, env.do(t, http.MethodGet, "/songs/10000", env.guestToken, nil))
	if song.Title != "Quick" || song.MediaRef != "abc" {
		t.Errorf("song = %+v", song)
	}
	if resp := env.do(t, http.MethodGet, "/songs/4242", env.guestToken, nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing song status = %d, want 404", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodPost, "/songs", env.hostToken, engine.CatalogItem{Number: 5}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("incomplete song status = %d, want 400", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodGet, "/catalog/101", env.guestToken, nil); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("unconfigured catalog status = %d, want 503", resp.StatusCode)
	}
}

func TestPublicConfig(t *testing.T) {
	env := newTestEnv(t)
	cfg := decode[models.PublicConfig](t, env.do(t, http.MethodGet, "/config", "", nil))
	if cfg.PlayingPulseMs != engine.PlayingPulseInterval.Milliseconds() || cfg.CatalogLookup {
		t.Errorf("config = %+v", cfg)
	}
}

func (e *testEnv) dial(t *testing.T, room, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/rooms/" + room + "/ws?" + middleware.AccessTokenParam + "=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial(%s) error: %v", room, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads frames until one of type typ arrives or the deadline passes.
func readUntil(t *testing.T, conn *websocket.Conn, typ string, deadline time.Time) (models.SyncMessage, bool) {
	t.Helper()
	conn.SetReadDeadline(deadline)
	for {
		var msg models.SyncMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return msg, false
		}
		if msg.Type == typ {
			return msg, true
		}
	}
}

func TestRealtimeRelay(t *testing.T) {
	env := newTestEnv(t)
	songID, _ := env.seedRoom(t)

	host := env.dial(t, "ABCD", env.hostToken)
	guest := env.dial(t, "abcd", env.guestToken)

	// The server subscribes just after the upgrade; keep pulsing until the
	// guest has seen one.
	done := make(chan struct{})
	defer close(done)
	go func() {
		playing := true
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				host.WriteJSON(models.SyncMessage{Type: models.MessageSync, Payload: &engine.Pulse{Seconds: 42, Playing: &playing}})
			}
		}
	}()

	msg, ok := readUntil(t, guest, models.MessageSync, time.Now().Add(3*time.Second))
	if !ok {
		t.Fatal("guest never received a sync frame")
	}
	if msg.Payload == nil || msg.Payload.Seconds != 42 || msg.Payload.Playing == nil || !*msg.Payload.Playing {
		t.Errorf("sync payload = %+v, want 42 playing", msg.Payload)
	}

	guest.WriteJSON(models.SyncMessage{Type: models.MessageSync, Payload: &engine.Pulse{Seconds: 1}})
	if msg, ok := readUntil(t, guest, models.MessageError, time.Now().Add(3*time.Second)); !ok || msg.Error == "" {
		t.Errorf("guest pulse: error frame = %+v, %v, want a refusal", msg, ok)
	}

	resp := env.do(t, http.MethodPost, "/rooms/ABCD/queue", env.guestToken, engine.NewEntry{SongID: songID, SingerName: "Sam", Status: engine.StatusQueued})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("insert status = %d", resp.StatusCode)
	}
	if _, ok := readUntil(t, guest, models.MessageQueueChanged, time.Now().Add(3*time.Second)); !ok {
		t.Error("guest never received queue_changed")
	}
}

func TestRealtimeUnknownRoom(t *testing.T) {
	env := newTestEnv(t)
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/rooms/NONE/ws?access_token=" + env.guestToken
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("Dial() succeeded for an unregistered room")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("handshake response = %v, want 404", resp)
	}
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
