package main

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/tunr/backend/internal/broker"
	"github.com/tunr/backend/internal/client"
	"github.com/tunr/backend/internal/config"
	"github.com/tunr/backend/internal/database"
	"github.com/tunr/backend/internal/db"
	"github.com/tunr/backend/internal/engine"
	"github.com/tunr/backend/internal/router"
	"github.com/tunr/backend/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	sqlDB, err := database.New(":memory:")
	if err != nil {
		t.Fatalf("database.New() error: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	if err := database.RunMigrations(sqlDB); err != nil {
		t.Fatalf("RunMigrations() error: %v", err)
	}
	cfg := &config.Config{JWTSecret: "test", IdentityTokenDuration: time.Hour, RateLimitPerMinute: 600, PulseRatePerSecond: 100}
	st := store.New(db.New(sqlDB), broker.New(), nil)
	srv := httptest.NewServer(router.New(cfg, st, nil))
	t.Cleanup(srv.Close)
	return srv, st
}

// cliUser runs tunr commands with its own state file.
type cliUser struct {
	t      *testing.T
	server string
	state  string
}

func newUser(t *testing.T, server string) *cliUser {
	return &cliUser{t: t, server: server, state: filepath.Join(t.TempDir(), "state.toml")}
}

func (u *cliUser) run(ctx context.Context, args ...string) (string, error) {
	u.t.Helper()
	var out bytes.Buffer
	r := NewRunner(RunnerOpts{Output: &out, Logger: log.New(&bytes.Buffer{})})
	argv := append([]string{"tunr", "--state", u.state, "--server", u.server}, args...)
	err := newApp(r).Run(ctx, argv)
	return out.String(), err
}

func TestIdentityIsCreatedOnceAndSaved(t *testing.T) {
	srv, _ := newTestServer(t)
	u := newUser(t, srv.URL)
	ctx := context.Background()

	out, err := u.run(ctx, "identity")
	if err != nil {
		t.Fatalf("identity error: %v", err)
	}
	st, err := client.LoadState(u.state)
	if err != nil {
		t.Fatalf("LoadState() error: %v", err)
	}
	if st.IdentityID == "" || st.Secret == "" || st.Server != srv.URL {
		t.Fatalf("saved state = %+v", st)
	}
	if !strings.Contains(out, st.IdentityID) {
		t.Errorf("output %q does not name identity %s", out, st.IdentityID)
	}

	if _, err := u.run(ctx, "identity"); err != nil {
		t.Fatalf("second identity error: %v", err)
	}
	again, _ := client.LoadState(u.state)
	if again.IdentityID != st.IdentityID {
		t.Errorf("identity changed from %s to %s", st.IdentityID, again.IdentityID)
	}

	if _, err := u.run(ctx, "identity", "--new"); err != nil {
		t.Fatalf("identity --new error: %v", err)
	}
	fresh, _ := client.LoadState(u.state)
	if fresh.IdentityID == st.IdentityID {
		t.Error("identity --new kept the old identity")
	}
}

func TestHostAndQueueCommands(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()
	for n, title := range map[int]string{101: "First", 202: "Second"} {
		if _, err := st.RegisterSong(ctx, engine.CatalogItem{Number: n, Title: title, MediaRef: "vid", DurationSeconds: 200}); err != nil {
			t.Fatalf("RegisterSong(%d) error: %v", n, err)
		}
	}

	host := newUser(t, srv.URL)
	if _, err := host.run(ctx, "identity"); err != nil {
		t.Fatalf("identity error: %v", err)
	}
	// host runs until interrupted; the timeout stands in for Ctrl-C.
	hostCtx, cancel := context.WithTimeout(ctx, time.Second)
	out, err := host.run(hostCtx, "host", "--code", "abcd")
	cancel()
	if err != nil {
		t.Fatalf("host error: %v", err)
	}
	if !strings.Contains(out, "Hosting room ABCD") {
		t.Fatalf("host output = %q", out)
	}
	saved, _ := client.LoadState(host.state)
	if saved.HostedRoom != "ABCD" {
		t.Errorf("HostedRoom = %q, want ABCD", saved.HostedRoom)
	}

	// Queue commands default to the hosted room.
	out, err = host.run(ctx, "queue", "add", "--singer", "Alex", "101")
	if err != nil {
		t.Fatalf("queue add error: %v", err)
	}
	if !strings.Contains(out, "> [") || !strings.Contains(out, "Alex") {
		t.Errorf("after first add = %q, want Alex playing", out)
	}
	if _, err := host.run(ctx, "queue", "add", "--singer", "Sam", "202"); err != nil {
		t.Fatalf("second queue add error: %v", err)
	}

	out, err = host.run(ctx, "queue", "next")
	if err != nil {
		t.Fatalf("queue next error: %v", err)
	}
	if !strings.Contains(out, "#202 Second, sung by Sam") || strings.Contains(out, "1. [") {
		t.Errorf("after next = %q, want Sam playing and nothing queued", out)
	}

	// A guest may queue but not drive playback.
	guest := newUser(t, srv.URL)
	if _, err := guest.run(ctx, "queue", "--room", "ABCD", "add", "--singer", "Kim", "101"); err != nil {
		t.Fatalf("guest add error: %v", err)
	}
	_, err = guest.run(ctx, "queue", "--room", "ABCD", "toggle")
	if !errors.Is(err, engine.ErrPermission) {
		t.Errorf("guest toggle error = %v, want ErrPermission", err)
	}
	if got := engine.UserMessage(err); !strings.Contains(got, "don't own this room") {
		t.Errorf("UserMessage = %q", got)
	}

	out, err = host.run(ctx, "queue", "ls")
	if err != nil {
		t.Fatalf("queue ls error: %v", err)
	}
	if !strings.Contains(out, "(playing)") || !strings.Contains(out, "1. [") || !strings.Contains(out, "Kim") {
		t.Errorf("final queue = %q, want Sam playing and Kim queued", out)
	}
}

func TestQueueNeedsARoom(t *testing.T) {
	srv, _ := newTestServer(t)
	u := newUser(t, srv.URL)
	if _, err := u.run(context.Background(), "queue", "ls"); err == nil {
		t.Error("queue ls without a room succeeded")
	}
}

func TestClock(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "0:00"},
		{59.9, "0:59"},
		{61, "1:01"},
		{600, "10:00"},
	}
	for _, tt := range tests {
		if got := clock(tt.seconds); got != tt.want {
			t.Errorf("clock(%v) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestDemoMirrorsHostOnStage(t *testing.T) {
	u := newUser(t, "http://127.0.0.1:0")
	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()

	out, err := u.run(ctx, "demo", "--length", "30")
	if err != nil {
		t.Fatalf("demo error: %v", err)
	}
	if !strings.Contains(out, "Room DEMO: 3 songs") || !strings.Contains(out, "Now playing: #100 Opening Number") {
		t.Errorf("demo output = %q", out)
	}
}
