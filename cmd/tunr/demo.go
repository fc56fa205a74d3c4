package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/tunr/backend/internal/broker"
	"github.com/tunr/backend/internal/database"
	"github.com/tunr/backend/internal/db"
	"github.com/tunr/backend/internal/engine"
	"github.com/tunr/backend/internal/render"
	"github.com/tunr/backend/internal/store"
)

var demoSongs = []struct {
	title, artist, singer string
}{
	{"Opening Number", "The Examples", "Alex"},
	{"Second Verse", "Same As The First", "Sam"},
	{"Closing Time", "The Examples", "Kim"},
}

func demoCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "demo",
		Usage: "Run a host and a stage in process against an in-memory room",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "length", Usage: "Song length in seconds", Value: 10},
		},
		Action: r.Demo,
	}
}

// Demo plays a short queue on a host and mirrors it on a stage, printing
// both playheads once a second, until the queue runs out or ctx is done.
func (r *Runner) Demo(ctx context.Context, cmd *cli.Command) error {
	sqlDB, err := database.New(":memory:")
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	if err := database.RunMigrations(sqlDB); err != nil {
		return err
	}
	st := store.New(db.New(sqlDB), broker.New(), nil)
	for _, id := range []string{"host", "stage"} {
		if _, err := st.CreateIdentity(ctx, id, id, ""); err != nil {
			return fmt.Errorf("create %s identity: %w", id, err)
		}
	}

	hostPlayer := render.NewPlayer(slog.Default())
	stagePlayer := render.NewPlayer(slog.Default())
	host := localSession(st.As("host"), engine.RoleHost, hostPlayer)
	defer host.Close()
	stage := localSession(st.As("stage"), engine.RoleFollower, stagePlayer)
	defer stage.Close()

	room, err := host.Host(ctx, "DEMO")
	if err != nil {
		return err
	}
	if err := stage.Join(ctx, room); err != nil {
		return err
	}

	length := int(cmd.Int("length"))
	for i, s := range demoSongs {
		item := engine.CatalogItem{Number: 100 + i, Title: s.title, Artist: s.artist, MediaRef: fmt.Sprintf("demo-%d", i), DurationSeconds: length}
		if err := host.Queue.Enqueue(ctx, item, s.singer); err != nil {
			return err
		}
	}
	r.printf("Room %s: %d songs of %ds each\n", room, len(demoSongs), length)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	lastID := int64(-1)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		cur := host.State.Current()
		if cur == nil {
			r.printf("Queue finished\n")
			return nil
		}
		if cur.ID != lastID {
			lastID = cur.ID
			hostPlayer.SetDuration(float64(cur.Song.DurationSeconds))
			r.printf("Now playing: %s\n", describe(*cur))
		}
		r.printf("  host %s  stage %s  latency %dms\n",
			clock(hostPlayer.CurrentTime()), clock(stagePlayer.CurrentTime()), stage.State.LatencyMs())
	}
}

func localSession(l *store.Local, role engine.Role, player *render.Player) *engine.Session {
	return engine.NewSession(engine.Options{
		Store:    l,
		Catalog:  l,
		Rooms:    l,
		Identity: l,
		Dialer:   l,
		Renderer: player,
		Role:     role,
		Logger:   slog.Default(),
	})
}
