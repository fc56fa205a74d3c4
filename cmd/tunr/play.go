package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/tunr/backend/internal/client"
	"github.com/tunr/backend/internal/engine"
	"github.com/tunr/backend/internal/render"
)

// Host claims a room and plays its queue on a simulated player. When control
// of the room is lost a new room is started.
func (r *Runner) Host(ctx context.Context, cmd *cli.Command) error {
	code := cmd.String("code")
	saved := ""
	if code == "" && !cmd.Bool("fresh") {
		saved = r.snapshotState().HostedRoom
		code = saved
	}

	player := render.NewPlayer(slog.Default())
	recovered := make(chan string, 1)
	sess := r.newSession(engine.RoleHost, player, func(old string) {
		select {
		case recovered <- old:
		default:
		}
	})
	defer sess.Close()

	room, err := sess.Host(ctx, code)
	if errors.Is(err, engine.ErrNotOwner) && saved != "" {
		r.logger.Warn("saved room belongs to someone else, starting a new one", "room", saved)
		room, err = sess.Host(ctx, "")
	}
	if err != nil {
		return err
	}
	r.hosting(room)

	return r.follow(ctx, sess, player, recovered)
}

// Stage follows a room's playback on a simulated player.
func (r *Runner) Stage(ctx context.Context, cmd *cli.Command) error {
	room := cmd.String("room")
	if room == "" {
		room = r.snapshotState().LastRoom
	}
	if room == "" {
		return errors.New("no room given: pass --room")
	}

	player := render.NewPlayer(slog.Default())
	sess := r.newSession(engine.RoleFollower, player, nil)
	defer sess.Close()

	if _, err := sess.Guard.EnsureIdentity(ctx); err != nil {
		return err
	}
	if err := sess.Join(ctx, room); err != nil {
		return err
	}
	if steps := cmd.Int("nudge"); steps != 0 {
		r.logger.Info("sync offset", "ms", sess.NudgeBy(int(steps)))
	}
	room = sess.State.Room()
	r.updateState(func(st *client.StateFile) { st.LastRoom = room })
	r.printf("Following room %s\n", room)

	return r.follow(ctx, sess, player, nil)
}

func (r *Runner) hosting(room string) {
	r.updateState(func(st *client.StateFile) {
		st.HostedRoom = room
		st.LastRoom = room
	})
	r.printf("Hosting room %s\n", room)
}

// follow reports entry changes until ctx is done. A value on recovered means
// control of the room was lost and a new room should be hosted.
func (r *Runner) follow(ctx context.Context, sess *engine.Session, player *render.Player, recovered <-chan string) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	lastID := int64(-1)
	lastPlaying := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case old := <-recovered:
			r.logger.Warn(engine.UserMessage(engine.ErrGhostControl), "room", old)
			room, err := sess.Recover(ctx)
			if err != nil {
				return err
			}
			r.hosting(room)
			lastID = -1
		case <-ticker.C:
		}

		cur := sess.State.Current()
		playing := sess.State.IsPlaying()
		var id int64
		if cur != nil {
			id = cur.ID
		}
		if id != lastID {
			lastID = id
			lastPlaying = playing
			if cur == nil {
				player.SetDuration(0)
				r.printf("Queue is empty\n")
				continue
			}
			player.SetDuration(float64(cur.Song.DurationSeconds))
			r.printf("Now playing: %s (%d queued)\n", describe(*cur), len(sess.State.Queue()))
			continue
		}
		if cur != nil && playing != lastPlaying {
			lastPlaying = playing
			verb := "Paused"
			if playing {
				verb = "Resumed"
			}
			r.printf("%s at %s\n", verb, clock(player.CurrentTime()))
		}
	}
}

func describe(e engine.QueueEntry) string {
	s := fmt.Sprintf("#%d %s", e.Song.Number, e.Song.Title)
	if e.Song.Artist != "" {
		s += " by " + e.Song.Artist
	}
	return fmt.Sprintf("%s, sung by %s [%s]", s, e.SingerName, clock(float64(e.Song.DurationSeconds)))
}

// clock renders seconds as M:SS.
func clock(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
