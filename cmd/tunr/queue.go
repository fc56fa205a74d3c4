package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/tunr/backend/internal/client"
	"github.com/tunr/backend/internal/engine"
)

// withRoom joins the room named by --room, or the last hosted or joined
// room, runs fn and prints the resulting queue.
func (r *Runner) withRoom(ctx context.Context, cmd *cli.Command, fn func(*engine.Session) error) error {
	room := cmd.String("room")
	if room == "" {
		st := r.snapshotState()
		room = st.HostedRoom
		if room == "" {
			room = st.LastRoom
		}
	}
	if room == "" {
		return errors.New("no room given: pass --room")
	}

	sess := r.newSession(engine.RoleFollower, nil, nil)
	defer sess.Close()

	if _, err := sess.Guard.EnsureIdentity(ctx); err != nil {
		return err
	}
	if err := sess.Join(ctx, room); err != nil {
		return err
	}
	room = sess.State.Room()
	r.updateState(func(st *client.StateFile) { st.LastRoom = room })

	if fn != nil {
		if err := fn(sess); err != nil {
			return err
		}
	}
	r.printQueue(sess)
	return nil
}

func (r *Runner) printQueue(sess *engine.Session) {
	snap := sess.State.Snapshot()
	r.printf("Room %s\n", sess.State.Room())
	if snap.Current == nil {
		r.printf("  nothing playing\n")
	} else {
		state := "paused"
		if snap.IsPlaying {
			state = "playing"
		}
		r.printf("  > [%d] %s (%s)\n", snap.Current.ID, describe(*snap.Current), state)
	}
	for i, e := range snap.Queue {
		r.printf("  %d. [%d] %s\n", i+1, e.ID, describe(e))
	}
	if snap.Rejected > 0 {
		r.printf("  (%d malformed entries hidden)\n", snap.Rejected)
	}
}

func entryArg(cmd *cli.Command) (int64, error) {
	raw := cmd.StringArg("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("entry id must be a positive number, got %q", raw)
	}
	return id, nil
}

func (r *Runner) QueueList(ctx context.Context, cmd *cli.Command) error {
	return r.withRoom(ctx, cmd, nil)
}

func (r *Runner) QueueAdd(ctx context.Context, cmd *cli.Command) error {
	raw := cmd.StringArg("number")
	number, err := strconv.Atoi(raw)
	if err != nil || number <= 0 {
		return fmt.Errorf("song number must be a positive number, got %q", raw)
	}
	return r.withRoom(ctx, cmd, func(sess *engine.Session) error {
		item, err := r.client.LookupSong(ctx, number)
		if err != nil {
			return fmt.Errorf("song %d: %w", number, err)
		}
		return sess.Queue.Enqueue(ctx, item, cmd.String("singer"))
	})
}

func (r *Runner) QueueRemove(ctx context.Context, cmd *cli.Command) error {
	id, err := entryArg(cmd)
	if err != nil {
		return err
	}
	return r.withRoom(ctx, cmd, func(sess *engine.Session) error {
		return sess.Queue.Dequeue(ctx, id)
	})
}

func (r *Runner) QueueUp(ctx context.Context, cmd *cli.Command) error {
	return r.reorder(ctx, cmd, engine.Up)
}

func (r *Runner) QueueDown(ctx context.Context, cmd *cli.Command) error {
	return r.reorder(ctx, cmd, engine.Down)
}

func (r *Runner) reorder(ctx context.Context, cmd *cli.Command, dir engine.Direction) error {
	id, err := entryArg(cmd)
	if err != nil {
		return err
	}
	return r.withRoom(ctx, cmd, func(sess *engine.Session) error {
		return sess.Queue.Reorder(ctx, id, dir)
	})
}

func (r *Runner) QueueClear(ctx context.Context, cmd *cli.Command) error {
	return r.withRoom(ctx, cmd, func(sess *engine.Session) error {
		return sess.Queue.ClearAll(ctx)
	})
}

func (r *Runner) QueueNext(ctx context.Context, cmd *cli.Command) error {
	return r.withRoom(ctx, cmd, func(sess *engine.Session) error {
		return sess.Clock.Advance(ctx)
	})
}

func (r *Runner) QueuePrev(ctx context.Context, cmd *cli.Command) error {
	return r.withRoom(ctx, cmd, func(sess *engine.Session) error {
		return sess.Clock.Rewind(ctx)
	})
}

func (r *Runner) QueueToggle(ctx context.Context, cmd *cli.Command) error {
	return r.withRoom(ctx, cmd, func(sess *engine.Session) error {
		return sess.Clock.TogglePlay(ctx)
	})
}

func (r *Runner) QueueReset(ctx context.Context, cmd *cli.Command) error {
	return r.withRoom(ctx, cmd, func(sess *engine.Session) error {
		return sess.Clock.ForceReset(ctx)
	})
}

// Search lists catalog matches, optionally registering the first one.
func (r *Runner) Search(ctx context.Context, cmd *cli.Command) error {
	query := strings.TrimSpace(cmd.StringArg("query"))
	if query == "" {
		return errors.New("search needs a query")
	}
	results, err := r.client.Search(ctx, query, int(cmd.Int("limit")))
	if err != nil {
		return err
	}
	if len(results) == 0 {
		r.printf("No results\n")
		return nil
	}
	for i, item := range results {
		r.printf("%2d. %s by %s [%s] %s\n", i+1, item.Title, item.Artist, clock(float64(item.DurationSeconds)), item.MediaRef)
	}

	if cmd.Bool("register") {
		item, err := r.client.AddSong(ctx, results[0])
		if err != nil {
			return err
		}
		r.printf("Registered as song #%d\n", item.Number)
	}
	return nil
}
