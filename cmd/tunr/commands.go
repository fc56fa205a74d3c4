package main

import "github.com/urfave/cli/v3"

func newApp(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "tunr",
		Usage:   "Run and join karaoke rooms",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "state",
				Usage: "Path to the state file (default ~/.config/tunr/state.toml)",
			},
			&cli.StringFlag{
				Name:    "server",
				Usage:   "Server URL, saved for later runs",
				Sources: cli.EnvVars("TUNR_SERVER"),
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Log debug output",
			},
		},
		Before:   r.setup,
		Commands: []*cli.Command{identityCommand(r), hostCommand(r), stageCommand(r), queueCommand(r), searchCommand(r), demoCommand(r)},
	}
}

func identityCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "identity",
		Usage: "Show the saved identity, creating one if there is none",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "new", Usage: "Discard the saved identity and create a new one"},
		},
		Action: r.Identity,
	}
}

func hostCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "host",
		Usage: "Host a room with a simulated player until interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "code",
				Aliases: []string{"c"},
				Usage:   "Room code to claim (3-6 letters or digits); defaults to the last hosted room",
			},
			&cli.BoolFlag{Name: "fresh", Usage: "Ignore the last hosted room and create a new one"},
		},
		Action: r.Host,
	}
}

func stageCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "stage",
		Usage: "Follow a room's playback until interrupted",
		Flags: []cli.Flag{
			roomFlag(),
			&cli.IntFlag{Name: "nudge", Usage: "Sync offset in 50ms steps (negative plays earlier)"},
		},
		Action: r.Stage,
	}
}

func roomFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "room",
		Aliases: []string{"r"},
		Usage:   "Room code; defaults to the last room used",
	}
}

func queueCommand(r *Runner) *cli.Command {
	idArg := []cli.Argument{&cli.StringArg{Name: "id"}}
	return &cli.Command{
		Name:  "queue",
		Usage: "Show and change a room's queue",
		Flags: []cli.Flag{roomFlag()},
		Commands: []*cli.Command{
			{
				Name:   "ls",
				Usage:  "Show the now playing entry and the queue",
				Action: r.QueueList,
			},
			{
				Name:      "add",
				Usage:     "Queue a song by number",
				Arguments: []cli.Argument{&cli.StringArg{Name: "number"}},
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "singer", Aliases: []string{"s"}, Usage: "Singer name", Required: true},
				},
				Action: r.QueueAdd,
			},
			{Name: "rm", Usage: "Remove an entry", Arguments: idArg, Action: r.QueueRemove},
			{Name: "up", Usage: "Move an entry one place earlier", Arguments: idArg, Action: r.QueueUp},
			{Name: "down", Usage: "Move an entry one place later", Arguments: idArg, Action: r.QueueDown},
			{Name: "clear", Usage: "Remove every entry (owner only)", Action: r.QueueClear},
			{Name: "next", Usage: "Advance to the next entry (owner only)", Action: r.QueueNext},
			{Name: "prev", Usage: "Go back to the previous entry (owner only)", Action: r.QueuePrev},
			{Name: "toggle", Usage: "Pause or resume playback (owner only)", Action: r.QueueToggle},
			{Name: "reset", Usage: "Restart the current entry on every stage (owner only)", Action: r.QueueReset},
		},
	}
}

func searchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search the external catalog for songs to register",
		Arguments: []cli.Argument{&cli.StringArg{Name: "query"}},
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Usage: "Maximum number of results", Value: 10},
			&cli.BoolFlag{Name: "register", Usage: "Register the first result under the next free number"},
		},
		Action: r.Search,
	}
}
