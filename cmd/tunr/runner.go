package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/tunr/backend/internal/client"
	"github.com/tunr/backend/internal/engine"
)

// Runner holds the dependencies of every command.
type Runner struct {
	logger *log.Logger
	output io.Writer

	mu        sync.Mutex
	statePath string
	state     *client.StateFile
	client    *client.Client
}

type RunnerOpts struct {
	Logger *log.Logger
	Output io.Writer
}

func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	return &Runner{logger: opts.Logger, output: opts.Output}
}

// setup loads the state file and builds the API client. It runs before
// every command.
func (r *Runner) setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if cmd.Bool("verbose") {
		r.logger.SetLevel(log.DebugLevel)
	}
	slog.SetDefault(slog.New(r.logger))

	path := cmd.String("state")
	if path == "" {
		var err error
		if path, err = client.DefaultStatePath(); err != nil {
			return ctx, err
		}
	}
	st, err := client.LoadState(path)
	if err != nil {
		return ctx, err
	}
	if server := cmd.String("server"); server != "" {
		st.Server = server
	}

	r.mu.Lock()
	r.statePath = path
	r.state = st
	r.mu.Unlock()

	r.resetClient()
	return ctx, nil
}

// resetClient builds the API client from the current state.
func (r *Runner) resetClient() {
	st := r.snapshotState()
	r.client = client.New(st.Server,
		client.WithCredentials(st.Credentials()),
		client.WithLogger(slog.Default()),
		client.OnCredentials(r.saveCredentials),
	)
}

func (r *Runner) saveCredentials(c client.Credentials) {
	r.updateState(func(st *client.StateFile) { st.SetCredentials(c) })
}

// updateState applies fn to the state and writes it back.
func (r *Runner) updateState(fn func(*client.StateFile)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.state)
	if err := r.state.Save(r.statePath); err != nil {
		r.logger.Warn("could not save state", "error", err)
	}
}

func (r *Runner) snapshotState() client.StateFile {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.state
}

// newSession builds an engine session over the API client.
func (r *Runner) newSession(role engine.Role, renderer engine.Renderer, onRecovery func(string)) *engine.Session {
	return engine.NewSession(engine.Options{
		Store:      r.client,
		Catalog:    r.client,
		Rooms:      r.client,
		Identity:   r.client,
		Dialer:     r.client,
		Renderer:   renderer,
		Role:       role,
		Logger:     slog.Default(),
		OnRecovery: onRecovery,
		OnError: func(err error) {
			r.logger.Error(engine.UserMessage(err))
		},
	})
}

func (r *Runner) printf(format string, args ...any) {
	fmt.Fprintf(r.output, format, args...)
}
