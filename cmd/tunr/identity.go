package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/tunr/backend/internal/client"
)

// Identity prints the saved identity. The server is asked for a fresh token
// either way, which also creates the identity on first use.
func (r *Runner) Identity(ctx context.Context, cmd *cli.Command) error {
	if cmd.Bool("new") {
		r.updateState(func(st *client.StateFile) {
			st.SetCredentials(client.Credentials{})
			st.HostedRoom = ""
		})
		r.resetClient()
	}

	if _, err := r.client.SignInAnonymously(ctx); err != nil {
		return err
	}
	st := r.snapshotState()
	r.printf("Identity:  %s\n", st.IdentityID)
	r.printf("Name:      %s\n", st.DisplayName)
	r.printf("Server:    %s\n", st.Server)
	if st.HostedRoom != "" {
		r.printf("Hosting:   %s\n", st.HostedRoom)
	}
	return nil
}
