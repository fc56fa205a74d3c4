package client

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// DefaultServer is used when the state file names no server.
const DefaultServer = "http://localhost:8080"

// StateFile is the CLI's persisted state: where the server is, who we are
// and which room we were last in, so rejoining needs no re-entry.
type StateFile struct {
	Server      string `toml:"server"`
	IdentityID  string `toml:"identity_id"`
	DisplayName string `toml:"display_name"`
	Secret      string `toml:"secret"`
	Token       string `toml:"token"`
	LastRoom    string `toml:"last_room"`
	HostedRoom  string `toml:"hosted_room"`
}

// DefaultStatePath returns ~/.config/tunr/state.toml, or the platform
// equivalent.
func DefaultStatePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(dir, "tunr", "state.toml"), nil
}

// LoadState reads the state file at path. A missing file yields an empty
// state pointing at DefaultServer.
func LoadState(path string) (*StateFile, error) {
	st := &StateFile{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read state file: %w", err)
	default:
		if err := toml.Unmarshal(data, st); err != nil {
			return nil, fmt.Errorf("failed to parse state file: %w", err)
		}
	}
	if st.Server == "" {
		st.Server = DefaultServer
	}
	return st, nil
}

// Save writes the state to path, readable only by the user since it holds
// the identity secret.
func (s *StateFile) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".state-*.toml")
	if err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := toml.NewEncoder(tmp).Encode(s); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode state file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

func (s *StateFile) Credentials() Credentials {
	return Credentials{IdentityID: s.IdentityID, DisplayName: s.DisplayName, Secret: s.Secret, Token: s.Token}
}

func (s *StateFile) SetCredentials(c Credentials) {
	s.IdentityID = c.IdentityID
	s.DisplayName = c.DisplayName
	s.Secret = c.Secret
	s.Token = c.Token
}
