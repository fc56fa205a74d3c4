package engine

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
)

const (
	roomCodeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	roomCodeLen      = 4
)

// GenerateRoomCode returns a random 4-character uppercase base36 code.
func GenerateRoomCode() (string, error) {
	b := make([]byte, roomCodeLen)
	max := big.NewInt(int64(len(roomCodeAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		b[i] = roomCodeAlphabet[n.Int64()]
	}
	return string(b), nil
}

// Guard provisions identities and rooms and handles loss of room control.
type Guard struct {
	identity IdentityProvider
	rooms    RoomRegistry
	state    *State
	conn     *ConnectionManager
	log      *slog.Logger

	codes func() (string, error)

	// onRecovery is called with the discarded room code after ghost control
	// is detected.
	onRecovery func(oldRoom string)
}

func NewGuard(identity IdentityProvider, rooms RoomRegistry, state *State, conn *ConnectionManager, log *slog.Logger) *Guard {
	if log == nil {
		log = slog.Default()
	}
	return &Guard{
		identity: identity,
		rooms:    rooms,
		state:    state,
		conn:     conn,
		log:      log,
		codes:    GenerateRoomCode,
	}
}

// EnsureIdentity returns the held identity, signing in anonymously first if
// there is none.
func (g *Guard) EnsureIdentity(ctx context.Context) (string, error) {
	if id := g.identity.Identity(); id != "" {
		return id, nil
	}
	id, err := g.identity.SignInAnonymously(ctx)
	if err != nil {
		return "", opErr("ensure identity", nil, err)
	}
	g.log.Info("signed in anonymously", slog.String("identity_id", id))
	return id, nil
}

// CreateRoom registers a fresh random code owned by the caller.
func (g *Guard) CreateRoom(ctx context.Context) (string, error) {
	const op = "create room"
	owner, err := g.EnsureIdentity(ctx)
	if err != nil {
		return "", err
	}
	code, err := g.codes()
	if err != nil {
		return "", opErr(op, nil, err)
	}
	if err := g.rooms.RegisterRoom(ctx, code, owner); err != nil {
		if errors.Is(err, ErrConflict) {
			return "", opErr(op, ErrCodeTaken, err)
		}
		return "", opErr(op, storeKind(err), err)
	}
	g.log.Info("room created", slog.String("room", code), slog.String("owner_id", owner))
	return code, nil
}

// ClaimOrAdopt registers code for the caller if it is free, and accepts it if
// the caller already owns it. A code owned by anyone else fails with
// ErrNotOwner.
func (g *Guard) ClaimOrAdopt(ctx context.Context, code string) error {
	const op = "claim room"
	code, err := NormalizeRoomCode(code)
	if err != nil {
		return opErr(op, nil, err)
	}
	me, err := g.EnsureIdentity(ctx)
	if err != nil {
		return err
	}

	owner, err := g.rooms.RoomOwner(ctx, code)
	if errors.Is(err, ErrNotFound) {
		err = g.rooms.RegisterRoom(ctx, code, me)
		if err == nil {
			g.log.Info("room claimed", slog.String("room", code), slog.String("owner_id", me))
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return opErr(op, storeKind(err), err)
		}
		// Lost a registration race; see who won.
		owner, err = g.rooms.RoomOwner(ctx, code)
	}
	if err != nil {
		return opErr(op, storeKind(err), err)
	}
	if owner != me {
		return opErr(op, ErrNotOwner, nil)
	}
	return nil
}

// Ghost abandons the active room after the store refused a write the caller
// expected to own. It returns the error to surface for op.
func (g *Guard) Ghost(op string, cause error) error {
	old := g.state.enterRecovery()
	if g.conn != nil {
		g.conn.Unsubscribe()
	}
	g.log.Warn("room control lost",
		slog.String("room", old),
		slog.String("identity_id", g.identity.Identity()),
		slog.String("op", op),
		slog.Any("error", cause),
	)
	if g.onRecovery != nil {
		g.onRecovery(old)
	}
	return opErr(op, ErrGhostControl, cause)
}
