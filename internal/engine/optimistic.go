package engine

import "sync"

// Pending is a locally applied change awaiting confirmation from the store.
// Exactly one of Commit or Rollback takes effect; later calls are no-ops.
type Pending struct {
	once sync.Once
	undo func()
}

// Apply runs do immediately and keeps the undo func it returns.
func Apply(do func() (undo func())) *Pending {
	return &Pending{undo: do()}
}

// Commit accepts the change.
func (p *Pending) Commit() {
	p.once.Do(func() {})
}

// Rollback reverts the change.
func (p *Pending) Rollback() {
	p.once.Do(func() {
		if p.undo != nil {
			p.undo()
		}
	})
}
