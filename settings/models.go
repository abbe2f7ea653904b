// Package settings holds the vault-wide configuration aggregate.
package settings

import (
	"context"

	"github.com/xraph/subvault/types"
)

// Settings is the single configuration record of a vault instance. It is
// loaded and stored explicitly inside every atomic unit that needs it.
type Settings struct {
	types.Entity
	Admin       types.Address `json:"admin"`
	Token       types.Address `json:"token"`
	MinTopup    types.Amount  `json:"min_topup"`
	NextID      uint32        `json:"next_id"`
	Stopped     bool          `json:"emergency_stop"`
	Initialized bool          `json:"initialized"`
}

// Clone returns a copy.
func (s *Settings) Clone() *Settings {
	c := *s
	return &c
}

// Store persists the settings record.
type Store interface {
	// GetSettings returns the stored settings, or the vault's not-initialized
	// error when none exist yet.
	GetSettings(ctx context.Context) (*Settings, error)
	PutSettings(ctx context.Context, s *Settings) error
}
