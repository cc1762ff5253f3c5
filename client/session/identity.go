package session

import (
	gametypes "github.com/cbodonnell/harbor/pkg/game/types"
)

// Identity describes the local participant.
type Identity struct {
	// LocalID is assigned by the server on every connection
	LocalID string
	// AccountID is the stable account key, empty when anonymous
	AccountID string

	Name     string
	Color    gametypes.RGB
	Stats    gametypes.Stats
	Position gametypes.Vec3
	Rotation float64
	Mode     gametypes.Mode
}

// IdentityUpdate changes the local name and/or color. Nil fields are left untouched.
type IdentityUpdate struct {
	Name  *string
	Color *gametypes.RGB
}
