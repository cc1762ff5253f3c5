package session

import (
	"testing"

	gametypes "github.com/cbodonnell/harbor/pkg/game/types"
	"github.com/cbodonnell/harbor/pkg/repositories"
	"github.com/stretchr/testify/assert"
)

func TestIdentityProfile(t *testing.T) {
	id := Identity{
		LocalID:   "p1",
		AccountID: "firebase_abc",
		Name:      "Ann",
		Color:     gametypes.RGB{R: 1, B: 0.5},
		Stats:     gametypes.Stats{FishCount: 2, Money: 40},
		Position:  gametypes.Vec3{X: 3, Z: -1},
		Rotation:  0.75,
		Mode:      gametypes.ModeOnFoot,
	}

	profile := id.Profile()
	assert.Equal(t, "firebase_abc", profile.Key)
	assert.Equal(t, "character", profile.Mode)

	restored := IdentityFromProfile(profile)
	id.LocalID = ""
	id.AccountID = ""
	assert.Equal(t, id, restored)

	assert.Equal(t, repositories.LocalProfileKey, Identity{Name: "Ann"}.ProfileKey())
}
