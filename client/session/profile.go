package session

import (
	gametypes "github.com/cbodonnell/harbor/pkg/game/types"
	"github.com/cbodonnell/harbor/pkg/repositories"
	"github.com/cbodonnell/harbor/pkg/repositories/models"
)

// ProfileKey is the key the identity is stored under: the account id, or a
// shared local key when playing anonymously.
func (id Identity) ProfileKey() string {
	if id.AccountID != "" {
		return id.AccountID
	}
	return repositories.LocalProfileKey
}

// Profile converts the identity into its stored form. Server-assigned ids
// are per connection and not stored.
func (id Identity) Profile() *models.Profile {
	return &models.Profile{
		Key:          id.ProfileKey(),
		Name:         id.Name,
		ColorR:       id.Color.R,
		ColorG:       id.Color.G,
		ColorB:       id.Color.B,
		FishCount:    id.Stats.FishCount,
		MonsterKills: id.Stats.MonsterKills,
		Money:        id.Stats.Money,
		X:            id.Position.X,
		Y:            id.Position.Y,
		Z:            id.Position.Z,
		Rotation:     id.Rotation,
		Mode:         id.Mode.String(),
	}
}

// IdentityFromProfile restores an identity to announce with on connect.
func IdentityFromProfile(p *models.Profile) Identity {
	return Identity{
		Name:  p.Name,
		Color: gametypes.RGB{R: p.ColorR, G: p.ColorG, B: p.ColorB},
		Stats: gametypes.Stats{
			FishCount:    p.FishCount,
			MonsterKills: p.MonsterKills,
			Money:        p.Money,
		},
		Position: gametypes.Vec3{X: p.X, Y: p.Y, Z: p.Z},
		Rotation: p.Rotation,
		Mode:     gametypes.ParseMode(p.Mode),
	}
}
