package messages

import (
	"encoding/json"
	"fmt"

	gametypes "github.com/cbodonnell/harbor/pkg/game/types"
)

// PlayerJoin announces the local participant to the server.
type PlayerJoin struct {
	Name          string         `json:"name"`
	Color         gametypes.RGB  `json:"color"`
	Position      gametypes.Vec3 `json:"position"`
	Rotation      float64        `json:"rotation"`
	Mode          gametypes.Mode `json:"mode"`
	PlayerID      string         `json:"player_id,omitempty"`
	FirebaseToken string         `json:"firebaseToken,omitempty"`
}

type UpdatePosition struct {
	X        float64        `json:"x"`
	Y        float64        `json:"y"`
	Z        float64        `json:"z"`
	Rotation float64        `json:"rotation"`
	Mode     gametypes.Mode `json:"mode"`
	PlayerID string         `json:"player_id"`
}

type UpdatePlayerName struct {
	Name     string `json:"name"`
	PlayerID string `json:"player_id"`
}

type UpdatePlayerColor struct {
	Color    gametypes.RGB `json:"color"`
	PlayerID string        `json:"player_id"`
}

// SendMessage is an outbound chat message. It deliberately has no sender
// name: the server resolves the display name from its own cache.
type SendMessage struct {
	Content  string `json:"content"`
	Type     string `json:"type"`
	PlayerID string `json:"player_id"`
}

type GetRecentMessages struct {
	Type     string `json:"type"`
	Limit    int    `json:"limit"`
	PlayerID string `json:"player_id"`
}

// Player action kinds
const (
	ActionUpdateStats   = "update_stats"
	ActionFishCaught    = "fish_caught"
	ActionMonsterKilled = "monster_killed"
	ActionMoneyEarned   = "money_earned"
)

type PlayerAction struct {
	Action   string           `json:"action"`
	Value    int              `json:"value,omitempty"`
	Stats    *gametypes.Stats `json:"stats,omitempty"`
	PlayerID string           `json:"player_id"`
}

// PlayerRequest is the payload of the id-only query events.
type PlayerRequest struct {
	ID       string `json:"id,omitempty"`
	PlayerID string `json:"player_id"`
}

type AddToInventory struct {
	PlayerID string          `json:"player_id"`
	ItemType string          `json:"item_type"`
	ItemName string          `json:"item_name"`
	ItemData json.RawMessage `json:"item_data,omitempty"`
}

// ConnectionResponse acknowledges a connection and carries what the server
// has stored for this account. An empty Name means the account needs setup.
type ConnectionResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name,omitempty"`
	FishCount    *int   `json:"fishCount,omitempty"`
	MonsterKills *int   `json:"monsterKills,omitempty"`
	Money        *int   `json:"money,omitempty"`
}

// PlayerStats is a partial stats update; absent fields are left untouched.
type PlayerStats struct {
	FishCount    *int `json:"fishCount,omitempty"`
	MonsterKills *int `json:"monsterKills,omitempty"`
	Money        *int `json:"money,omitempty"`
}

// Apply overwrites the fields of stats present in the update.
func (p *PlayerStats) Apply(stats gametypes.Stats) gametypes.Stats {
	if p.FishCount != nil {
		stats.FishCount = *p.FishCount
	}
	if p.MonsterKills != nil {
		stats.MonsterKills = *p.MonsterKills
	}
	if p.Money != nil {
		stats.Money = *p.Money
	}
	return stats
}

// PlayerUpdated carries changed participant info. Nil fields were not changed.
type PlayerUpdated struct {
	ID    string         `json:"id"`
	Name  *string        `json:"name,omitempty"`
	Color *gametypes.RGB `json:"color,omitempty"`
}

// PlayerLeft identifies a departed participant. The server sends either an
// object with an id or the bare id string.
type PlayerLeft struct {
	ID string `json:"id"`
}

func (p *PlayerLeft) UnmarshalJSON(b []byte) error {
	var id string
	if err := json.Unmarshal(b, &id); err == nil {
		p.ID = id
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("failed to unmarshal player left: %v", err)
	}
	p.ID = obj.ID
	return nil
}

type RecentMessages struct {
	Messages []json.RawMessage `json:"messages"`
}

// InventoryItem is one owned item.
type InventoryItem struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Inventory maps an item type (fish, treasure, ...) to owned items.
type Inventory map[string][]InventoryItem

// HasItem reports whether the inventory holds an item of the given type and name.
func (inv Inventory) HasItem(itemType, itemName string) bool {
	for _, item := range inv[itemType] {
		if item.Name == itemName {
			return true
		}
	}
	return false
}

type LeaderboardEntry struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// Leaderboard maps a category (fish, monsters, money) to ranked entries.
type Leaderboard map[string][]LeaderboardEntry
