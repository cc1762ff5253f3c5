package types

import "encoding/json"

// Stats are the accumulated counters of a participant.
type Stats struct {
	FishCount    int `json:"fishCount"`
	MonsterKills int `json:"monsterKills"`
	Money        int `json:"money"`
}

// Add returns the sum of s and delta.
func (s Stats) Add(delta Stats) Stats {
	return Stats{
		FishCount:    s.FishCount + delta.FishCount,
		MonsterKills: s.MonsterKills + delta.MonsterKills,
		Money:        s.Money + delta.Money,
	}
}

// PlayerState is the descriptor the server sends for a participant.
type PlayerState struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Color    *RGB    `json:"color,omitempty"`
	Position Vec3    `json:"position"`
	Rotation float64 `json:"rotation"`
	Mode     Mode    `json:"mode"`
	Stats    *Stats  `json:"stats,omitempty"`
}

// UnmarshalJSON decodes a descriptor. A missing mode means on foot, the
// same as an empty or null one.
func (p *PlayerState) UnmarshalJSON(b []byte) error {
	type plain PlayerState
	decoded := plain{Mode: ModeOnFoot}
	if err := json.Unmarshal(b, &decoded); err != nil {
		return err
	}
	*p = PlayerState(decoded)
	return nil
}

// Copy returns a deep copy of the player state.
func (p *PlayerState) Copy() *PlayerState {
	c := *p
	if p.Color != nil {
		color := *p.Color
		c.Color = &color
	}
	if p.Stats != nil {
		stats := *p.Stats
		c.Stats = &stats
	}
	return &c
}
