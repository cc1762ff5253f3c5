package types

import (
	"encoding/json"
	"fmt"
)

// Vec3 is a position in world space.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// RGB is a color with channels in [0, 1].
type RGB struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
}

// Mode is how a participant is currently traveling.
type Mode uint8

const (
	ModeBoat Mode = iota
	ModeOnFoot
)

const (
	modeBoatWire   = "boat"
	modeOnFootWire = "character"
)

func (m Mode) String() string {
	switch m {
	case ModeBoat:
		return modeBoatWire
	case ModeOnFoot:
		return modeOnFootWire
	default:
		return "unknown"
	}
}

// ParseMode parses a wire mode string. Anything other than "boat" is on foot.
func ParseMode(s string) Mode {
	if s == modeBoatWire {
		return ModeBoat
	}
	return ModeOnFoot
}

func (m Mode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON decodes a wire mode. null decodes as on foot.
func (m *Mode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("failed to unmarshal mode: %v", err)
	}
	*m = ParseMode(s)
	return nil
}
