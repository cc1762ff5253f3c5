package presence

import (
	gametypes "github.com/cbodonnell/harbor/pkg/game/types"
)

// Participant is the local mirror of one remote participant.
type Participant struct {
	ID       string
	Name     string
	Color    *gametypes.RGB
	Position gametypes.Vec3
	Rotation float64
	Mode     gametypes.Mode
	Stats    *gametypes.Stats
	// RenderHandle is owned by the Renderer and only stored here.
	RenderHandle interface{}
}

// FromState builds a participant from a server descriptor.
func FromState(s *gametypes.PlayerState) Participant {
	c := s.Copy()
	return Participant{
		ID:       c.ID,
		Name:     c.Name,
		Color:    c.Color,
		Position: c.Position,
		Rotation: c.Rotation,
		Mode:     c.Mode,
		Stats:    c.Stats,
	}
}

// Copy returns a deep copy of the participant. The render handle is shared.
func (p Participant) Copy() Participant {
	if p.Color != nil {
		color := *p.Color
		p.Color = &color
	}
	if p.Stats != nil {
		stats := *p.Stats
		p.Stats = &stats
	}
	return p
}

// InfoUpdate carries changed participant info. Nil fields are left untouched.
type InfoUpdate struct {
	Name  *string
	Color *gametypes.RGB
}

// Renderer builds and releases the render representation of participants.
// Calls never overlap: the directory makes them while holding its writer
// lock, from the session dispatcher or from Session.Close once the
// dispatcher is idle.
type Renderer interface {
	// ParticipantAdded returns the handle for a new participant.
	ParticipantAdded(id string, p Participant) interface{}
	// ParticipantRemoved releases a handle returned by ParticipantAdded.
	ParticipantRemoved(id string, handle interface{})
	// ParticipantChanged updates an existing representation in place.
	ParticipantChanged(id string, p Participant, handle interface{})
}

// NopRenderer is a Renderer for headless clients.
type NopRenderer struct{}

func (NopRenderer) ParticipantAdded(string, Participant) interface{} { return nil }

func (NopRenderer) ParticipantRemoved(string, interface{}) {}

func (NopRenderer) ParticipantChanged(string, Participant, interface{}) {}
