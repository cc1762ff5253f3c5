package presence

import (
	"sort"
	"strings"
	"sync"

	"github.com/cbodonnell/harbor/pkg/events"
	gametypes "github.com/cbodonnell/harbor/pkg/game/types"
	"github.com/cbodonnell/harbor/pkg/log"
)

type ChangeKind int

const (
	ChangeAdded ChangeKind = iota
	ChangeRemoved
	ChangeChanged
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeRemoved:
		return "removed"
	case ChangeChanged:
		return "changed"
	default:
		return "unknown"
	}
}

// Change describes one roster mutation.
type Change struct {
	Kind        ChangeKind
	Participant Participant
}

// Directory mirrors the remote participants known to the server.
//
// Joins are idempotent, moves never create entries and full lists never
// delete them. The local participant's id is never stored.
type Directory struct {
	// mutate serializes writers and is held across Renderer calls
	mutate sync.Mutex
	// lock guards the fields below for readers
	lock         sync.RWMutex
	localID      string
	participants map[string]*Participant

	renderer Renderer
	changes  *events.Manager[Change]
	logger   *log.Logger
}

// NewDirectory creates an empty directory. A nil renderer is replaced with NopRenderer.
func NewDirectory(renderer Renderer, logger *log.Logger) *Directory {
	if renderer == nil {
		renderer = NopRenderer{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Directory{
		participants: make(map[string]*Participant),
		renderer:     renderer,
		changes:      events.NewManager[Change](),
		logger:       logger.WithComponent("presence"),
	}
}

// OnChange registers a roster subscriber and returns its unsubscribe func.
// Subscribers run after the mutation is applied, outside the directory locks,
// and must not call the Ingest methods.
func (d *Directory) OnChange(handler func(Change)) func() {
	return d.changes.RegisterHandler(handler)
}

// SetLocalID records the local participant's id and evicts any entry for it.
func (d *Directory) SetLocalID(id string) {
	d.mutate.Lock()
	d.lock.Lock()
	d.localID = id
	d.lock.Unlock()

	var changes []Change
	if change, ok := d.remove(id); ok {
		changes = append(changes, change)
	}
	d.mutate.Unlock()
	d.publish(changes)
}

func (d *Directory) LocalID() string {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return d.localID
}

// IngestFullList merges a roster snapshot. Entries not mentioned are kept.
func (d *Directory) IngestFullList(list []Participant) {
	d.mutate.Lock()
	var changes []Change
	for _, p := range list {
		if d.ignored(p.ID) {
			continue
		}
		existing, ok := d.get(p.ID)
		switch {
		case !ok:
			changes = append(changes, d.add(p))
		case existing.Mode != p.Mode:
			if p.Stats == nil {
				p.Stats = existing.Stats
			}
			if change, ok := d.remove(p.ID); ok {
				changes = append(changes, change)
			}
			changes = append(changes, d.add(p))
		default:
			updated := existing
			if p.Name != "" {
				updated.Name = p.Name
			}
			if p.Color != nil {
				updated.Color = p.Color
			}
			if p.Stats != nil {
				updated.Stats = p.Stats
			}
			updated.Position = p.Position
			updated.Rotation = p.Rotation
			changes = append(changes, d.change(updated))
		}
	}
	d.mutate.Unlock()
	d.publish(changes)
}

// IngestJoin adds a participant. Known ids and the local id are ignored.
func (d *Directory) IngestJoin(p Participant) {
	d.mutate.Lock()
	var changes []Change
	if _, ok := d.get(p.ID); !ok && !d.ignored(p.ID) {
		changes = append(changes, d.add(p))
	} else {
		d.logger.Trace("Ignoring join for %q", p.ID)
	}
	d.mutate.Unlock()
	d.publish(changes)
}

// IngestMove updates the pose of a known participant. A mode change replaces
// the entry, keeping its name, color and stats. Unknown ids are dropped.
func (d *Directory) IngestMove(id string, position gametypes.Vec3, rotation float64, mode gametypes.Mode) {
	d.mutate.Lock()
	var changes []Change
	existing, ok := d.get(id)
	switch {
	case !ok:
		d.logger.Trace("Dropping move for unknown participant %q", id)
	case existing.Mode != mode:
		replacement := existing
		replacement.Position = position
		replacement.Rotation = rotation
		replacement.Mode = mode
		replacement.RenderHandle = nil
		if change, ok := d.remove(id); ok {
			changes = append(changes, change)
		}
		changes = append(changes, d.add(replacement))
	default:
		existing.Position = position
		existing.Rotation = rotation
		changes = append(changes, d.change(existing))
	}
	d.mutate.Unlock()
	d.publish(changes)
}

// IngestInfoUpdate patches the supplied fields of a known participant.
func (d *Directory) IngestInfoUpdate(id string, update InfoUpdate) {
	d.mutate.Lock()
	var changes []Change
	if existing, ok := d.get(id); ok {
		changed := false
		if update.Name != nil && strings.TrimSpace(*update.Name) != "" && *update.Name != existing.Name {
			existing.Name = *update.Name
			changed = true
		}
		if update.Color != nil && (existing.Color == nil || *existing.Color != *update.Color) {
			color := *update.Color
			existing.Color = &color
			changed = true
		}
		if changed {
			changes = append(changes, d.change(existing))
		}
	} else {
		d.logger.Trace("Dropping info update for unknown participant %q", id)
	}
	d.mutate.Unlock()
	d.publish(changes)
}

// IngestLeave removes a participant and releases its render handle.
func (d *Directory) IngestLeave(id string) {
	d.mutate.Lock()
	var changes []Change
	if change, ok := d.remove(id); ok {
		changes = append(changes, change)
	}
	d.mutate.Unlock()
	d.publish(changes)
}

// Clear evicts every participant, releasing all render handles.
func (d *Directory) Clear() {
	d.mutate.Lock()
	d.lock.RLock()
	ids := make([]string, 0, len(d.participants))
	for id := range d.participants {
		ids = append(ids, id)
	}
	d.lock.RUnlock()
	sort.Strings(ids)

	var changes []Change
	for _, id := range ids {
		if change, ok := d.remove(id); ok {
			changes = append(changes, change)
		}
	}
	d.mutate.Unlock()
	d.publish(changes)
}

// Get returns a copy of the participant with the given id.
func (d *Directory) Get(id string) (Participant, bool) {
	return d.get(id)
}

// Name returns the display name of a known participant.
func (d *Directory) Name(id string) (string, bool) {
	p, ok := d.get(id)
	if !ok || p.Name == "" {
		return "", false
	}
	return p.Name, true
}

// Snapshot returns a copy of all participants sorted by name, then id.
func (d *Directory) Snapshot() []Participant {
	d.lock.RLock()
	snapshot := make([]Participant, 0, len(d.participants))
	for _, p := range d.participants {
		snapshot = append(snapshot, p.Copy())
	}
	d.lock.RUnlock()

	sort.Slice(snapshot, func(i, j int) bool {
		if snapshot[i].Name != snapshot[j].Name {
			return snapshot[i].Name < snapshot[j].Name
		}
		return snapshot[i].ID < snapshot[j].ID
	})
	return snapshot
}

// Count returns the number of remote participants.
func (d *Directory) Count() int {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return len(d.participants)
}

func (d *Directory) ignored(id string) bool {
	if id == "" {
		return true
	}
	d.lock.RLock()
	defer d.lock.RUnlock()
	return id == d.localID
}

func (d *Directory) get(id string) (Participant, bool) {
	d.lock.RLock()
	defer d.lock.RUnlock()
	p, ok := d.participants[id]
	if !ok {
		return Participant{}, false
	}
	return p.Copy(), true
}

// add, remove and change must be called with mutate held.

func (d *Directory) add(p Participant) Change {
	p = p.Copy()
	p.RenderHandle = d.renderer.ParticipantAdded(p.ID, p.Copy())

	d.lock.Lock()
	d.participants[p.ID] = &p
	d.lock.Unlock()

	d.logger.Debug("Participant %q (%s) added", p.ID, p.Name)
	return Change{Kind: ChangeAdded, Participant: p.Copy()}
}

func (d *Directory) remove(id string) (Change, bool) {
	d.lock.Lock()
	p, ok := d.participants[id]
	delete(d.participants, id)
	d.lock.Unlock()
	if !ok {
		return Change{}, false
	}

	d.renderer.ParticipantRemoved(id, p.RenderHandle)
	d.logger.Debug("Participant %q (%s) removed", id, p.Name)
	return Change{Kind: ChangeRemoved, Participant: p.Copy()}, true
}

func (d *Directory) change(p Participant) Change {
	p = p.Copy()
	d.renderer.ParticipantChanged(p.ID, p.Copy(), p.RenderHandle)

	d.lock.Lock()
	d.participants[p.ID] = &p
	d.lock.Unlock()

	return Change{Kind: ChangeChanged, Participant: p.Copy()}
}

func (d *Directory) publish(changes []Change) {
	for _, change := range changes {
		d.changes.Trigger(change)
	}
}
