package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cbodonnell/harbor/client/chat"
	"github.com/cbodonnell/harbor/client/presence"
	"github.com/cbodonnell/harbor/client/session"
	gametypes "github.com/cbodonnell/harbor/pkg/game/types"
	"github.com/cbodonnell/harbor/pkg/log"
	"github.com/cbodonnell/harbor/pkg/repositories"
	"github.com/cbodonnell/harbor/pkg/repositories/models"
	"github.com/gorilla/mux"
)

// Status is the read-only view of a session served by the API.
type Status interface {
	IsConnected() bool
	NeedsSetup() bool
	OnlineCount() int
	Identity() session.Identity
	Presence() *presence.Directory
	Chat() *chat.History
}

var _ Status = &session.Session{}

type HealthResponse struct {
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
}

type IdentityResponse struct {
	LocalID    string          `json:"local_id,omitempty"`
	AccountID  string          `json:"account_id,omitempty"`
	Name       string          `json:"name"`
	Color      gametypes.RGB   `json:"color"`
	Stats      gametypes.Stats `json:"stats"`
	Position   gametypes.Vec3  `json:"position"`
	Rotation   float64         `json:"rotation"`
	Mode       gametypes.Mode  `json:"mode"`
	NeedsSetup bool            `json:"needs_setup"`
}

type Participant struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Color    *gametypes.RGB   `json:"color,omitempty"`
	Position gametypes.Vec3   `json:"position"`
	Rotation float64          `json:"rotation"`
	Mode     gametypes.Mode   `json:"mode"`
	Stats    *gametypes.Stats `json:"stats,omitempty"`
}

type RosterResponse struct {
	OnlineCount  int           `json:"online_count"`
	Participants []Participant `json:"participants"`
}

type ChatResponse struct {
	Messages []chat.Message `json:"messages"`
}

type ArchiveResponse struct {
	Channel  string                `json:"channel"`
	Messages []*models.ChatMessage `json:"messages"`
}

func HandleHealth(status Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, &HealthResponse{Status: "ok", Connected: status.IsConnected()})
	}
}

func HandleIdentity(status Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := status.Identity()
		writeJSON(w, &IdentityResponse{
			LocalID:    id.LocalID,
			AccountID:  id.AccountID,
			Name:       id.Name,
			Color:      id.Color,
			Stats:      id.Stats,
			Position:   id.Position,
			Rotation:   id.Rotation,
			Mode:       id.Mode,
			NeedsSetup: status.NeedsSetup(),
		})
	}
}

func HandleRoster(status Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := status.Presence().Snapshot()
		participants := make([]Participant, 0, len(snapshot))
		for _, p := range snapshot {
			participants = append(participants, Participant{
				ID:       p.ID,
				Name:     p.Name,
				Color:    p.Color,
				Position: p.Position,
				Rotation: p.Rotation,
				Mode:     p.Mode,
				Stats:    p.Stats,
			})
		}
		writeJSON(w, &RosterResponse{
			OnlineCount:  status.OnlineCount(),
			Participants: participants,
		})
	}
}

// HandleChat serves the in-memory history. ?limit=n returns the newest n messages.
func HandleChat(status Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := parseLimit(r)
		if err != nil {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}

		history := status.Chat().History()
		if limit > 0 && len(history) > limit {
			history = history[len(history)-limit:]
		}
		writeJSON(w, &ChatResponse{Messages: history})
	}
}

// HandleArchive serves archived messages of the channel in the path.
func HandleArchive(repository repositories.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repository == nil {
			http.Error(w, "Archive disabled", http.StatusNotFound)
			return
		}
		limit, err := parseLimit(r)
		if err != nil {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}

		channel := mux.Vars(r)["channel"]
		messages, err := repository.LoadChatMessages(r.Context(), channel, limit)
		if err != nil {
			log.Error("failed to load chat archive: %v", err)
			http.Error(w, "Failed to load chat archive", http.StatusInternalServerError)
			return
		}
		writeJSON(w, &ArchiveResponse{Channel: channel, Messages: messages})
	}
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, strconv.ErrSyntax
	}
	return limit, nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("failed to encode response: %v", err)
	}
}
