package workers

import (
	"context"
	"time"

	"github.com/cbodonnell/harbor/pkg/log"
	"github.com/cbodonnell/harbor/pkg/repositories"
	"github.com/cbodonnell/harbor/pkg/repositories/models"
)

const (
	DefaultSaveInterval = 10 * time.Second

	// flushTimeout bounds the final save after the worker is stopped
	flushTimeout = 5 * time.Second
)

type SaveProfileWorker struct {
	repository      repositories.Repository
	saveMessageChan <-chan *models.ChatMessage
	snapshot        func() *models.Profile
	interval        time.Duration
	logger          *log.Logger

	lastSaved *models.Profile
}

type NewSaveProfileWorkerOptions struct {
	Repository repositories.Repository
	// SaveMessageChan carries chat messages to archive; optional
	SaveMessageChan <-chan *models.ChatMessage
	// Snapshot returns the current profile, or nil when there is nothing to save
	Snapshot func() *models.Profile
	Interval time.Duration
	Logger   *log.Logger
}

// NewSaveProfileWorker creates a new SaveProfileWorker.
// The worker archives chat messages as they arrive and periodically saves
// the local profile when it changed since the last save.
func NewSaveProfileWorker(opts NewSaveProfileWorkerOptions) *SaveProfileWorker {
	if opts.Interval <= 0 {
		opts.Interval = DefaultSaveInterval
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &SaveProfileWorker{
		repository:      opts.Repository,
		saveMessageChan: opts.SaveMessageChan,
		snapshot:        opts.Snapshot,
		interval:        opts.Interval,
		logger:          opts.Logger.WithComponent("archive"),
	}
}

// Start runs until ctx is done, then archives any queued messages and saves
// the profile one last time.
func (w *SaveProfileWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.flush()
			return
		case msg := <-w.saveMessageChan:
			w.saveChatMessage(ctx, msg)
		case <-ticker.C:
			w.saveProfile(ctx)
		}
	}
}

func (w *SaveProfileWorker) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	for {
		select {
		case msg := <-w.saveMessageChan:
			w.saveChatMessage(ctx, msg)
		default:
			w.saveProfile(ctx)
			return
		}
	}
}

func (w *SaveProfileWorker) saveChatMessage(ctx context.Context, msg *models.ChatMessage) {
	if msg == nil {
		return
	}
	if err := w.repository.SaveChatMessage(ctx, msg); err != nil {
		w.logger.Error("Failed to save chat message: %v", err)
	}
}

func (w *SaveProfileWorker) saveProfile(ctx context.Context) {
	if w.snapshot == nil {
		return
	}
	profile := w.snapshot()
	if profile == nil || unchanged(w.lastSaved, profile) {
		return
	}

	profile.UpdatedAt = time.Now().UnixMilli()
	if err := w.repository.SaveProfile(ctx, profile); err != nil {
		w.logger.Error("Failed to save profile: %v", err)
		return
	}
	w.logger.Debug("Saved profile %s", profile.Key)
	w.lastSaved = profile
}

func unchanged(last, current *models.Profile) bool {
	if last == nil {
		return false
	}
	a, b := *last, *current
	a.UpdatedAt, b.UpdatedAt = 0, 0
	return a == b
}
