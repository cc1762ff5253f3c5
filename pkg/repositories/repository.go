package repositories

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/cbodonnell/harbor/pkg/repositories/models"
)

const (
	// LocalProfileKey stores the profile of anonymous play
	LocalProfileKey = "local"

	DefaultChatLimit = 50
)

//go:embed migrations
var migrations embed.FS

// Repository persists the local profile and the chat archive.
type Repository interface {
	Close(ctx context.Context) error
	SaveProfile(ctx context.Context, profile *models.Profile) error
	LoadProfile(ctx context.Context, key string) (*models.Profile, error)
	SaveChatMessage(ctx context.Context, message *models.ChatMessage) error
	// LoadChatMessages returns the newest limit messages of channel, oldest first.
	LoadChatMessages(ctx context.Context, channel string, limit int) ([]*models.ChatMessage, error)
}

// readMigrations returns the migration scripts of a driver in file name order.
func readMigrations(driver string) ([]string, error) {
	dir := "migrations/" + driver
	entries, err := fs.ReadDir(migrations, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %v", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	scripts := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := dir + "/" + entry.Name()
		b, err := fs.ReadFile(migrations, path)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %v", path, err)
		}
		scripts = append(scripts, string(b))
	}
	return scripts, nil
}

func chatLimit(limit int) int {
	if limit <= 0 {
		return DefaultChatLimit
	}
	return limit
}

// reverse flips newest-first query results into chronological order.
func reverse(messages []*models.ChatMessage) []*models.ChatMessage {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages
}
