package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cbodonnell/harbor/pkg/repositories/models"
	_ "github.com/mattn/go-sqlite3"
)

type SQLiteRepository struct {
	db *sql.DB
}

var _ Repository = &SQLiteRepository{}

// NewSQLiteRepository opens the database at path and applies the migrations.
func NewSQLiteRepository(ctx context.Context, path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	scripts, err := readMigrations("sqlite")
	if err != nil {
		db.Close()
		return nil, err
	}
	for i, migration := range scripts {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute migration %d: %v", i+1, err)
		}
	}

	return &SQLiteRepository{
		db: db,
	}, nil
}

func (r *SQLiteRepository) Close(ctx context.Context) error {
	return r.db.Close()
}

func (r *SQLiteRepository) SaveProfile(ctx context.Context, profile *models.Profile) error {
	if profile.UpdatedAt == 0 {
		profile.UpdatedAt = time.Now().UnixMilli()
	}
	q := `
	INSERT OR REPLACE INTO profiles (
		profile_key, name, color_r, color_g, color_b,
		fish_count, monster_kills, money,
		x, y, z, rotation, mode, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`
	_, err := r.db.ExecContext(ctx, q,
		profile.Key, profile.Name, profile.ColorR, profile.ColorG, profile.ColorB,
		profile.FishCount, profile.MonsterKills, profile.Money,
		profile.X, profile.Y, profile.Z, profile.Rotation, profile.Mode, profile.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save profile: %v", err)
	}

	return nil
}

func (r *SQLiteRepository) LoadProfile(ctx context.Context, key string) (*models.Profile, error) {
	q := `
	SELECT profile_key, name, color_r, color_g, color_b,
		fish_count, monster_kills, money,
		x, y, z, rotation, mode, updated_at
	FROM profiles WHERE profile_key = ?;
	`
	p := &models.Profile{}
	err := r.db.QueryRowContext(ctx, q, key).Scan(
		&p.Key, &p.Name, &p.ColorR, &p.ColorG, &p.ColorB,
		&p.FishCount, &p.MonsterKills, &p.Money,
		&p.X, &p.Y, &p.Z, &p.Rotation, &p.Mode, &p.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &ErrNotFound{}
		}
		return nil, fmt.Errorf("failed to scan profile: %v", err)
	}

	return p, nil
}

func (r *SQLiteRepository) SaveChatMessage(ctx context.Context, message *models.ChatMessage) error {
	q := `
	INSERT INTO chat_messages (channel, sender_id, sender_name, content, timestamp)
	VALUES (?, ?, ?, ?, ?);
	`
	result, err := r.db.ExecContext(ctx, q, message.Channel, message.SenderID, message.SenderName, message.Content, message.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert chat message: %v", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read chat message id: %v", err)
	}
	message.ID = id

	return nil
}

func (r *SQLiteRepository) LoadChatMessages(ctx context.Context, channel string, limit int) ([]*models.ChatMessage, error) {
	q := `
	SELECT id, channel, sender_id, sender_name, content, timestamp
	FROM chat_messages WHERE channel = ?
	ORDER BY timestamp DESC, id DESC LIMIT ?;
	`
	rows, err := r.db.QueryContext(ctx, q, channel, chatLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query chat messages: %v", err)
	}
	defer rows.Close()

	messages := []*models.ChatMessage{}
	for rows.Next() {
		m := &models.ChatMessage{}
		if err := rows.Scan(&m.ID, &m.Channel, &m.SenderID, &m.SenderName, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %v", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read chat messages: %v", err)
	}

	return reverse(messages), nil
}
