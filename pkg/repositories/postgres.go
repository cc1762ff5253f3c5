package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cbodonnell/harbor/pkg/log"
	"github.com/cbodonnell/harbor/pkg/repositories/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresRepository struct {
	pool *pgxpool.Pool
}

var _ Repository = &PostgresRepository{}

// NewPostgresRepository connects to the database and applies the migrations.
// The caller is responsible for calling Close() on the repository.
func NewPostgresRepository(ctx context.Context, connStr string) (*PostgresRepository, error) {
	pool, err := connectDb(ctx, connStr)
	if err != nil {
		return nil, err
	}

	scripts, err := readMigrations("postgres")
	if err != nil {
		pool.Close()
		return nil, err
	}
	for i, migration := range scripts {
		if _, err := pool.Exec(ctx, migration); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to execute migration %d: %v", i+1, err)
		}
	}

	return &PostgresRepository{
		pool: pool,
	}, nil
}

func connectDb(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	var username string
	var database string
	err = pool.QueryRow(ctx, "SELECT current_user, current_database()").Scan(&username, &database)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to query database: %v", err)
	}

	log.Info("Connected to %s as %s", database, username)

	return pool, nil
}

func (r *PostgresRepository) Close(ctx context.Context) error {
	r.pool.Close()
	return nil
}

func (r *PostgresRepository) SaveProfile(ctx context.Context, profile *models.Profile) error {
	if profile.UpdatedAt == 0 {
		profile.UpdatedAt = time.Now().UnixMilli()
	}
	q := `
	INSERT INTO profiles (
		profile_key, name, color_r, color_g, color_b,
		fish_count, monster_kills, money,
		x, y, z, rotation, mode, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (profile_key) DO UPDATE SET
		name = $2, color_r = $3, color_g = $4, color_b = $5,
		fish_count = $6, monster_kills = $7, money = $8,
		x = $9, y = $10, z = $11, rotation = $12, mode = $13, updated_at = $14;
	`
	_, err := r.pool.Exec(ctx, q,
		profile.Key, profile.Name, profile.ColorR, profile.ColorG, profile.ColorB,
		profile.FishCount, profile.MonsterKills, profile.Money,
		profile.X, profile.Y, profile.Z, profile.Rotation, profile.Mode, profile.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save profile: %v", err)
	}

	return nil
}

func (r *PostgresRepository) LoadProfile(ctx context.Context, key string) (*models.Profile, error) {
	q := `
	SELECT profile_key, name, color_r, color_g, color_b,
		fish_count, monster_kills, money,
		x, y, z, rotation, mode, updated_at
	FROM profiles WHERE profile_key = $1;
	`
	p := &models.Profile{}
	err := r.pool.QueryRow(ctx, q, key).Scan(
		&p.Key, &p.Name, &p.ColorR, &p.ColorG, &p.ColorB,
		&p.FishCount, &p.MonsterKills, &p.Money,
		&p.X, &p.Y, &p.Z, &p.Rotation, &p.Mode, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &ErrNotFound{}
		}
		return nil, fmt.Errorf("failed to scan profile: %v", err)
	}

	return p, nil
}

func (r *PostgresRepository) SaveChatMessage(ctx context.Context, message *models.ChatMessage) error {
	q := `
	INSERT INTO chat_messages (channel, sender_id, sender_name, content, timestamp)
	VALUES ($1, $2, $3, $4, $5) RETURNING id;
	`
	err := r.pool.QueryRow(ctx, q, message.Channel, message.SenderID, message.SenderName, message.Content, message.Timestamp).Scan(&message.ID)
	if err != nil {
		return fmt.Errorf("failed to insert chat message: %v", err)
	}

	return nil
}

func (r *PostgresRepository) LoadChatMessages(ctx context.Context, channel string, limit int) ([]*models.ChatMessage, error) {
	q := `
	SELECT id, channel, sender_id, sender_name, content, timestamp
	FROM chat_messages WHERE channel = $1
	ORDER BY timestamp DESC, id DESC LIMIT $2;
	`
	rows, err := r.pool.Query(ctx, q, channel, chatLimit(limit))
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
