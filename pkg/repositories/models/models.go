package models

// Profile is the locally stored identity of an account. Key is the account
// id, or a fixed local key for anonymous play.
type Profile struct {
	Key          string  `json:"key"`
	Name         string  `json:"name"`
	ColorR       float64 `json:"color_r"`
	ColorG       float64 `json:"color_g"`
	ColorB       float64 `json:"color_b"`
	FishCount    int     `json:"fish_count"`
	MonsterKills int     `json:"monster_kills"`
	Money        int     `json:"money"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	Z            float64 `json:"z"`
	Rotation     float64 `json:"rotation"`
	Mode         string  `json:"mode"`
	UpdatedAt    int64   `json:"updated_at"`
}

// ChatMessage is an archived chat message. Timestamp is in milliseconds.
type ChatMessage struct {
	ID         int64  `json:"id"`
	Channel    string `json:"channel"`
	SenderID   string `json:"sender_id,omitempty"`
	SenderName string `json:"sender_name"`
	Content    string `json:"content"`
	Timestamp  int64  `json:"timestamp"`
}
