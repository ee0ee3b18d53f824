package chat

import "time"

// Session captures a transient anonymous conversation on the chat API.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}
