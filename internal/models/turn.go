package models

import "time"

// Turn is one user prompt paired with the assistant reply it produced.
type Turn struct {
	ID        string    `json:"id"`
	User      string    `json:"user"`
	Assistant string    `json:"assistant"`
	CreatedAt time.Time `json:"created_at"`
}
