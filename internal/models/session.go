package models

import "time"

// Session is the persisted login state: at most one per client.
type Session struct {
	ID      string    `json:"id"`
	User    *User     `json:"user"`
	Created time.Time `json:"created,omitzero"`
}
