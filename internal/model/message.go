// Package model defines data structure.
package model

import "time"

// Message holds information about a single persisted direct message.
type Message struct {
	ID          int64
	SenderID    int64
	RecipientID int64
	Body        string
	CreatedAt   time.Time
}
