package model

import (
	"time"
)

// JobLock represents a distributed lock document for exclusive job execution
type JobLock struct {
	Name      string    `json:"name" bson:"_id"`
	Token     string    `json:"token" bson:"token"`           // Ownership proof, one per acquisition
	LockedBy  string    `json:"locked_by" bson:"locked_by"`   // Pod identifier (hostname)
	LockedAt  time.Time `json:"locked_at" bson:"locked_at"`   // Lock acquisition timestamp
	ExpiresAt time.Time `json:"expires_at" bson:"expires_at"` // Lock expiration (TTL)
}
