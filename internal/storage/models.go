package storage

import "time"

const (
	StatusActive    = "active"
	StatusCancelled = "cancelled"
)

// User is a registered chat user
type User struct {
	ID        int64
	ChatID    int64
	Username  string
	Level     int // 0 until chosen
	CreatedAt time.Time
}

// Subscription is a paid access period
type Subscription struct {
	ID        int64
	UserID    int64
	Reference string
	Status    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// EligibleUser is a user with an active, unexpired subscription
type EligibleUser struct {
	UserID int64
	ChatID int64
	Level  int
}

// Word is one entry of a sentence's word breakdown
type Word struct {
	Word    string `json:"word"`
	Meaning string `json:"meaning"`
}

// Sentence is a generated lesson kept for later analysis
type Sentence struct {
	ID          int64
	Text        string
	Translation string
	Level       int
	Words       []Word
	CreatedAt   time.Time
}
