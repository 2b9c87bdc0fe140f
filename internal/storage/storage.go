package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidLevel = errors.New("invalid level")
)

// MaxLevel is the highest difficulty level
const MaxLevel = 5

// Storage handles all database operations
type Storage struct {
	db *sql.DB
}

// New opens the database and applies pending migrations
func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	s := &Storage{db: db}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema migrations
func (s *Storage) Migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}

	// m.Close would close the shared *sql.DB through the driver.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// --- Users ---

// UpsertUser registers a user or refreshes chat and username
func (s *Storage) UpsertUser(ctx context.Context, userID, chatID int64, username string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, chat_id, username, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			chat_id = excluded.chat_id,
			username = excluded.username`,
		userID, chatID, username, time.Now().Unix(),
	)
	return err
}

// SetLevel stores the user's difficulty level
func (s *Storage) SetLevel(ctx context.Context, userID int64, level int) error {
	if level < 1 || level > MaxLevel {
		return ErrInvalidLevel
	}

	result, err := s.db.ExecContext(ctx,
		"UPDATE users SET level = ? WHERE id = ?",
		level, userID,
	)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// GetUser returns a user by ID
func (s *Storage) GetUser(ctx context.Context, userID int64) (*User, error) {
	var u User
	var createdAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, username, level, created_at FROM users WHERE id = ?`,
		userID,
	).Scan(&u.ID, &u.ChatID, &u.Username, &u.Level, &createdAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	u.CreatedAt = time.Unix(createdAt, 0)
	return &u, nil
}

// --- Subscriptions ---

// CreateSubscription stores a subscription paid with reference. A new period starts
// at the later of now and the user's current expiry. The reference is unique: when
// it is already stored, the existing expiry is returned with created=false.
func (s *Storage) CreateSubscription(ctx context.Context, userID int64, reference string, days int, now time.Time) (time.Time, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return time.Time{}, false, err
	}
	defer tx.Rollback()

	var existing int64
	err = tx.QueryRowContext(ctx,
		"SELECT expires_at FROM subscriptions WHERE reference = ?",
		reference,
	).Scan(&existing)
	if err == nil {
		return time.Unix(existing, 0), false, nil
	}
	if err != sql.ErrNoRows {
		return time.Time{}, false, err
	}

	var current sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT MAX(expires_at) FROM subscriptions
		 WHERE user_id = ? AND status = ? AND expires_at > ?`,
		userID, StatusActive, now.Unix(),
	).Scan(&current)
	if err != nil {
		return time.Time{}, false, err
	}

	start := now
	if current.Valid {
		start = time.Unix(current.Int64, 0)
	}
	expires := start.AddDate(0, 0, days)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO subscriptions (user_id, reference, status, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		userID, reference, StatusActive, expires.Unix(), now.Unix(),
	)
	if err != nil {
		return time.Time{}, false, err
	}

	if err := tx.Commit(); err != nil {
		return time.Time{}, false, err
	}
	return time.Unix(expires.Unix(), 0), true, nil
}

// ActiveSubscription returns the user's subscription with the latest expiry, if active
func (s *Storage) ActiveSubscription(ctx context.Context, userID int64, now time.Time) (*Subscription, error) {
	var sub Subscription
	var expiresAt, createdAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, reference, status, expires_at, created_at
		 FROM subscriptions
		 WHERE user_id = ? AND status = ? AND expires_at > ?
		 ORDER BY expires_at DESC LIMIT 1`,
		userID, StatusActive, now.Unix(),
	).Scan(&sub.ID, &sub.UserID, &sub.Reference, &sub.Status, &expiresAt, &createdAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	sub.ExpiresAt = time.Unix(expiresAt, 0)
	sub.CreatedAt = time.Unix(createdAt, 0)
	return &sub, nil
}

// CancelSubscriptions marks all of the user's active subscriptions cancelled
func (s *Storage) CancelSubscriptions(ctx context.Context, userID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"UPDATE subscriptions SET status = ? WHERE user_id = ? AND status = ?",
		StatusCancelled, userID, StatusActive,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// GetEligibleUsers returns users with an active, unexpired subscription and a chosen level
func (s *Storage) GetEligibleUsers(ctx context.Context, now time.Time) ([]EligibleUser, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id, u.chat_id, u.level
		 FROM users u
		 WHERE u.level BETWEEN 1 AND ?
		   AND EXISTS (
			SELECT 1 FROM subscriptions s
			WHERE s.user_id = u.id AND s.status = ? AND s.expires_at > ?
		   )
		 ORDER BY u.id`,
		MaxLevel, StatusActive, now.Unix(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []EligibleUser
	for rows.Next() {
		var u EligibleUser
		if err := rows.Scan(&u.UserID, &u.ChatID, &u.Level); err != nil {
			return nil, err
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

// --- Sentences ---

// SaveSentence stores a generated lesson
func (s *Storage) SaveSentence(ctx context.Context, sentence Sentence) (int64, error) {
	words := sentence.Words
	if words == nil {
		words = []Word{}
	}
	wordsJSON, err := json.Marshal(words)
	if err != nil {
		return 0, fmt.Errorf("marshal words: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO sentences (text, translation, level, words, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sentence.Text, sentence.Translation, sentence.Level, string(wordsJSON), time.Now().Unix(),
	)
	if err != nil {
		return 0, err
	}

	return result.LastInsertId()
}

// RecentSentences returns the latest sentences stored for a level, newest first
func (s *Storage) RecentSentences(ctx context.Context, level, limit int) ([]Sentence, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, translation, level, words, created_at
		 FROM sentences WHERE level = ?
		 ORDER BY id DESC LIMIT ?`,
		level, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sentences []Sentence
	for rows.Next() {
		var st Sentence
		var words string
		var createdAt int64

		if err := rows.Scan(&st.ID, &st.Text, &st.Translation, &st.Level, &words, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(words), &st.Words); err != nil {
			return nil, fmt.Errorf("unmarshal words of sentence %d: %w", st.ID, err)
		}
		st.CreatedAt = time.Unix(createdAt, 0)
		sentences = append(sentences, st)
	}

	return sentences, rows.Err()
}

// --- Scheduler runs ---

// MarkRun records a fan-out for date (YYYY-MM-DD), returns false if one was already recorded
func (s *Storage) MarkRun(ctx context.Context, date string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO scheduler_runs (run_date, ran_at) VALUES (?, ?)",
		date, time.Now().Unix(),
	)
	if err != nil {
		return false, err
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}
