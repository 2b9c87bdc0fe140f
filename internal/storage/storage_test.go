package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.Migrate())
}

func TestUsers(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_, err := s.GetUser(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.UpsertUser(ctx, 1, 100, "alice"))
	require.NoError(t, s.UpsertUser(ctx, 1, 101, "alice2"))

	u, err := s.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(101), u.ChatID)
	assert.Equal(t, "alice2", u.Username)
	assert.Equal(t, 0, u.Level)

	require.NoError(t, s.SetLevel(ctx, 1, 4))
	u, err = s.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, u.Level)

	assert.ErrorIs(t, s.SetLevel(ctx, 1, 6), ErrInvalidLevel)
	assert.ErrorIs(t, s.SetLevel(ctx, 1, 0), ErrInvalidLevel)
	assert.ErrorIs(t, s.SetLevel(ctx, 2, 3), ErrNotFound)
}

func TestCreateSubscription(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	expires, created, err := s.CreateSubscription(ctx, 1, "lesson-1-1", 30, now)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, expires.Equal(now.AddDate(0, 0, 30)))

	// Same reference again: no second subscription.
	again, created, err := s.CreateSubscription(ctx, 1, "lesson-1-1", 30, now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, again.Equal(expires))

	// New reference while active: extends from the current expiry.
	extended, created, err := s.CreateSubscription(ctx, 1, "lesson-1-2", 30, now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, extended.Equal(now.AddDate(0, 0, 60)))

	sub, err := s.ActiveSubscription(ctx, 1, now)
	require.NoError(t, err)
	assert.Equal(t, "lesson-1-2", sub.Reference)
	assert.Equal(t, StatusActive, sub.Status)
}

func TestCreateSubscription_AfterExpiryStartsFromNow(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, _, err := s.CreateSubscription(ctx, 1, "lesson-1-1", 30, now)
	require.NoError(t, err)

	later := now.AddDate(0, 2, 0)
	expires, created, err := s.CreateSubscription(ctx, 1, "lesson-1-2", 30, later)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, expires.Equal(later.AddDate(0, 0, 30)))
}

func TestCancelSubscriptions(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	now := time.Now()

	_, _, err := s.CreateSubscription(ctx, 1, "lesson-1-1", 30, now)
	require.NoError(t, err)

	n, err := s.CancelSubscriptions(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.ActiveSubscription(ctx, 1, now)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetEligibleUsers(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	// 1: active, level 2
	require.NoError(t, s.UpsertUser(ctx, 1, 11, "a"))
	require.NoError(t, s.SetLevel(ctx, 1, 2))
	_, _, err := s.CreateSubscription(ctx, 1, "r1", 30, now)
	require.NoError(t, err)

	// 2: expired
	require.NoError(t, s.UpsertUser(ctx, 2, 22, "b"))
	require.NoError(t, s.SetLevel(ctx, 2, 1))
	_, _, err = s.CreateSubscription(ctx, 2, "r2", 1, now.AddDate(0, 0, -5))
	require.NoError(t, err)

	// 3: active but no level chosen
	require.NoError(t, s.UpsertUser(ctx, 3, 33, "c"))
	_, _, err = s.CreateSubscription(ctx, 3, "r3", 30, now)
	require.NoError(t, err)

	// 4: cancelled
	require.NoError(t, s.UpsertUser(ctx, 4, 44, "d"))
	require.NoError(t, s.SetLevel(ctx, 4, 5))
	_, _, err = s.CreateSubscription(ctx, 4, "r4", 30, now)
	require.NoError(t, err)
	_, err = s.CancelSubscriptions(ctx, 4)
	require.NoError(t, err)

	// 5: two active subscriptions, listed once
	require.NoError(t, s.UpsertUser(ctx, 5, 55, "e"))
	require.NoError(t, s.SetLevel(ctx, 5, 3))
	_, _, err = s.CreateSubscription(ctx, 5, "r5a", 30, now)
	require.NoError(t, err)
	_, _, err = s.CreateSubscription(ctx, 5, "r5b", 30, now)
	require.NoError(t, err)

	users, err := s.GetEligibleUsers(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []EligibleUser{
		{UserID: 1, ChatID: 11, Level: 2},
		{UserID: 5, ChatID: 55, Level: 3},
	}, users)
}

func TestSentences(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	id, err := s.SaveSentence(ctx, Sentence{
		Text:        "Guten Morgen",
		Translation: "Good morning",
		Level:       1,
		Words:       []Word{{Word: "Guten", Meaning: "good"}, {Word: "Morgen", Meaning: "morning"}},
	})
	require.NoError(t, err)
	assert.NotZero(t, id)

	_, err = s.SaveSentence(ctx, Sentence{Text: "Hallo", Translation: "Hello", Level: 2})
	require.NoError(t, err)

	got, err := s.RecentSentences(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Guten Morgen", got[0].Text)
	assert.Len(t, got[0].Words, 2)

	got, err = s.RecentSentences(ctx, 2, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Words)
}

func TestMarkRun(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	first, err := s.MarkRun(ctx, "2026-10-18")
	require.NoError(t, err)
	assert.True(t, first)

	second, err := s.MarkRun(ctx, "2026-10-18")
	require.NoError(t, err)
	assert.False(t, second)

	next, err := s.MarkRun(ctx, "2026-10-19")
	require.NoError(t, err)
	assert.True(t, next)
}
