// Package scheduler fans out one generated lesson per level to every subscriber once a day.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"golang.org/x/sync/errgroup"

	"github.com/suspectuso/lesson-bot/internal/lesson"
	"github.com/suspectuso/lesson-bot/internal/payment"
	"github.com/suspectuso/lesson-bot/internal/storage"
)

const (
	// generateConcurrency bounds parallel calls to the generation backend.
	generateConcurrency = 2
	// recentLimit is how many past sentences of a level the generator is told to avoid.
	recentLimit = 10
)

// Store is the persistence the scheduler reads and writes
type Store interface {
	GetEligibleUsers(ctx context.Context, now time.Time) ([]storage.EligibleUser, error)
	GetUser(ctx context.Context, userID int64) (*storage.User, error)
	SaveSentence(ctx context.Context, sentence storage.Sentence) (int64, error)
	RecentSentences(ctx context.Context, level, limit int) ([]storage.Sentence, error)
	MarkRun(ctx context.Context, date string) (bool, error)
}

// Queue accepts rendered messages for delivery
type Queue interface {
	Enqueue(chatID int64, text string) error
}

// Report summarizes one fan-out run
type Report struct {
	Users              int
	Tiers              int
	Delivered          int
	GenerationFailures int
	SkippedUsers       int
	EnqueueFailures    int
	StoreFailures      int
}

// Scheduler triggers the daily fan-out at a fixed local time
type Scheduler struct {
	store     Store
	generator lesson.Generator
	queue     Queue
	log       *slog.Logger

	hour   int
	minute int
	loc    *time.Location

	now func() time.Time
}

var _ payment.Activator = (*Scheduler)(nil)

// New creates a scheduler firing daily at hour:minute in loc
func New(store Store, generator lesson.Generator, queue Queue, hour, minute int, loc *time.Location, log *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		store:     store,
		generator: generator,
		queue:     queue,
		log:       log,
		hour:      hour,
		minute:    minute,
		loc:       loc,
		now:       time.Now,
	}
}

// Start blocks, running the fan-out every day until ctx is cancelled
func (s *Scheduler) Start(ctx context.Context) error {
	cron, job, err := s.newCron(ctx)
	if err != nil {
		return err
	}

	cron.Start()
	s.log.Info("daily scheduler started",
		"hour", s.hour,
		"minute", s.minute,
		"timezone", s.loc.String(),
	)
	if next, err := job.NextRun(); err == nil {
		s.log.Debug("daily fan-out scheduled", "next_run", next)
	}

	<-ctx.Done()

	if err := cron.Shutdown(); err != nil {
		s.log.Warn("shutdown scheduler", "error", err)
	}
	s.log.Info("daily scheduler stopped")
	return nil
}

// newCron registers the daily job on a scheduler running in the configured zone.
func (s *Scheduler) newCron(ctx context.Context) (gocron.Scheduler, gocron.Job, error) {
	cron, err := gocron.NewScheduler(gocron.WithLocation(s.loc))
	if err != nil {
		return nil, nil, fmt.Errorf("create scheduler: %w", err)
	}

	job, err := cron.NewJob(
		gocron.CronJob(cronSpec(s.hour, s.minute), false),
		gocron.NewTask(func() {
			if _, _, err := s.RunOnce(ctx); err != nil {
				s.log.Error("daily fan-out", "error", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("daily-fanout"),
	)
	if err != nil {
		_ = cron.Shutdown()
		return nil, nil, fmt.Errorf("register daily fan-out: %w", err)
	}

	return cron, job, nil
}

// cronSpec is the crontab line firing daily at hour:minute.
func cronSpec(hour, minute int) string {
	return fmt.Sprintf("%d %d * * *", minute, hour)
}

// RunOnce runs the fan-out unless one was already recorded for today. The day is
// claimed before delivering, so a crash mid-run never causes a second delivery.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, bool, error) {
	date := s.now().In(s.loc).Format("2006-01-02")

	claimed, err := s.store.MarkRun(ctx, date)
	if err != nil {
		return Report{}, false, fmt.Errorf("mark run: %w", err)
	}
	if !claimed {
		s.log.Info("daily fan-out already ran", "date", date)
		return Report{}, false, nil
	}

	report, err := s.Run(ctx)
	return report, true, err
}

// Run generates one lesson per level present among eligible users and enqueues
// one delivery per user. Failures of single levels or users are counted, not returned.
func (s *Scheduler) Run(ctx context.Context) (Report, error) {
	started := s.now()

	users, err := s.store.GetEligibleUsers(ctx, started)
	if err != nil {
		return Report{}, fmt.Errorf("get eligible users: %w", err)
	}

	report := Report{Users: len(users)}
	if len(users) == 0 {
		s.log.Info("daily fan-out: no eligible users")
		return report, nil
	}

	tiers := distinctTiers(users)
	report.Tiers = len(tiers)

	cache, failures := s.generateAll(ctx, tiers)
	report.GenerationFailures = failures

	messages := make(map[int]string, len(cache))
	for _, tier := range tiers {
		l, ok := cache[tier]
		if !ok {
			continue
		}
		if _, err := s.store.SaveSentence(ctx, toSentence(l, tier)); err != nil {
			report.StoreFailures++
			s.log.Error("save sentence", "tier", tier, "error", err)
		}
		messages[tier] = lesson.Render(l, tier)
	}

	for _, u := range users {
		msg, ok := messages[u.Level]
		if !ok {
			report.SkippedUsers++
			continue
		}
		if err := s.queue.Enqueue(u.ChatID, msg); err != nil {
			report.EnqueueFailures++
			s.log.Error("enqueue lesson", "user_id", u.UserID, "tier", u.Level, "error", err)
			continue
		}
		report.Delivered++
	}

	s.log.Info("daily fan-out completed",
		"users", report.Users,
		"tiers", report.Tiers,
		"delivered", report.Delivered,
		"generation_failures", report.GenerationFailures,
		"skipped_users", report.SkippedUsers,
		"enqueue_failures", report.EnqueueFailures,
		"store_failures", report.StoreFailures,
		"duration", time.Since(started),
	)

	return report, nil
}

// generateAll builds the per-run cache. A failed tier is simply absent.
func (s *Scheduler) generateAll(ctx context.Context, tiers []int) (map[int]lesson.Lesson, int) {
	var (
		mu       sync.Mutex
		cache    = make(map[int]lesson.Lesson, len(tiers))
		failures int
	)

	var g errgroup.Group
	g.SetLimit(generateConcurrency)
	for _, tier := range tiers {
		tier := tier
		g.Go(func() error {
			l, err := s.generator.Generate(ctx, tier, s.recent(ctx, tier))

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				s.log.Error("generate lesson", "tier", tier, "error", err)
				return nil
			}
			cache[tier] = l
			return nil
		})
	}
	_ = g.Wait()

	return cache, failures
}

// Activate sends a lesson right away to a user whose subscription just started.
func (s *Scheduler) Activate(ctx context.Context, userID int64) error {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}

	tier := u.Level
	if tier < 1 || tier > storage.MaxLevel {
		tier = 1
	}

	l, err := s.generator.Generate(ctx, tier, s.recent(ctx, tier))
	if err != nil {
		return fmt.Errorf("generate lesson: %w", err)
	}

	if _, err := s.store.SaveSentence(ctx, toSentence(l, tier)); err != nil {
		s.log.Error("save sentence", "tier", tier, "error", err)
	}

	if err := s.queue.Enqueue(u.ChatID, lesson.Render(l, tier)); err != nil {
		return fmt.Errorf("enqueue lesson: %w", err)
	}

	s.log.Info("welcome lesson enqueued", "user_id", userID, "tier", tier)
	return nil
}

// recent returns the latest sentence texts of a tier. A lookup failure only costs
// variety, so it is logged and generation goes ahead without them.
func (s *Scheduler) recent(ctx context.Context, tier int) []string {
	sentences, err := s.store.RecentSentences(ctx, tier, recentLimit)
	if err != nil {
		s.log.Warn("load recent sentences", "tier", tier, "error", err)
		return nil
	}
	texts := make([]string, 0, len(sentences))
	for _, st := range sentences {
		texts = append(texts, st.Text)
	}
	return texts
}

func distinctTiers(users []storage.EligibleUser) []int {
	seen := make(map[int]bool)
	var tiers []int
	for _, u := range users {
		if !seen[u.Level] {
			seen[u.Level] = true
			tiers = append(tiers, u.Level)
		}
	}
	sort.Ints(tiers)
	return tiers
}

func toSentence(l lesson.Lesson, tier int) storage.Sentence {
	words := make([]storage.Word, 0, len(l.Words))
	for _, w := range l.Words {
		words = append(words, storage.Word{Word: w.Word, Meaning: w.Meaning})
	}
	return storage.Sentence{
		Text:        l.Text,
		Translation: l.Translation,
		Level:       tier,
		Words:       words,
	}
}
