package notifier

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// sendTimeout bounds one delivery. Sends are not tied to the Run context, so a
// message already taken off the queue is not cut off by shutdown.
const sendTimeout = 30 * time.Second

var (
	ErrQueueFull = errors.New("delivery queue full")
	ErrClosed    = errors.New("delivery queue closed")
)

// Sender delivers one rendered message to a chat
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

type delivery struct {
	chatID int64
	text   string
}

// Queue buffers outbound messages and sends them one at a time, keeping at least
// interval between two sends to stay under the chat API rate limit.
type Queue struct {
	sender   Sender
	interval time.Duration
	log      *slog.Logger

	jobs chan delivery
	stop chan struct{}

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once

	sent   atomic.Int64
	failed atomic.Int64
}

// NewQueue creates a queue holding up to size pending messages
func NewQueue(sender Sender, size int, interval time.Duration, log *slog.Logger) *Queue {
	return &Queue{
		sender:   sender,
		interval: interval,
		log:      log,
		jobs:     make(chan delivery, size),
		stop:     make(chan struct{}),
	}
}

// Enqueue schedules a message without blocking
func (q *Queue) Enqueue(chatID int64, text string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrClosed
	}

	select {
	case q.jobs <- delivery{chatID: chatID, text: text}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting messages. Run keeps its pace until the queue is empty,
// then returns.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.stop)
	})
}

// Run sends queued messages until Close empties the queue or ctx is cancelled.
// On cancellation what is left is drained with a short grace period.
func (q *Queue) Run(ctx context.Context) {
	q.log.Info("delivery queue started", "interval", q.interval, "capacity", cap(q.jobs))

	var last time.Time
	for {
		var d delivery
		select {
		case <-ctx.Done():
			q.drain()
			return
		case d = <-q.jobs:
		case <-q.stop:
			select {
			case d = <-q.jobs:
			default:
				q.log.Info("delivery queue stopped", "sent", q.sent.Load(), "failed", q.failed.Load())
				return
			}
		}

		if wait := q.interval - time.Since(last); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				q.requeue(d)
				q.drain()
				return
			case <-timer.C:
			}
		}
		q.send(ctx, d)
		last = time.Now()
	}
}

func (q *Queue) send(ctx context.Context, d delivery) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()

	if err := q.sender.Send(ctx, d.chatID, d.text); err != nil {
		q.failed.Add(1)
		q.log.Error("deliver message", "chat_id", d.chatID, "error", err)
		return
	}
	q.sent.Add(1)
}

func (q *Queue) requeue(d delivery) {
	select {
	case q.jobs <- d:
	default:
		q.failed.Add(1)
	}
}

func (q *Queue) drain() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		select {
		case d := <-q.jobs:
			if ctx.Err() != nil {
				q.failed.Add(1)
				continue
			}
			q.send(ctx, d)
		default:
			q.log.Info("delivery queue stopped", "sent", q.sent.Load(), "failed", q.failed.Load())
			return
		}
	}
}

// Len returns the number of messages waiting
func (q *Queue) Len() int {
	return len(q.jobs)
}

// Stats returns how many messages were sent and how many failed
func (q *Queue) Stats() (sent, failed int64) {
	return q.sent.Load(), q.failed.Load()
}
