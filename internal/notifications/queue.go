package notifications

import (
	"context"
	"sync"

	"github.com/MarcoPoloResearchLab/bibli/backend/internal/failure"
	"go.uber.org/zap"
)

const defaultMailQueueSize = 256

type outboundMail struct {
	notificationID uint64
	mail           Mail
}

// mailQueue hands mail to one background sender. Enqueue never blocks: when
// the buffer is full the mail is dropped and logged.
type mailQueue struct {
	mailer Mailer
	logger *zap.Logger

	mu      sync.RWMutex
	closed  bool
	pending chan outboundMail
	done    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

func newMailQueue(mailer Mailer, size int, logger *zap.Logger) *mailQueue {
	if size <= 0 {
		size = defaultMailQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	queue := &mailQueue{
		mailer:  mailer,
		logger:  logger,
		pending: make(chan outboundMail, size),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	go queue.run()
	return queue
}

func (q *mailQueue) enqueue(item outboundMail) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.pending <- item:
		return true
	default:
		return false
	}
}

func (q *mailQueue) run() {
	defer close(q.done)
	for item := range q.pending {
		if q.ctx.Err() != nil {
			continue
		}
		if err := q.mailer.Send(q.ctx, item.mail); err != nil {
			failure.LogError(q.logger, "notification service failure", operationDeliver, "send_failed", err,
				zap.Uint64("notification_id", item.notificationID))
		}
	}
}

// close stops accepting mail and waits for the backlog to drain. When ctx
// ends first, in-flight sends are cancelled and the rest is discarded.
func (q *mailQueue) close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.pending)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-q.done
		return ctx.Err()
	}
}
