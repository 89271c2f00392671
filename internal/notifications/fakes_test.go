package notifications

import (
	"context"
	"io"
	"sync"

	"github.com/etmpass/notifications-service/pkg/db/models"
	"github.com/etmpass/notifications-service/pkg/logger"
	"github.com/etmpass/notifications-service/pkg/mailer"
)

func newTestLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (f *fakeMailer) Send(_ context.Context, msg mailer.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakeCreator struct {
	created []*models.Notification
	err     error
}

func (f *fakeCreator) Create(_ context.Context, n *models.Notification) error {
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, n)
	return nil
}

type fakeEngine struct {
	sent []*models.Notification
	err  error
}

func (f *fakeEngine) Send(_ context.Context, n *models.Notification) error {
	f.sent = append(f.sent, n)
	return f.err
}

type fakeDispatcher struct {
	requests []Request
	err      error
}

func (f *fakeDispatcher) Send(_ context.Context, req Request) error {
	f.requests = append(f.requests, req)
	return f.err
}

type fakeIdempotency struct {
	already  bool
	err      error
	claimed  []string
	released []string
}

func (f *fakeIdempotency) CheckAndMarkProcessed(_ context.Context, _ string, messageID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.already {
		return true, nil
	}
	f.claimed = append(f.claimed, messageID)
	return false, nil
}

func (f *fakeIdempotency) Release(_ context.Context, _ string, messageID string) error {
	f.released = append(f.released, messageID)
	return nil
}

type fakeSink struct {
	rejected []RejectedMessage
	err      error
}

func (f *fakeSink) Reject(_ context.Context, msg RejectedMessage) error {
	f.rejected = append(f.rejected, msg)
	return f.err
}
