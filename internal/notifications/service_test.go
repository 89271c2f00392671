package notifications

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/etmpass/notifications-service/pkg/db/models"
	"github.com/etmpass/notifications-service/pkg/enums"
	pkgerrors "github.com/etmpass/notifications-service/pkg/errors"
)

type fakeRepository struct {
	listFn        func(ctx context.Context, params listParams) ([]models.Notification, int64, error)
	countFn       func(ctx context.Context, userID int64, now time.Time) (int64, error)
	markReadFn    func(ctx context.Context, userID int64, id uuid.UUID, now time.Time) (*models.Notification, error)
	markAllReadFn func(ctx context.Context, userID int64, now time.Time) (int64, error)
	deleteFn      func(ctx context.Context, userID int64, id uuid.UUID) (bool, error)
}

func (f *fakeRepository) Create(ctx context.Context, notification *models.Notification) error {
	return nil
}

func (f *fakeRepository) ListForUser(ctx context.Context, params listParams) ([]models.Notification, int64, error) {
	if f.listFn != nil {
		return f.listFn(ctx, params)
	}
	return nil, 0, nil
}

func (f *fakeRepository) CountUnread(ctx context.Context, userID int64, now time.Time) (int64, error) {
	if f.countFn != nil {
		return f.countFn(ctx, userID, now)
	}
	return 0, nil
}

func (f *fakeRepository) MarkRead(ctx context.Context, userID int64, id uuid.UUID, now time.Time) (*models.Notification, error) {
	if f.markReadFn != nil {
		return f.markReadFn(ctx, userID, id, now)
	}
	return nil, nil
}

func (f *fakeRepository) MarkAllRead(ctx context.Context, userID int64, now time.Time) (int64, error) {
	if f.markAllReadFn != nil {
		return f.markAllReadFn(ctx, userID, now)
	}
	return 0, nil
}

func (f *fakeRepository) SoftDelete(ctx context.Context, userID int64, id uuid.UUID) (bool, error) {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, userID, id)
	}
	return false, nil
}

type serviceHarness struct {
	svc    Service
	mailer *fakeMailer
	store  *fakeCreator
	engine *fakeEngine
}

func newServiceHarness(t *testing.T, repo Repository) *serviceHarness {
	t.Helper()
	strategies, m, store, engine := newTestStrategies(t)
	if repo == nil {
		repo = &fakeRepository{}
	}
	svc, err := NewService(ServiceParams{Repo: repo, Strategies: strategies, Logger: newTestLogger()})
	if err != nil {
		t.Fatalf("NewService() error: %v", err)
	}
	return &serviceHarness{svc: svc, mailer: m, store: store, engine: engine}
}

func TestService_SendDefaultsToInApp(t *testing.T) {
	h := newServiceHarness(t, nil)
	if err := h.svc.Send(context.Background(), Request{UserID: 3, Message: "hello"}); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if len(h.store.created) != 1 {
		t.Fatalf("expected in-app row, got %d", len(h.store.created))
	}
	row := h.store.created[0]
	if row.Channel != enums.NotificationChannelInApp || row.Type != enums.NotificationTypeInfo {
		t.Fatalf("defaults not applied: %+v", row)
	}
}

func TestService_SendRoutesByChannel(t *testing.T) {
	h := newServiceHarness(t, nil)
	ctx := context.Background()

	if err := h.svc.SendEmail(ctx, 1, "user@example.com", "Welcome", "hi"); err != nil {
		t.Fatalf("SendEmail() error: %v", err)
	}
	if err := h.svc.SendRealTime(ctx, 1, "Ping", "now"); err != nil {
		t.Fatalf("SendRealTime() error: %v", err)
	}
	if err := h.svc.SendInApp(ctx, 1, "Inbox", "later"); err != nil {
		t.Fatalf("SendInApp() error: %v", err)
	}

	if len(h.mailer.sent) != 1 || h.mailer.sent[0].Subject != "Welcome" {
		t.Fatalf("unexpected mails %+v", h.mailer.sent)
	}
	if len(h.engine.sent) != 1 || len(h.store.created) != 1 {
		t.Fatalf("expected one real-time and one in-app dispatch, got %d and %d", len(h.engine.sent), len(h.store.created))
	}
}

func TestService_SendUnsupportedChannel(t *testing.T) {
	h := newServiceHarness(t, nil)
	err := h.svc.Send(context.Background(), Request{UserID: 1, Channel: "sms", Message: "x"})
	if !errors.Is(err, ErrUnsupportedChannel) {
		t.Fatalf("expected ErrUnsupportedChannel, got %v", err)
	}
	if pkgerrors.As(err).Code() != pkgerrors.CodeUnsupportedChannel {
		t.Fatalf("unexpected code %s", pkgerrors.As(err).Code())
	}
}

func TestService_SendValidation(t *testing.T) {
	h := newServiceHarness(t, nil)
	err := h.svc.Send(context.Background(), Request{UserID: 0, Message: "x"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	err = h.svc.Send(context.Background(), Request{UserID: 1, Title: stringPtr("ab"), Message: "x"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for short title, got %v", err)
	}
	if len(h.store.created) != 0 {
		t.Fatal("invalid requests must not be stored")
	}
}

func TestService_SendWrapsStrategyFailure(t *testing.T) {
	h := newServiceHarness(t, nil)
	err := h.svc.Send(context.Background(), Request{UserID: 1, Channel: enums.NotificationChannelEmail, Message: "x"})
	if !errors.Is(err, ErrMissingDestination) {
		t.Fatalf("expected ErrMissingDestination in chain, got %v", err)
	}
	typed := pkgerrors.As(err)
	if typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected code to be kept, got %s", typed.Code())
	}
	if !strings.HasPrefix(typed.Message(), "failed to send email notification: ") {
		t.Fatalf("unexpected message %q", typed.Message())
	}
}

func TestService_List(t *testing.T) {
	userID := int64(12)
	isRead := false
	repo := &fakeRepository{
		listFn: func(ctx context.Context, params listParams) ([]models.Notification, int64, error) {
			if params.UserID != userID {
				t.Fatalf("unexpected user %d", params.UserID)
			}
			if params.Page.Page != 1 || params.Page.Limit != 10 {
				t.Fatalf("expected default paging, got %+v", params.Page)
			}
			if params.IsRead == nil || *params.IsRead {
				t.Fatal("expected isRead=false filter")
			}
			return []models.Notification{{ID: uuid.New(), UserID: userID}}, 4, nil
		},
	}
	h := newServiceHarness(t, repo)

	result, err := h.svc.List(context.Background(), ListParams{UserID: userID, IsRead: &isRead})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(result.Notifications) != 1 || result.Total != 4 || result.Page != 1 || result.Limit != 10 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestService_ListEmptyIsNotNil(t *testing.T) {
	h := newServiceHarness(t, nil)
	result, err := h.svc.List(context.Background(), ListParams{UserID: 1})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if result.Notifications == nil {
		t.Fatal("expected empty slice")
	}
}

func TestService_UnreadCount(t *testing.T) {
	repo := &fakeRepository{
		countFn: func(ctx context.Context, userID int64, now time.Time) (int64, error) {
			return 6, nil
		},
	}
	h := newServiceHarness(t, repo)
	count, err := h.svc.UnreadCount(context.Background(), 1)
	if err != nil || count != 6 {
		t.Fatalf("UnreadCount() = %d, %v", count, err)
	}
	if _, err := h.svc.UnreadCount(context.Background(), 0); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestService_MarkRead(t *testing.T) {
	id := uuid.New()
	repo := &fakeRepository{
		markReadFn: func(ctx context.Context, userID int64, notificationID uuid.UUID, now time.Time) (*models.Notification, error) {
			return &models.Notification{ID: notificationID, UserID: userID, IsRead: true}, nil
		},
	}
	h := newServiceHarness(t, repo)
	n, err := h.svc.MarkRead(context.Background(), 2, id)
	if err != nil {
		t.Fatalf("MarkRead() error: %v", err)
	}
	if n.ID != id || !n.IsRead {
		t.Fatalf("unexpected notification %+v", n)
	}
}

func TestService_MarkReadNotFound(t *testing.T) {
	h := newServiceHarness(t, &fakeRepository{})
	_, err := h.svc.MarkRead(context.Background(), 2, uuid.New())
	if pkgerrors.As(err).Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestService_MarkAllRead(t *testing.T) {
	repo := &fakeRepository{
		markAllReadFn: func(ctx context.Context, userID int64, now time.Time) (int64, error) {
			return 3, nil
		},
	}
	h := newServiceHarness(t, repo)
	count, err := h.svc.MarkAllRead(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected mark all read error: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 updated rows, got %d", count)
	}
}

func TestService_MarkAllReadError(t *testing.T) {
	repo := &fakeRepository{
		markAllReadFn: func(ctx context.Context, userID int64, now time.Time) (int64, error) {
			return 0, errors.New("boom")
		},
	}
	h := newServiceHarness(t, repo)
	if _, err := h.svc.MarkAllRead(context.Background(), 1); !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestService_Delete(t *testing.T) {
	repo := &fakeRepository{
		deleteFn: func(ctx context.Context, userID int64, id uuid.UUID) (bool, error) {
			return userID == 1, nil
		},
	}
	h := newServiceHarness(t, repo)
	if err := h.svc.Delete(context.Background(), 1, uuid.New()); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if err := h.svc.Delete(context.Background(), 2, uuid.New()); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
