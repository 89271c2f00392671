package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/etmpass/notifications-service/internal/notifications"
	"github.com/etmpass/notifications-service/pkg/db/models"
	"github.com/etmpass/notifications-service/pkg/enums"
	pkgerrors "github.com/etmpass/notifications-service/pkg/errors"
	"github.com/etmpass/notifications-service/pkg/logger"
)

type testNotificationsService struct {
	sendFn        func(ctx context.Context, req notifications.Request) error
	listFn        func(ctx context.Context, params notifications.ListParams) (*notifications.ListResult, error)
	unreadFn      func(ctx context.Context, userID int64) (int64, error)
	markReadFn    func(ctx context.Context, userID int64, id uuid.UUID) (*models.Notification, error)
	markAllReadFn func(ctx context.Context, userID int64) (int64, error)
	deleteFn      func(ctx context.Context, userID int64, id uuid.UUID) error
}

func (s *testNotificationsService) Send(ctx context.Context, req notifications.Request) error {
	if s.sendFn != nil {
		return s.sendFn(ctx, req)
	}
	return nil
}

func (s *testNotificationsService) SendEmail(context.Context, int64, string, string, string) error {
	return nil
}

func (s *testNotificationsService) SendInApp(context.Context, int64, string, string) error {
	return nil
}

func (s *testNotificationsService) SendRealTime(context.Context, int64, string, string) error {
	return nil
}

func (s *testNotificationsService) List(ctx context.Context, params notifications.ListParams) (*notifications.ListResult, error) {
	if s.listFn != nil {
		return s.listFn(ctx, params)
	}
	return &notifications.ListResult{}, nil
}

func (s *testNotificationsService) UnreadCount(ctx context.Context, userID int64) (int64, error) {
	if s.unreadFn != nil {
		return s.unreadFn(ctx, userID)
	}
	return 0, nil
}

func (s *testNotificationsService) MarkRead(ctx context.Context, userID int64, id uuid.UUID) (*models.Notification, error) {
	if s.markReadFn != nil {
		return s.markReadFn(ctx, userID, id)
	}
	return nil, nil
}

func (s *testNotificationsService) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	if s.markAllReadFn != nil {
		return s.markAllReadFn(ctx, userID)
	}
	return 0, nil
}

func (s *testNotificationsService) Delete(ctx context.Context, userID int64, id uuid.UUID) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, userID, id)
	}
	return nil
}

type testPublisher struct {
	requests []notifications.Request
	err      error
}

func (p *testPublisher) Publish(_ context.Context, req notifications.Request) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.requests = append(p.requests, req)
	return "msg-1", nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func withURLParams(req *http.Request, params map[string]string) *http.Request {
	routeCtx := chi.NewRouteContext()
	for k, v := range params {
		routeCtx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
}

func decodeData(t *testing.T, body []byte, dest any) {
	t.Helper()
	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if err := json.Unmarshal(envelope.Data, dest); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return payload.Error.Code
}

func TestCreateNotificationSent(t *testing.T) {
	var got notifications.Request
	svc := &testNotificationsService{
		sendFn: func(_ context.Context, req notifications.Request) error {
			got = req
			return nil
		},
	}

	body := `{"userId":7,"channel":"in_app","title":"Hello","message":"welcome"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications", strings.NewReader(body))
	resp := httptest.NewRecorder()
	CreateNotification(svc, testLogger())(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	var data map[string]string
	decodeData(t, resp.Body.Bytes(), &data)
	if data["status"] != "sent" {
		t.Fatalf("expected status sent got %q", data["status"])
	}
	if got.UserID != 7 || got.Channel != enums.NotificationChannelInApp {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestCreateNotificationRejectsInvalidBody(t *testing.T) {
	called := false
	svc := &testNotificationsService{
		sendFn: func(context.Context, notifications.Request) error {
			called = true
			return nil
		},
	}

	tests := []string{
		`{"channel":"in_app","message":"missing user"}`,
		`{"userId":1,"to":"not-an-email","channel":"email"}`,
		`{"userId":1,"unknown":true}`,
		`not json`,
	}
	for _, body := range tests {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications", strings.NewReader(body))
		resp := httptest.NewRecorder()
		CreateNotification(svc, testLogger())(resp, req)
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 got %d", body, resp.Code)
		}
	}
	if called {
		t.Fatal("service should not be called for invalid bodies")
	}
}

func TestCreateNotificationPropagatesServiceError(t *testing.T) {
	svc := &testNotificationsService{
		sendFn: func(context.Context, notifications.Request) error {
			return pkgerrors.New(pkgerrors.CodeUnsupportedChannel, "unsupported notification channel")
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications", strings.NewReader(`{"userId":1,"channel":"sms"}`))
	resp := httptest.NewRecorder()
	CreateNotification(svc, testLogger())(resp, req)

	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", resp.Code)
	}
	if code := errorCode(t, resp.Body.Bytes()); code != string(pkgerrors.CodeUnsupportedChannel) {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestQueueNotificationAccepted(t *testing.T) {
	pub := &testPublisher{}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/queue", strings.NewReader(`{"userId":3,"channel":"realtime","message":"ping"}`))
	resp := httptest.NewRecorder()
	QueueNotification(pub, testLogger())(resp, req)

	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d: %s", resp.Code, resp.Body.String())
	}
	var data map[string]string
	decodeData(t, resp.Body.Bytes(), &data)
	if data["status"] != "queued" || data["messageId"] != "msg-1" {
		t.Fatalf("unexpected payload %v", data)
	}
	if len(pub.requests) != 1 || pub.requests[0].Type != enums.NotificationTypeInfo {
		t.Fatalf("expected normalized request published, got %+v", pub.requests)
	}
}

func TestQueueNotificationRejectsUnknownChannel(t *testing.T) {
	pub := &testPublisher{}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/queue", strings.NewReader(`{"userId":3,"channel":"sms"}`))
	resp := httptest.NewRecorder()
	QueueNotification(pub, testLogger())(resp, req)

	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", resp.Code)
	}
	if len(pub.requests) != 0 {
		t.Fatal("nothing should be published")
	}
}

func TestQueueNotificationPublishFailure(t *testing.T) {
	pub := &testPublisher{err: errors.New("broker down")}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/queue", strings.NewReader(`{"userId":3}`))
	resp := httptest.NewRecorder()
	QueueNotification(pub, testLogger())(resp, req)

	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
}

func TestListUserNotificationsParsesQuery(t *testing.T) {
	var got notifications.ListParams
	svc := &testNotificationsService{
		listFn: func(_ context.Context, params notifications.ListParams) (*notifications.ListResult, error) {
			got = params
			return &notifications.ListResult{Notifications: []models.Notification{}, Total: 0, Page: params.Page, Limit: params.Limit}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications/users/9?page=2&limit=5&isRead=false", nil)
	req = withURLParams(req, map[string]string{"userId": "9"})
	resp := httptest.NewRecorder()
	ListUserNotifications(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if got.UserID != 9 || got.Page != 2 || got.Limit != 5 {
		t.Fatalf("unexpected params %+v", got)
	}
	if got.IsRead == nil || *got.IsRead {
		t.Fatalf("expected isRead=false filter")
	}
}

func TestListUserNotificationsValidation(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		query  string
	}{
		{"bad user", "abc", ""},
		{"zero user", "0", ""},
		{"limit too large", "1", "?limit=101"},
		{"bad page", "1", "?page=0"},
		{"bad isRead", "1", "?isRead=maybe"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications/users/"+tt.userID+tt.query, nil)
		req = withURLParams(req, map[string]string{"userId": tt.userID})
		resp := httptest.NewRecorder()
		ListUserNotifications(&testNotificationsService{}, testLogger())(resp, req)
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 got %d", tt.name, resp.Code)
		}
	}
}

func TestUnreadCount(t *testing.T) {
	svc := &testNotificationsService{
		unreadFn: func(_ context.Context, userID int64) (int64, error) {
			if userID != 4 {
				t.Fatalf("unexpected user %d", userID)
			}
			return 3, nil
		},
	}

	req := withURLParams(httptest.NewRequest(http.MethodGet, "/api/v1/notifications/users/4/unread-count", nil), map[string]string{"userId": "4"})
	resp := httptest.NewRecorder()
	UnreadCount(svc, testLogger())(resp, req)

	var data map[string]int64
	decodeData(t, resp.Body.Bytes(), &data)
	if data["count"] != 3 {
		t.Fatalf("expected count 3 got %d", data["count"])
	}
}

func TestMarkNotificationReadSuccess(t *testing.T) {
	notificationID := uuid.New()
	called := false
	svc := &testNotificationsService{
		markReadFn: func(_ context.Context, userID int64, id uuid.UUID) (*models.Notification, error) {
			called = true
			if userID != 5 {
				t.Fatalf("unexpected user %d", userID)
			}
			if id != notificationID {
				t.Fatalf("unexpected notification %s", id)
			}
			return &models.Notification{ID: id, UserID: userID, IsRead: true}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/notifications/"+notificationID.String()+"/read?userId=5", nil)
	req = withURLParams(req, map[string]string{"notificationId": notificationID.String()})
	resp := httptest.NewRecorder()
	MarkNotificationRead(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if !called {
		t.Fatal("expected service called")
	}
	var data struct {
		ID     string `json:"id"`
		IsRead bool   `json:"isRead"`
	}
	decodeData(t, resp.Body.Bytes(), &data)
	if data.ID != notificationID.String() || !data.IsRead {
		t.Fatalf("unexpected payload %+v", data)
	}
}

func TestMarkNotificationReadRequiresUserQuery(t *testing.T) {
	notificationID := uuid.New()
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/notifications/"+notificationID.String()+"/read", nil)
	req = withURLParams(req, map[string]string{"notificationId": notificationID.String()})
	resp := httptest.NewRecorder()
	MarkNotificationRead(&testNotificationsService{}, testLogger())(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestMarkNotificationReadNotFound(t *testing.T) {
	notificationID := uuid.New()
	svc := &testNotificationsService{
		markReadFn: func(context.Context, int64, uuid.UUID) (*models.Notification, error) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
		},
	}
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/notifications/"+notificationID.String()+"/read?userId=1", nil)
	req = withURLParams(req, map[string]string{"notificationId": notificationID.String()})
	resp := httptest.NewRecorder()
	MarkNotificationRead(svc, testLogger())(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestMarkAllNotificationsRead(t *testing.T) {
	svc := &testNotificationsService{
		markAllReadFn: func(_ context.Context, userID int64) (int64, error) {
			return 2, nil
		},
	}
	req := withURLParams(httptest.NewRequest(http.MethodPatch, "/api/v1/notifications/users/8/read-all", nil), map[string]string{"userId": "8"})
	resp := httptest.NewRecorder()
	MarkAllNotificationsRead(svc, testLogger())(resp, req)

	var data map[string]int64
	decodeData(t, resp.Body.Bytes(), &data)
	if data["updated"] != 2 {
		t.Fatalf("expected updated 2 got %d", data["updated"])
	}
}

func TestDeleteNotification(t *testing.T) {
	notificationID := uuid.New()
	var deleted uuid.UUID
	svc := &testNotificationsService{
		deleteFn: func(_ context.Context, userID int64, id uuid.UUID) error {
			deleted = id
			return nil
		},
	}
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/notifications/"+notificationID.String()+"?userId=1", nil)
	req = withURLParams(req, map[string]string{"notificationId": notificationID.String()})
	resp := httptest.NewRecorder()
	DeleteNotification(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if deleted != notificationID {
		t.Fatalf("expected %s deleted got %s", notificationID, deleted)
	}
}

func TestDeleteNotificationInvalidID(t *testing.T) {
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/notifications/nope?userId=1", nil)
	req = withURLParams(req, map[string]string{"notificationId": "nope"})
	resp := httptest.NewRecorder()
	DeleteNotification(&testNotificationsService{}, testLogger())(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}
