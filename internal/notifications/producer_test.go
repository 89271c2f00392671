package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/etmpass/notifications-service/pkg/enums"
)

type fakePublisher struct {
	messages []*gcppubsub.Message
	result   publishResult
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.messages = append(f.messages, msg)
	return f.result
}

type fakePublishResult struct {
	id  string
	err error
}

func (f fakePublishResult) Get(context.Context) (string, error) {
	return f.id, f.err
}

func TestRoutingKey(t *testing.T) {
	cases := map[enums.NotificationChannel]string{
		enums.NotificationChannelEmail:    "send_email_notification",
		enums.NotificationChannelRealtime: "send_realtime_notification",
		enums.NotificationChannelInApp:    "send_inapp_notification",
		"sms":                             "send_notification",
	}
	for channel, want := range cases {
		if got := RoutingKey(channel); got != want {
			t.Fatalf("RoutingKey(%q) = %q, want %q", channel, got, want)
		}
	}
}

func TestProducerPublish(t *testing.T) {
	pub := &fakePublisher{result: fakePublishResult{id: "server-id"}}
	p, err := newProducer(pub, time.Second, newTestLogger())
	if err != nil {
		t.Fatalf("newProducer() error: %v", err)
	}

	id, err := p.Publish(context.Background(), Request{UserID: 8, Channel: enums.NotificationChannelRealtime, Message: "hi"})
	if err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	if id != "server-id" {
		t.Fatalf("unexpected id %q", id)
	}
	if len(pub.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(pub.messages))
	}
	msg := pub.messages[0]
	if msg.Attributes["event_type"] != EventSendRealtime {
		t.Fatalf("unexpected event type %q", msg.Attributes["event_type"])
	}

	var decoded Request
	if err := json.Unmarshal(msg.Data, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.UserID != 8 || decoded.Type != enums.NotificationTypeInfo {
		t.Fatalf("unexpected payload %+v", decoded)
	}
}

func TestProducerPublishDefaultsToInAppKey(t *testing.T) {
	pub := &fakePublisher{result: fakePublishResult{id: "x"}}
	p, _ := newProducer(pub, 0, newTestLogger())
	if _, err := p.Publish(context.Background(), Request{UserID: 1, Message: "x"}); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	if got := pub.messages[0].Attributes["event_type"]; got != EventSendInApp {
		t.Fatalf("expected in-app routing key, got %q", got)
	}
}

func TestProducerPublishFailure(t *testing.T) {
	pub := &fakePublisher{result: fakePublishResult{err: errors.New("topic not found")}}
	p, _ := newProducer(pub, time.Second, newTestLogger())

	_, err := p.Publish(context.Background(), Request{UserID: 1, Message: "x"})
	if err == nil || !strings.HasPrefix(err.Error(), "failed to send notification: ") {
		t.Fatalf("unexpected error %v", err)
	}

	nilResult := &fakePublisher{}
	p, _ = newProducer(nilResult, time.Second, newTestLogger())
	if _, err := p.Publish(context.Background(), Request{UserID: 1, Message: "x"}); err == nil {
		t.Fatal("expected nil publish result to fail")
	}
}
