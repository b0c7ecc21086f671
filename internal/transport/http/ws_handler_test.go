package http

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/vovakirdan/wirerelay-server/internal/config"
	"github.com/vovakirdan/wirerelay-server/internal/proto"
)

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := env.ts.Client().Get(env.ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestWebSocketDeliveryReadAndPresence(t *testing.T) {
	env := newTestEnv(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := env.register(ctx, t, "alice", "")
	bob := env.register(ctx, t, "bob", "")

	send(ctx, t, alice, proto.InboundTypeSendMessage, proto.SendMessageData{To: "bob", Body: "hi there"})

	var received proto.EventMessage
	readEvent(ctx, t, bob, "message_received", &received)
	if received.From != "alice" || received.Body != "hi there" || received.ID == "" {
		t.Fatalf("unexpected message: %+v", received)
	}

	var ack proto.EventMessageRef
	readEvent(ctx, t, alice, "delivery_ack", &ack)
	if ack.MessageID != received.ID {
		t.Fatalf("ack for %q, want %q", ack.MessageID, received.ID)
	}

	send(ctx, t, bob, proto.InboundTypeMarkRead, proto.MessageRefData{MessageID: received.ID})
	var receipt proto.EventMessageRef
	readEvent(ctx, t, alice, "read_receipt", &receipt)
	if receipt.MessageID != received.ID {
		t.Fatalf("receipt for %q, want %q", receipt.MessageID, received.ID)
	}

	stored, err := env.store.GetMessage(ctx, received.ID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if !stored.Delivered || !stored.Read {
		t.Fatalf("unexpected stored flags: %+v", stored)
	}

	// Alice watches bob since she messaged him.
	bob.Close(websocket.StatusNormalClosure, "bye")
	var presence proto.EventPresence
	readEvent(ctx, t, alice, "presence_changed", &presence)
	if presence.Identity != "bob" || presence.Online || presence.LastSeen == nil {
		t.Fatalf("unexpected presence: %+v", presence)
	}
}

func TestWebSocketTypingAndQueryPresence(t *testing.T) {
	env := newTestEnv(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := env.register(ctx, t, "alice", "")
	bob := env.register(ctx, t, "bob", "")

	send(ctx, t, alice, proto.InboundTypeTyping, proto.TypingData{To: "bob", IsTyping: true})
	var typing proto.EventTyping
	readEvent(ctx, t, bob, "typing_changed", &typing)
	if typing.From != "alice" || !typing.IsTyping {
		t.Fatalf("unexpected typing: %+v", typing)
	}

	send(ctx, t, bob, proto.InboundTypeQueryPresence, proto.QueryPresenceData{Identity: "carol"})
	var status proto.EventPresence
	readEvent(ctx, t, bob, "presence_status", &status)
	if status.Identity != "carol" || status.Online {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestWebSocketErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dial(ctx, t)

	send(ctx, t, conn, proto.InboundTypeSendMessage, proto.SendMessageData{To: "bob", Body: "hi"})
	if perr := readError(ctx, t, conn); perr.Code != "not_registered" || perr.Context != "send_message" {
		t.Fatalf("expected not_registered, got %+v", perr)
	}

	send(ctx, t, conn, "shout", map[string]string{})
	if perr := readError(ctx, t, conn); perr.Code != "invalid_message" {
		t.Fatalf("expected invalid_message, got %+v", perr)
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"register","data":"nope"}`)); err != nil {
		t.Fatalf("write raw: %v", err)
	}
	if perr := readError(ctx, t, conn); perr.Code != "bad_request" || perr.Context != "register" {
		t.Fatalf("expected bad_request, got %+v", perr)
	}

	// The connection stays usable after protocol errors.
	send(ctx, t, conn, proto.InboundTypeRegister, proto.RegisterData{Identity: "alice"})
	send(ctx, t, conn, proto.InboundTypeMarkRead, proto.MessageRefData{MessageID: "missing"})
	if perr := readError(ctx, t, conn); perr.Code != "not_found" {
		t.Fatalf("expected not_found, got %+v", perr)
	}
}

func TestWebSocketRateLimit(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.WSRateLimit = 0.001
		cfg.WSRateBurst = 1
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dial(ctx, t)
	send(ctx, t, conn, proto.InboundTypeQueryPresence, proto.QueryPresenceData{Identity: "bob"})
	readEvent(ctx, t, conn, "presence_status", nil)

	send(ctx, t, conn, proto.InboundTypeQueryPresence, proto.QueryPresenceData{Identity: "bob"})
	if perr := readError(ctx, t, conn); perr.Code != "rate_limited" {
		t.Fatalf("expected rate_limited, got %+v", perr)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	env.register(ctx, t, "alice", "")

	var body []byte
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := env.ts.Client().Get(env.ts.URL + "/metrics")
		if err != nil {
			t.Fatalf("metrics request failed: %v", err)
		}
		body, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("read metrics: %v", err)
		}
		if strings.Contains(string(body), "wirerelay_sessions_online 1") {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("sessions gauge missing from metrics:\n%s", body)
}
