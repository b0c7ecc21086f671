package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay-server/internal/auth"
	"github.com/vovakirdan/wirerelay-server/internal/config"
	"github.com/vovakirdan/wirerelay-server/internal/core"
	"github.com/vovakirdan/wirerelay-server/internal/metrics"
	"github.com/vovakirdan/wirerelay-server/internal/proto"
	"github.com/vovakirdan/wirerelay-server/internal/store"
	"github.com/vovakirdan/wirerelay-server/internal/store/sqlite"
)

type testEnv struct {
	ts      *httptest.Server
	hub     *core.Hub
	store   store.Store
	auth    *auth.Service
	metrics *metrics.Metrics
	cfg     config.Config
}

// newTestEnv starts a full server over an in-memory SQLite store.
func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.JWTSecret = "testsecret"
	cfg.JWTIssuer = ""
	cfg.JWTAudience = ""
	cfg.WSRateLimit = 0
	if mutate != nil {
		mutate(&cfg)
	}

	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	logger := zerolog.Nop()
	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      time.Hour,
	})
	m := metrics.New()

	hub := core.NewHub(st,
		core.WithLogger(&logger),
		core.WithMetrics(m),
		core.WithAuthenticator(authService, cfg.RequireAuth),
		core.WithStoreTimeout(cfg.StoreTimeout),
	)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := NewServer(hub, authService, st, m, &cfg, &logger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})

	return &testEnv{ts: ts, hub: hub, store: st, auth: authService, metrics: m, cfg: cfg}
}

// wireOutbound mirrors proto.Outbound with undecoded data.
type wireOutbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func (e *testEnv) dial(ctx context.Context, t *testing.T) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

// register dials, registers identity and waits until the hub owns it.
func (e *testEnv) register(ctx context.Context, t *testing.T, identity, token string) *websocket.Conn {
	t.Helper()

	conn := e.dial(ctx, t)
	send(ctx, t, conn, proto.InboundTypeRegister, proto.RegisterData{Identity: identity, Token: token})
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := e.hub.Registry().Lookup(identity); ok {
			return conn
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s did not register", identity)
	return nil
}

func send(ctx context.Context, t *testing.T, conn *websocket.Conn, typ string, data any) {
	t.Helper()

	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s: %v", typ, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		t.Fatalf("send %s: %v", typ, err)
	}
}

// readEvent reads until an event with the given name arrives and decodes its data into out.
func readEvent(ctx context.Context, t *testing.T, conn *websocket.Conn, name string, out any) {
	t.Helper()

	for {
		var outbound wireOutbound
		if err := wsjson.Read(ctx, conn, &outbound); err != nil {
			t.Fatalf("waiting for %s: %v", name, err)
		}
		if outbound.Type != proto.OutboundTypeEvent || outbound.Event != name {
			continue
		}
		if out != nil {
			if err := json.Unmarshal(outbound.Data, out); err != nil {
				t.Fatalf("decode %s: %v", name, err)
			}
		}
		return
	}
}

// readError reads until an error outbound arrives.
func readError(ctx context.Context, t *testing.T, conn *websocket.Conn) *proto.Error {
	t.Helper()

	for {
		var outbound wireOutbound
		if err := wsjson.Read(ctx, conn, &outbound); err != nil {
			t.Fatalf("waiting for error: %v", err)
		}
		if outbound.Type == proto.OutboundTypeError && outbound.Error != nil {
			return outbound.Error
		}
	}
}
