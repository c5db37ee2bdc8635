package webex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/webexclaw/internal/bus"
	"github.com/nextlevelbuilder/webexclaw/internal/config"
)

func TestResolveMode(t *testing.T) {
	tests := []struct {
		mode        string
		wantWebhook bool
		wantPolling bool
		wantErr     bool
	}{
		{"", true, false, false},
		{"webhook", true, false, false},
		{"polling", false, true, false},
		{"both", true, true, false},
		{"websocket", false, false, true},
	}

	for _, tt := range tests {
		webhook, polling, err := resolveMode(tt.mode)
		if (err != nil) != tt.wantErr {
			t.Errorf("resolveMode(%q) error = %v, wantErr %v", tt.mode, err, tt.wantErr)
			continue
		}
		if webhook != tt.wantWebhook || polling != tt.wantPolling {
			t.Errorf("resolveMode(%q) = (%v, %v), want (%v, %v)",
				tt.mode, webhook, polling, tt.wantWebhook, tt.wantPolling)
		}
	}
}

func testWebexConfig(mode string) config.WebexConfig {
	return config.WebexConfig{
		Enabled:  true,
		BotToken: "test-token",
		Mode:     mode,
		Webhook: config.WebhookConfig{
			Port: 0,
			Path: "/webexclaw/events",
			URL:  "https://bridge.example.com/webexclaw/events",
		},
		Polling:     config.PollingConfig{IntervalSeconds: 1},
		DMPolicy:    "open",
		GroupPolicy: "open",
	}
}

// fakeAPIServer simulates the minimum Webex REST surface for channel
// lifecycle tests.
type fakeAPIServer struct {
	srv          *httptest.Server
	meStatus     int
	webhooksFail bool
	created      []CreateWebhookRequest
	deleted      []string
}

func newFakeAPIServer() *fakeAPIServer {
	f := &fakeAPIServer{meStatus: http.StatusOK}
	mux := http.NewServeMux()

	mux.HandleFunc("/people/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if f.meStatus != http.StatusOK {
			w.WriteHeader(f.meStatus)
			w.Write([]byte(`{"message":"invalid token","trackingId":"T1"}`))
			return
		}
		w.Write([]byte(`{"id":"` + testBotID + `","emails":["bot@webex.bot"],"displayName":"Test Bot"}`))
	})
	mux.HandleFunc("/webhooks", func(w http.ResponseWriter, r *http.Request) {
		if f.webhooksFail {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(`{"items":[]}`))
		case http.MethodPost:
			var req CreateWebhookRequest
			json.NewDecoder(r.Body).Decode(&req)
			f.created = append(f.created, req)
			json.NewEncoder(w).Encode(Webhook{ID: "wh-1", TargetURL: req.TargetURL, Resource: req.Resource, Event: req.Event})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/webhooks/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		f.deleted = append(f.deleted, strings.TrimPrefix(r.URL.Path, "/webhooks/"))
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/rooms", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Write([]byte(`{"items":[]}`))
	})

	f.srv = httptest.NewServer(mux)
	return f
}

func newTestChannel(t *testing.T, cfg config.WebexConfig, api *fakeAPIServer) *Channel {
	t.Helper()
	c, err := New(cfg, bus.New())
	if err != nil {
		t.Fatal(err)
	}
	c.client = NewClient(cfg.BotToken, WithBaseURL(api.srv.URL))
	return c
}

func TestChannel_StartFailsOnBadCredentials(t *testing.T) {
	api := newFakeAPIServer()
	defer api.srv.Close()
	api.meStatus = http.StatusUnauthorized

	c := newTestChannel(t, testWebexConfig("polling"), api)
	if err := c.Start(context.Background()); err == nil {
		t.Error("expected startup failure on rejected token")
	}
}

// Startup with webhook-only mode and failing registration must abort; the
// same failure in combined mode degrades to polling-only.
func TestChannel_RegistrationFailure(t *testing.T) {
	t.Run("fatal in webhook-only mode", func(t *testing.T) {
		api := newFakeAPIServer()
		defer api.srv.Close()
		api.webhooksFail = true

		c := newTestChannel(t, testWebexConfig("webhook"), api)
		if err := c.Start(context.Background()); err == nil {
			t.Error("expected startup failure")
		}
		if c.ingress != nil {
			t.Error("webhook server must not start after failed registration")
		}
	})

	t.Run("degrades in both mode", func(t *testing.T) {
		api := newFakeAPIServer()
		defer api.srv.Close()
		api.webhooksFail = true

		c := newTestChannel(t, testWebexConfig("both"), api)
		if err := c.Start(context.Background()); err != nil {
			t.Fatalf("combined mode should fall back to polling, got %v", err)
		}
		defer c.Stop(context.Background())

		if c.ingress != nil {
			t.Error("ingress should not be running after fallback")
		}
		if c.poller == nil {
			t.Error("poller should be running after fallback")
		}
	})
}

func TestChannel_StopDeletesSelfCreatedWebhook(t *testing.T) {
	api := newFakeAPIServer()
	defer api.srv.Close()

	c := newTestChannel(t, testWebexConfig("webhook"), api)
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(api.created) != 1 {
		t.Fatalf("expected 1 created webhook, got %d", len(api.created))
	}

	if err := c.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(api.deleted) != 1 || api.deleted[0] != "wh-1" {
		t.Errorf("expected wh-1 deleted at shutdown, got %v", api.deleted)
	}
	if c.IsRunning() {
		t.Error("channel should report not running after Stop")
	}
}

func TestChannel_DispatchAppliesSenderPolicy(t *testing.T) {
	cfg := testWebexConfig("polling")
	cfg.DMPolicy = "allowlist"
	cfg.AllowFrom = []string{"alice@example.com"}

	msgBus := bus.New()
	c, err := New(cfg, msgBus)
	if err != nil {
		t.Fatal(err)
	}

	blocked := CanonicalMessage{
		MessageID: "m1", RoomID: "r1", RoomType: RoomDirect,
		SenderID: "p-bob", SenderEmail: "bob@example.com", Text: "hi",
	}
	c.dispatch(context.Background(), blocked)

	allowed := blocked
	allowed.MessageID = "m2"
	allowed.SenderEmail = "alice@example.com"
	c.dispatch(context.Background(), allowed)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, ok := msgBus.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("expected the allowed message on the bus")
	}
	if got.MessageID != "m2" {
		t.Errorf("published message = %q, want m2 (m1 should have been rejected)", got.MessageID)
	}
}

func TestChannel_ApplyConfigSwapsPolicies(t *testing.T) {
	cfg := testWebexConfig("polling")
	cfg.GroupPolicy = "mention"
	c, err := New(cfg, bus.New())
	if err != nil {
		t.Fatal(err)
	}

	if got := c.currentGroupPolicy(); string(got) != "mention" {
		t.Fatalf("group policy = %q", got)
	}

	cfg.GroupPolicy = "open"
	c.ApplyConfig(cfg)
	if got := c.currentGroupPolicy(); string(got) != "open" {
		t.Errorf("group policy after reload = %q, want open", got)
	}
}

func TestChannel_SendChunksLongText(t *testing.T) {
	var bodies []CreateMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req CreateMessageRequest
		json.NewDecoder(r.Body).Decode(&req)
		bodies = append(bodies, req)
		w.Write([]byte(`{"id":"m"}`))
	}))
	defer srv.Close()

	cfg := testWebexConfig("polling")
	cfg.TextChunkLimit = 20
	c, err := New(cfg, bus.New())
	if err != nil {
		t.Fatal(err)
	}
	c.client = NewClient("tok", WithBaseURL(srv.URL))
	c.SetRunning(true)

	text := strings.Repeat("line one\n", 6) // 54 chars, needs 3 chunks at limit 20
	if err := c.Send(context.Background(), bus.OutboundMessage{ChatID: "room-1", Content: text}); err != nil {
		t.Fatal(err)
	}

	if len(bodies) < 3 {
		t.Fatalf("expected at least 3 chunked sends, got %d", len(bodies))
	}
	var rebuilt strings.Builder
	for _, b := range bodies {
		if len(b.Text)+len(b.Markdown) > 20 {
			t.Errorf("chunk exceeds limit: %q%q", b.Text, b.Markdown)
		}
		rebuilt.WriteString(b.Text)
		rebuilt.WriteString(b.Markdown)
	}
	if rebuilt.String() != text {
		t.Errorf("chunks do not reassemble the original text")
	}
}

func TestChannel_SendRejectedWhenNotRunning(t *testing.T) {
	c, err := New(testWebexConfig("polling"), bus.New())
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Send(context.Background(), bus.OutboundMessage{ChatID: "r", Content: "x"}); err == nil {
		t.Error("Send should fail when the channel is not running")
	}
}

func TestIsSelf(t *testing.T) {
	c, err := New(testWebexConfig("polling"), bus.New())
	if err != nil {
		t.Fatal(err)
	}
	c.botID = testBotID
	c.botEmails = map[string]struct{}{"bot@webex.bot": {}}

	tests := []struct {
		id, email string
		want      bool
	}{
		{testBotID, "", true},
		{"", "bot@webex.bot", true},
		{"", "BOT@WEBEX.BOT", true},
		{"someone", "alice@example.com", false},
		{"", "", false},
	}
	for _, tt := range tests {
		if got := c.IsSelf(tt.id, tt.email); got != tt.want {
			t.Errorf("IsSelf(%q, %q) = %v, want %v", tt.id, tt.email, got, tt.want)
		}
	}
}
