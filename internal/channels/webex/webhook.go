package webex

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/webexclaw/internal/bus"
	"github.com/nextlevelbuilder/webexclaw/internal/channels"
)

const (
	maxEventBody       = 1 << 20 // 1 MiB
	continuationBudget = 30 * time.Second

	ingressRatePerMinute = 120
	ingressRateBurst     = 30
)

// messageFetcher is the slice of the API client the ingress needs.
type messageFetcher interface {
	GetMessage(ctx context.Context, id string) (*Message, error)
}

// Ingress is the webhook push endpoint. The platform enforces a hard
// response deadline on the target URL, so the handler acknowledges with 200
// before doing any real work; fetching the full message, normalizing,
// gating and dispatching all happen in a background task whose outcome is
// never reflected in the already-sent HTTP response.
type Ingress struct {
	port        int
	path        string
	api         messageFetcher
	botID       string
	isSelf      func(personID, personEmail string) bool
	groupPolicy func() channels.GroupPolicy
	secret      string
	dedupe      *bus.DedupeCache
	dispatch    func(ctx context.Context, msg CanonicalMessage)
	limiter     *channels.WebhookRateLimiter

	server *http.Server
}

// NewIngress creates the webhook ingress server (not yet listening).
// secret is the subscription secret used for signature verification; empty
// skips verification (a reused subscription whose secret is unknown).
func NewIngress(
	port int,
	path string,
	api messageFetcher,
	botID string,
	isSelf func(personID, personEmail string) bool,
	groupPolicy func() channels.GroupPolicy,
	secret string,
	dedupe *bus.DedupeCache,
	dispatch func(ctx context.Context, msg CanonicalMessage),
) *Ingress {
	ing := &Ingress{
		port:        port,
		path:        path,
		api:         api,
		botID:       botID,
		isSelf:      isSelf,
		groupPolicy: groupPolicy,
		secret:      secret,
		dedupe:      dedupe,
		dispatch:    dispatch,
		limiter:     channels.NewWebhookRateLimiter(ingressRatePerMinute, ingressRateBurst),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, requireMethod(http.MethodPost, ing.handleEvent))
	mux.HandleFunc("/health", requireMethod(http.MethodGet, ing.handleHealth))

	ing.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ing
}

// requireMethod rejects requests whose method does not match, mirroring the
// method-qualified mux patterns available in newer Go releases.
func requireMethod(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

// Handler exposes the HTTP handler (used by tests).
func (ing *Ingress) Handler() http.Handler { return ing.server.Handler }

// Start begins serving in the background. Listener errors other than a
// clean close are logged, never propagated — the push path degrading must
// not take down the process.
func (ing *Ingress) Start() {
	slog.Info("webex webhook server listening", "port", ing.port, "path", ing.path)
	go func() {
		if err := ing.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("webex webhook server error", "error", err)
		}
	}()
}

// Shutdown drains the HTTP listener. In-flight background continuations are
// not waited for; their error boundaries make that safe.
func (ing *Ingress) Shutdown(ctx context.Context) error {
	return ing.server.Shutdown(ctx)
}

func (ing *Ingress) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok","service":"webex"}`)
}

// handleEvent validates the event shape, acknowledges immediately, and
// spawns the processing continuation.
func (ing *Ingress) handleEvent(w http.ResponseWriter, r *http.Request) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		slog.Debug("webex webhook: body read failed", "error", err)
	}

	var event pushEvent
	parseErr := json.Unmarshal(body, &event)

	// Acknowledge unconditionally before any further work. The platform only
	// cares that the target answered 200 in time; dropped events surface as
	// log lines, never as HTTP errors.
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "ok")

	if !ing.limiter.Allow(host) {
		slog.Debug("webex webhook: rate limited, event dropped", "source", host)
		return
	}
	if parseErr != nil {
		slog.Debug("webex webhook: unparseable event", "error", parseErr)
		return
	}
	if !ing.verifySignature(body, r.Header.Get("X-Spark-Signature")) {
		slog.Warn("webex webhook: signature mismatch, event dropped",
			"source", host, "message_id", event.Data.ID)
		return
	}

	go ing.processEvent(event)
}

// verifySignature checks the X-Spark-Signature header: hex-encoded HMAC-SHA1
// of the raw request body keyed with the subscription secret. An empty
// configured secret skips verification.
func (ing *Ingress) verifySignature(body []byte, signature string) bool {
	if ing.secret == "" {
		return true
	}
	mac := hmac.New(sha1.New, []byte(ing.secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(signature))
}

// processEvent is the asynchronous continuation after the acknowledgment.
// Every failure here is caught and logged; nothing may crash the server.
func (ing *Ingress) processEvent(event pushEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("webex webhook: panic in event processing",
				"message_id", event.Data.ID, "panic", r)
		}
	}()

	if event.Resource != webhookResource || event.Event != webhookEvent {
		slog.Debug("webex webhook: event filtered",
			"resource", event.Resource, "event", event.Event)
		return
	}

	if ing.isSelf(event.Data.PersonID, event.Data.PersonEmail) {
		slog.Debug("webex webhook: self message filtered", "message_id", event.Data.ID)
		return
	}

	groupPolicy := ing.groupPolicy()
	if event.Data.RoomType != "direct" && groupPolicy == channels.GroupPolicyDisabled {
		slog.Debug("webex webhook: group message filtered, groups disabled",
			"room_id", event.Data.RoomID)
		return
	}

	if ing.dedupe != nil && ing.dedupe.Contains(event.Data.ID) {
		slog.Debug("webex webhook: message deduplicated", "message_id", event.Data.ID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), continuationBudget)
	defer cancel()

	// The push envelope carries no message text; fetch the full record.
	full, err := ing.api.GetMessage(ctx, event.Data.ID)
	if err != nil {
		slog.Warn("webex webhook: fetch message failed",
			"message_id", event.Data.ID, "room_id", event.Data.RoomID, "error", err)
		return
	}

	canonical := Normalize(full, ing.botID)

	if !ShouldForward(canonical, groupPolicy.RequiresMention()) {
		slog.Debug("webex webhook: message gated out",
			"room_id", canonical.RoomID, "message_id", canonical.MessageID)
		return
	}

	// Record only now that the message is actually being handled. A failed
	// fetch must leave the ID unrecorded so the polling path can still
	// deliver the message.
	if ing.dedupe != nil && ing.dedupe.Seen(canonical.MessageID) {
		slog.Debug("webex webhook: message deduplicated", "message_id", canonical.MessageID)
		return
	}

	ing.dispatch(ctx, canonical)
}
