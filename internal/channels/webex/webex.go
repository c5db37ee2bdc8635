// Package webex implements the Webex channel: dual-mode message ingestion
// (webhook push and API polling) feeding one normalize → gate → dispatch
// pipeline, plus outbound delivery via the Webex REST API.
package webex

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/webexclaw/internal/bus"
	"github.com/nextlevelbuilder/webexclaw/internal/channels"
	"github.com/nextlevelbuilder/webexclaw/internal/config"
)

const (
	dedupeTTL        = 20 * time.Minute
	dedupeMaxEntries = 5000
	stopDrainTimeout = 10 * time.Second
)

// Channel connects to Webex. Depending on the configured mode it ingests
// messages via a webhook push endpoint, a polling loop, or both; the two
// paths share a message-ID dedupe cache so a message is dispatched at most
// once per process lifetime.
type Channel struct {
	*channels.BaseChannel
	cfg    config.WebexConfig
	client *Client
	dedupe *bus.DedupeCache

	botID     string
	botEmails map[string]struct{}

	policyMu    sync.RWMutex
	dmPolicy    channels.DMPolicy
	groupPolicy channels.GroupPolicy

	registrar  *Registrar
	ingress    *Ingress
	poller     *Poller
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New creates a Webex channel from config. The bot token must already be
// resolved (config layer applies the env-var precedence).
func New(cfg config.WebexConfig, msgBus *bus.MessageBus) (*Channel, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("webex bot token is required")
	}

	webhookEnabled, _, err := resolveMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	if webhookEnabled && cfg.Webhook.URL == "" {
		return nil, fmt.Errorf("webex webhook mode requires a public webhook url")
	}

	base := channels.NewBaseChannel("webex", msgBus, cfg.AllowFrom, cfg.GroupAllowFrom)

	return &Channel{
		BaseChannel: base,
		cfg:         cfg,
		client:      NewClient(cfg.BotToken),
		dedupe:      bus.NewDedupeCache(dedupeTTL, dedupeMaxEntries),
		dmPolicy:    channels.DMPolicy(cfg.DMPolicy),
		groupPolicy: channels.GroupPolicy(cfg.GroupPolicy),
	}, nil
}

// resolveMode maps the configured mode onto the two ingestion flags.
func resolveMode(mode string) (webhookEnabled, pollingEnabled bool, err error) {
	switch mode {
	case "", "webhook":
		return true, false, nil
	case "polling":
		return false, true, nil
	case "both":
		return true, true, nil
	default:
		return false, false, fmt.Errorf("invalid webex mode %q (want webhook, polling, or both)", mode)
	}
}

// Start probes the bot identity, registers the webhook subscription when
// push ingestion is enabled, and launches the configured ingestion paths.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting webex channel", "mode", c.cfg.Mode)

	me, err := c.client.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("webex identity probe failed (check bot token): %w", err)
	}
	c.botID = me.ID
	c.botEmails = make(map[string]struct{}, len(me.Emails))
	for _, email := range me.Emails {
		c.botEmails[strings.ToLower(email)] = struct{}{}
	}
	slog.Info("webex bot connected", "bot", me.DisplayName, "bot_id", me.ID)

	webhookEnabled, pollingEnabled, err := resolveMode(c.cfg.Mode)
	if err != nil {
		return err
	}

	if webhookEnabled {
		c.registrar = NewRegistrar(c.client, c.cfg.Webhook.URL)
		if regErr := c.registrar.Ensure(ctx); regErr != nil {
			if !pollingEnabled {
				return fmt.Errorf("webex webhook registration: %w", regErr)
			}
			// Combined mode degrades to polling-only.
			slog.Warn("webex webhook registration failed, falling back to polling only",
				"error", regErr)
			webhookEnabled = false
			c.registrar = nil
		}
	}

	if webhookEnabled {
		// Secret is known when this process created the subscription; a
		// reused one may list without a secret, in which case signature
		// verification is skipped.
		secret := ""
		if reg := c.registrar.Registration(); reg != nil {
			secret = reg.Secret
		}
		c.ingress = NewIngress(
			c.cfg.Webhook.Port,
			c.cfg.Webhook.Path,
			c.client,
			c.botID,
			c.IsSelf,
			c.currentGroupPolicy,
			secret,
			c.dedupe,
			c.dispatch,
		)
		c.ingress.Start()
	}

	if pollingEnabled {
		interval := time.Duration(c.cfg.Polling.IntervalSeconds) * time.Second
		c.poller = NewPoller(
			c.client,
			interval,
			c.botID,
			c.IsSelf,
			c.currentGroupPolicy,
			c.dedupe,
			c.dispatch,
		)
		pollCtx, cancel := context.WithCancel(ctx)
		c.pollCancel = cancel
		c.pollDone = make(chan struct{})
		go func() {
			defer close(c.pollDone)
			c.poller.Run(pollCtx)
		}()
	}

	c.SetRunning(true)
	return nil
}

// Stop shuts the channel down: no further polling ticks, drained HTTP
// listener, then deletion of a self-created webhook subscription. The
// deregistration step runs regardless of earlier stop errors. In-flight
// webhook continuations and tick bodies are not waited for.
func (c *Channel) Stop(ctx context.Context) error {
	slog.Info("stopping webex channel")
	c.SetRunning(false)

	if c.pollCancel != nil {
		c.pollCancel()
		select {
		case <-c.pollDone:
		case <-time.After(stopDrainTimeout):
			slog.Warn("webex poller did not exit within timeout")
		}
	}

	if c.ingress != nil {
		drainCtx, cancel := context.WithTimeout(context.Background(), stopDrainTimeout)
		if err := c.ingress.Shutdown(drainCtx); err != nil {
			slog.Warn("webex webhook server shutdown error", "error", err)
		}
		cancel()
	}

	if c.registrar != nil {
		teardownCtx, cancel := context.WithTimeout(context.Background(), stopDrainTimeout)
		c.registrar.Teardown(teardownCtx)
		cancel()
	}

	return nil
}

// Send delivers an outbound message to a Webex room or person. Long text is
// split on newline boundaries under the configured chunk limit; text
// containing markdown markers is sent as markdown. Each media attachment is
// sent as its own message (the API accepts one file per message).
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("webex channel not running")
	}
	if msg.ChatID == "" {
		return fmt.Errorf("empty chat ID for webex send")
	}

	if text := msg.Content; text != "" {
		chunkLimit := c.cfg.TextChunkLimit
		if chunkLimit <= 0 {
			chunkLimit = 7000
		}
		for len(text) > 0 {
			chunk := text
			if len(chunk) > chunkLimit {
				cutAt := chunkLimit
				if idx := strings.LastIndex(text[:chunkLimit], "\n"); idx > chunkLimit/2 {
					cutAt = idx + 1
				}
				chunk = text[:cutAt]
				text = text[cutAt:]
			} else {
				text = ""
			}
			if err := c.sendText(ctx, msg.ChatID, chunk); err != nil {
				return err
			}
		}
	}

	for _, media := range msg.Media {
		req := CreateMessageRequest{
			RoomID: msg.ChatID,
			Text:   media.Caption,
			Files:  []string{media.URL},
		}
		if _, err := c.client.CreateMessage(ctx, req); err != nil {
			return fmt.Errorf("webex send file: %w", err)
		}
	}

	return nil
}

func (c *Channel) sendText(ctx context.Context, roomID, text string) error {
	req := CreateMessageRequest{RoomID: roomID}
	if looksLikeMarkdown(text) {
		req.Markdown = text
	} else {
		req.Text = text
	}
	if _, err := c.client.CreateMessage(ctx, req); err != nil {
		return fmt.Errorf("webex send text: %w", err)
	}
	return nil
}

func looksLikeMarkdown(text string) bool {
	return strings.Contains(text, "```") ||
		strings.Contains(text, "**") ||
		strings.Contains(text, "](") ||
		strings.Contains(text, "\n- ") ||
		strings.HasPrefix(text, "- ") ||
		strings.HasPrefix(text, "# ")
}

// IsSelf reports whether a sender is the bot itself.
func (c *Channel) IsSelf(personID, personEmail string) bool {
	if personID != "" && personID == c.botID {
		return true
	}
	_, ok := c.botEmails[strings.ToLower(personEmail)]
	return ok && personEmail != ""
}

// ApplyConfig swaps the runtime-tunable settings (allowlists, policies)
// from a freshly reloaded config. Token, mode and listener settings are
// fixed for the process lifetime; changes to them are ignored here.
func (c *Channel) ApplyConfig(cfg config.WebexConfig) {
	c.SetAllowLists(cfg.AllowFrom, cfg.GroupAllowFrom)
	c.policyMu.Lock()
	c.dmPolicy = channels.DMPolicy(cfg.DMPolicy)
	c.groupPolicy = channels.GroupPolicy(cfg.GroupPolicy)
	c.policyMu.Unlock()
	slog.Info("webex policies updated",
		"dm_policy", cfg.DMPolicy, "group_policy", cfg.GroupPolicy)
}

func (c *Channel) currentGroupPolicy() channels.GroupPolicy {
	c.policyMu.RLock()
	defer c.policyMu.RUnlock()
	return c.groupPolicy
}

func (c *Channel) currentDMPolicy() channels.DMPolicy {
	c.policyMu.RLock()
	defer c.policyMu.RUnlock()
	return c.dmPolicy
}

// dispatch is the bridge boundary shared by both ingestion paths: it applies
// the sender-authorization side of the policies and publishes the canonical
// message to the bus. Delivery beyond the bus is the downstream's concern.
func (c *Channel) dispatch(_ context.Context, msg CanonicalMessage) {
	peerKind := string(msg.RoomType)

	if !c.CheckPolicy(peerKind, c.currentDMPolicy(), c.currentGroupPolicy(), msg.SenderID, msg.SenderEmail) {
		slog.Debug("webex message rejected by policy",
			"sender", msg.SenderEmail, "room_id", msg.RoomID, "peer_kind", peerKind)
		return
	}

	content := msg.Text
	if content == "" && msg.Markdown != "" {
		content = msg.Markdown
	}
	if content == "" {
		content = "[empty message]"
	}

	metadata := map[string]string{
		"message_id":    msg.MessageID,
		"room_type":     peerKind,
		"sender_email":  msg.SenderEmail,
		"mentioned_bot": fmt.Sprintf("%t", msg.MentionsBot),
		"platform":      "webex",
	}

	slog.Debug("webex message received",
		"sender", msg.SenderEmail,
		"room_id", msg.RoomID,
		"room_type", peerKind,
		"mentioned_bot", msg.MentionsBot,
		"preview", channels.Truncate(content, 50),
	)

	c.HandleMessage(msg.SenderID, msg.RoomID, msg.MessageID, content, msg.Files, metadata, peerKind)
}

// Ensure Channel implements the channels.Channel interface at compile time.
var _ channels.Channel = (*Channel)(nil)
