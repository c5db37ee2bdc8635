package webex

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

const (
	webhookResource = "messages"
	webhookEvent    = "created"
)

// webhookAPI is the slice of the API client the registrar needs.
type webhookAPI interface {
	ListWebhooks(ctx context.Context) ([]Webhook, error)
	CreateWebhook(ctx context.Context, req CreateWebhookRequest) (*Webhook, error)
	DeleteWebhook(ctx context.Context, id string) error
}

// Registration tracks the remote webhook subscription in use for this run.
// selfCreated distinguishes a subscription this process created (deleted on
// shutdown) from a pre-existing one that was merely reused (left in place).
type Registration struct {
	ID          string
	Secret      string
	selfCreated bool
}

// SelfCreated reports whether this process created the subscription.
func (r *Registration) SelfCreated() bool { return r.selfCreated }

// Registrar manages the lifecycle of the remote webhook subscription:
// idempotent create-or-reuse at startup, delete-if-owned at shutdown.
type Registrar struct {
	api       webhookAPI
	targetURL string
	reg       *Registration
}

// NewRegistrar creates a registrar for the given target URL.
func NewRegistrar(api webhookAPI, targetURL string) *Registrar {
	return &Registrar{api: api, targetURL: targetURL}
}

// Registration returns the active registration, or nil before Ensure.
func (r *Registrar) Registration() *Registration { return r.reg }

// Ensure makes sure exactly one messages/created subscription exists for the
// target URL. An existing subscription matching (targetUrl, resource) is
// reused and will not be deleted at shutdown; otherwise a new one is created
// and owned by this process. Idempotent: a second run with the same target
// URL reuses what the first created.
func (r *Registrar) Ensure(ctx context.Context) error {
	existing, err := r.api.ListWebhooks(ctx)
	if err != nil {
		return fmt.Errorf("list webhooks: %w", err)
	}

	for _, wh := range existing {
		if wh.TargetURL == r.targetURL && wh.Resource == webhookResource && wh.Event == webhookEvent {
			slog.Info("reusing existing webhook subscription",
				"webhook_id", wh.ID, "target_url", wh.TargetURL)
			r.reg = &Registration{ID: wh.ID, Secret: wh.Secret}
			return nil
		}
	}

	secret := uuid.NewString()
	created, err := r.api.CreateWebhook(ctx, CreateWebhookRequest{
		Name:      "webexclaw-" + uuid.NewString()[:8],
		TargetURL: r.targetURL,
		Resource:  webhookResource,
		Event:     webhookEvent,
		Secret:    secret,
	})
	if err != nil {
		return fmt.Errorf("create webhook: %w", err)
	}

	slog.Info("created webhook subscription",
		"webhook_id", created.ID, "target_url", r.targetURL)
	r.reg = &Registration{ID: created.ID, Secret: secret, selfCreated: true}
	return nil
}

// Teardown deletes the subscription if this process created it. Reused
// subscriptions are left registered. Deletion failure is logged, never
// propagated — shutdown continues regardless.
func (r *Registrar) Teardown(ctx context.Context) {
	if r.reg == nil || !r.reg.selfCreated {
		return
	}
	if err := r.api.DeleteWebhook(ctx, r.reg.ID); err != nil {
		slog.Warn("failed to delete webhook subscription",
			"webhook_id", r.reg.ID, "error", err)
		return
	}
	slog.Info("deleted webhook subscription", "webhook_id", r.reg.ID)
	r.reg = nil
}
