// Package channels provides the channel abstraction layer connecting external
// messaging platforms to the downstream agent runtime via the message bus.
//
// Policies:
//   - DM policies: pairing, allowlist, open, disabled
//   - Group policies: allowlist, mention, open, disabled
//
// Mention gating (only forwarding group messages that @mention the bot) is
// implied by the allowlist and mention group policies.
package channels

import (
	"context"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/webexclaw/internal/bus"
)

// DMPolicy controls how direct messages from unknown senders are handled.
type DMPolicy string

const (
	DMPolicyPairing   DMPolicy = "pairing"   // require pairing, fall back to allowlist
	DMPolicyAllowlist DMPolicy = "allowlist" // only whitelisted senders
	DMPolicyOpen      DMPolicy = "open"      // accept all
	DMPolicyDisabled  DMPolicy = "disabled"  // reject all DMs
)

// GroupPolicy controls how group-room messages are handled.
type GroupPolicy string

const (
	GroupPolicyAllowlist GroupPolicy = "allowlist" // mention-gated + sender allowlist
	GroupPolicyMention   GroupPolicy = "mention"   // mention-gated, any sender
	GroupPolicyOpen      GroupPolicy = "open"      // accept all group messages
	GroupPolicyDisabled  GroupPolicy = "disabled"  // no group messages at all
)

// RequiresMention reports whether the policy forwards group messages only
// when the bot was @mentioned.
func (p GroupPolicy) RequiresMention() bool {
	return p == GroupPolicyAllowlist || p == GroupPolicyMention
}

// Channel defines the interface that all channel implementations must satisfy.
type Channel interface {
	// Name returns the channel identifier (e.g. "webex").
	Name() string

	// Start begins listening for messages. Should be non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// Send delivers an outbound message to the channel.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// IsRunning returns whether the channel is actively processing messages.
	IsRunning() bool
}

// BaseChannel provides shared functionality for channel implementations.
// Allowlists are guarded so a config watcher can swap them at runtime.
type BaseChannel struct {
	name string
	bus  *bus.MessageBus

	mu             sync.RWMutex
	running        bool
	allowList      []string
	groupAllowList []string
}

// NewBaseChannel creates a new BaseChannel with the given parameters.
func NewBaseChannel(name string, msgBus *bus.MessageBus, allowList, groupAllowList []string) *BaseChannel {
	return &BaseChannel{
		name:           name,
		bus:            msgBus,
		allowList:      allowList,
		groupAllowList: groupAllowList,
	}
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// Bus returns the message bus reference.
func (c *BaseChannel) Bus() *bus.MessageBus { return c.bus }

// IsRunning returns whether the channel is running.
func (c *BaseChannel) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) {
	c.mu.Lock()
	c.running = running
	c.mu.Unlock()
}

// SetAllowLists replaces both allowlists (used by config hot reload).
func (c *BaseChannel) SetAllowLists(allowList, groupAllowList []string) {
	c.mu.Lock()
	c.allowList = allowList
	c.groupAllowList = groupAllowList
	c.mu.Unlock()
}

// IsAllowed checks whether a sender (platform ID or email) is permitted by
// the DM allowlist. An empty allowlist means all senders are allowed.
func (c *BaseChannel) IsAllowed(senderID, senderEmail string) bool {
	c.mu.RLock()
	list := c.allowList
	c.mu.RUnlock()
	return matchAllowList(list, senderID, senderEmail)
}

// IsGroupAllowed checks a sender against the group allowlist.
func (c *BaseChannel) IsGroupAllowed(senderID, senderEmail string) bool {
	c.mu.RLock()
	list := c.groupAllowList
	c.mu.RUnlock()
	return matchAllowList(list, senderID, senderEmail)
}

func matchAllowList(list []string, senderID, senderEmail string) bool {
	if len(list) == 0 {
		return true
	}
	for _, allowed := range list {
		if allowed == senderID || strings.EqualFold(allowed, senderEmail) {
			return true
		}
	}
	return false
}

// CheckPolicy evaluates the sender-authorization side of the DM/group
// policies for a message. Channel eligibility (mention gating, disabled
// rooms) is decided upstream by the ingestion pipeline; this is the final
// "is this sender authorized" check at the publish boundary.
// peerKind is "direct" or "group".
func (c *BaseChannel) CheckPolicy(peerKind string, dmPolicy DMPolicy, groupPolicy GroupPolicy, senderID, senderEmail string) bool {
	if peerKind == "group" {
		switch groupPolicy {
		case GroupPolicyDisabled:
			return false
		case GroupPolicyAllowlist:
			return c.IsGroupAllowed(senderID, senderEmail)
		default: // mention, open — mention gating already applied upstream
			return true
		}
	}

	switch dmPolicy {
	case DMPolicyDisabled:
		return false
	case DMPolicyAllowlist, DMPolicyPairing:
		// No pairing service in this bridge — pairing degrades to allowlist.
		return c.IsAllowed(senderID, senderEmail)
	default: // open
		return true
	}
}

// HandleMessage creates an InboundMessage and publishes it to the bus.
// This is the standard way for channels to forward received messages.
func (c *BaseChannel) HandleMessage(senderID, chatID, messageID, content string, media []string, metadata map[string]string, peerKind string) {
	msg := bus.InboundMessage{
		Channel:   c.name,
		SenderID:  senderID,
		ChatID:    chatID,
		MessageID: messageID,
		Content:   content,
		Media:     media,
		PeerKind:  peerKind,
		UserID:    senderID,
		Metadata:  metadata,
	}
	c.bus.PublishInbound(msg)
}

// Truncate shortens a string to maxLen, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
