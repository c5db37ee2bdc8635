package cmd

import (
	"context"
	"log/slog"

	"github.com/nextlevelbuilder/webexclaw/internal/bus"
	"github.com/nextlevelbuilder/webexclaw/internal/channels"
)

// consumeInboundMessages reads inbound messages from the bus and hands them
// to the downstream agent. The agent runtime is external to this bridge;
// SetAgentHandler plugs it in. Without a handler the bridge acknowledges
// receipt so operators can verify the ingestion pipeline end to end.
func consumeInboundMessages(ctx context.Context, msgBus *bus.MessageBus) {
	slog.Info("inbound message consumer started")

	for {
		msg, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			slog.Info("inbound message consumer stopped")
			return
		}

		handler := agentHandler
		if handler == nil {
			slog.Info("inbound message (no agent handler configured)",
				"channel", msg.Channel,
				"chat_id", msg.ChatID,
				"sender", msg.SenderID,
				"preview", channels.Truncate(msg.Content, 80),
			)
			continue
		}

		reply, err := handler(ctx, msg)
		if err != nil {
			slog.Error("agent handler failed",
				"channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
			continue
		}
		if reply == "" {
			continue
		}

		msgBus.PublishOutbound(bus.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: reply,
		})
	}
}

// AgentHandler processes one inbound message and returns the reply text
// (empty for no reply).
type AgentHandler func(ctx context.Context, msg bus.InboundMessage) (string, error)

var agentHandler AgentHandler

// SetAgentHandler installs the downstream agent integration. Must be called
// before Execute.
func SetAgentHandler(h AgentHandler) { agentHandler = h }
