// Package config defines the typed configuration for the webexclaw bridge.
// Values are resolved once at startup: defaults, then the config file,
// then environment variables — later layers win.
package config

import (
	"encoding/json"
	"fmt"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the bridge.
type Config struct {
	Channels ChannelsConfig `json:"channels"`
}

// ChannelsConfig contains per-channel configuration.
type ChannelsConfig struct {
	Webex WebexConfig `json:"webex"`
}

// WebexConfig configures the Webex channel.
type WebexConfig struct {
	Enabled        bool                `json:"enabled"`
	BotToken       string              `json:"bot_token"`             // env WEBEXCLAW_WEBEX_TOKEN takes precedence
	Mode           string              `json:"mode,omitempty"`        // "webhook" (default), "polling", "both"
	Webhook        WebhookConfig       `json:"webhook,omitempty"`
	Polling        PollingConfig       `json:"polling,omitempty"`
	DMPolicy       string              `json:"dm_policy,omitempty"`    // "pairing" (default), "allowlist", "open", "disabled"
	GroupPolicy    string              `json:"group_policy,omitempty"` // "allowlist" (default), "mention", "open", "disabled"
	AllowFrom      FlexibleStringSlice `json:"allow_from,omitempty"`
	GroupAllowFrom FlexibleStringSlice `json:"group_allow_from,omitempty"`
	TextChunkLimit int                 `json:"text_chunk_limit,omitempty"` // default 7000
}

// WebhookConfig configures the inbound webhook listener.
type WebhookConfig struct {
	Port int    `json:"port,omitempty"` // default 3900
	Path string `json:"path,omitempty"` // default "/webexclaw/events"
	URL  string `json:"url,omitempty"`  // public URL registered with the platform
}

// PollingConfig configures the polling loop.
type PollingConfig struct {
	IntervalSeconds int `json:"interval_seconds,omitempty"` // default 5
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Channels: ChannelsConfig{
			Webex: WebexConfig{
				Mode: "webhook",
				Webhook: WebhookConfig{
					Port: 3900,
					Path: "/webexclaw/events",
				},
				Polling: PollingConfig{
					IntervalSeconds: 5,
				},
				DMPolicy:       "pairing",
				GroupPolicy:    "allowlist",
				TextChunkLimit: 7000,
			},
		},
	}
}

// Validate checks the webex channel config for startup-fatal problems.
func (c *Config) Validate() error {
	wx := c.Channels.Webex
	if !wx.Enabled {
		return nil
	}
	if wx.BotToken == "" {
		return fmt.Errorf("webex bot token is required (set channels.webex.bot_token or WEBEXCLAW_WEBEX_TOKEN)")
	}
	switch wx.Mode {
	case "webhook", "polling", "both":
	default:
		return fmt.Errorf("invalid webex mode %q (want webhook, polling, or both)", wx.Mode)
	}
	if (wx.Mode == "webhook" || wx.Mode == "both") && wx.Webhook.URL == "" {
		return fmt.Errorf("webex webhook mode requires channels.webex.webhook.url")
	}
	if wx.Polling.IntervalSeconds <= 0 {
		return fmt.Errorf("webex polling interval must be positive, got %d", wx.Polling.IntervalSeconds)
	}
	return nil
}
