package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error — defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyDefaults restores defaults for fields the file set to zero values.
func (c *Config) applyDefaults() {
	wx := &c.Channels.Webex
	if wx.Mode == "" {
		wx.Mode = "webhook"
	}
	if wx.Webhook.Port <= 0 {
		wx.Webhook.Port = 3900
	}
	if wx.Webhook.Path == "" {
		wx.Webhook.Path = "/webexclaw/events"
	}
	if wx.Polling.IntervalSeconds <= 0 {
		wx.Polling.IntervalSeconds = 5
	}
	if wx.DMPolicy == "" {
		wx.DMPolicy = "pairing"
	}
	if wx.GroupPolicy == "" {
		wx.GroupPolicy = "allowlist"
	}
	if wx.TextChunkLimit <= 0 {
		wx.TextChunkLimit = 7000
	}
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	wx := &c.Channels.Webex

	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("WEBEXCLAW_WEBEX_TOKEN", &wx.BotToken)
	envStr("WEBEXCLAW_WEBEX_MODE", &wx.Mode)
	envStr("WEBEXCLAW_WEBHOOK_URL", &wx.Webhook.URL)
	envStr("WEBEXCLAW_WEBHOOK_PATH", &wx.Webhook.Path)

	if v := os.Getenv("WEBEXCLAW_WEBHOOK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			wx.Webhook.Port = port
		}
	}
	if v := os.Getenv("WEBEXCLAW_POLL_INTERVAL_SEC"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
			wx.Polling.IntervalSeconds = sec
		}
	}
	if v := os.Getenv("WEBEXCLAW_WEBEX_ENABLED"); v != "" {
		wx.Enabled = v == "true" || v == "1"
	}
}
