package config

import (
	"fmt"
	"slices"

	"github.com/robfig/cron/v3"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	// Engine
	t := cfg.Engine.Thresholds
	if t.Payment <= 0 || t.Payment > 1 {
		add("engine.thresholds.payment", "must be in (0,1], got %v", t.Payment)
	}
	if t.Closing <= 0 || t.Closing >= t.Payment {
		add("engine.thresholds.closing", "must be in (0,payment), got %v", t.Closing)
	}
	if t.NegativeStreak < 1 {
		add("engine.thresholds.negativeStreak", "must be at least 1, got %d", t.NegativeStreak)
	}
	if cfg.Engine.MaxWordsPart < 0 {
		add("engine.maxWordsPerPart", "must not be negative, got %d", cfg.Engine.MaxWordsPart)
	}

	// Follow-ups: tiers 1 and 2 send templates, tier 3 escalates.
	if len(cfg.FollowUp.Delays) != 3 {
		add("followUp.delays", "exactly 3 delays required (tier 1, tier 2, escalation), got %d", len(cfg.FollowUp.Delays))
	}
	for i, d := range cfg.FollowUp.Delays {
		if d <= 0 {
			add(fmt.Sprintf("followUp.delays[%d]", i), "must be positive, got %s", d)
		}
	}
	if len(cfg.FollowUp.Templates) != 2 {
		add("followUp.templates", "exactly 2 templates required, got %d", len(cfg.FollowUp.Templates))
	}

	// Scheduler
	if _, err := cron.ParseStandard(cfg.Scheduler.Sweep); err != nil {
		add("scheduler.sweep", "invalid schedule %q: %v", cfg.Scheduler.Sweep, err)
	}
	if cfg.Scheduler.Workers < 1 {
		add("scheduler.workers", "must be at least 1, got %d", cfg.Scheduler.Workers)
	}

	// Providers
	validKinds := []string{"heuristic", "llm"}
	if !slices.Contains(validKinds, cfg.Providers.Kind) {
		add("providers.kind", "must be one of %v, got %q", validKinds, cfg.Providers.Kind)
	}
	if cfg.Providers.Timeout <= 0 {
		add("providers.timeout", "must be positive, got %s", cfg.Providers.Timeout)
	}
	if cfg.Providers.ReplyTimeout <= 0 {
		add("providers.replyTimeout", "must be positive, got %s", cfg.Providers.ReplyTimeout)
	}

	// LLM (only when selected)
	if cfg.Providers.Kind == "llm" {
		validProviders := []string{"claude", "gemini", "ollama"}
		if !slices.Contains(validProviders, cfg.LLM.Provider) {
			add("llm.provider", "must be one of %v, got %q", validProviders, cfg.LLM.Provider)
		}
		if cfg.LLM.Provider != "ollama" && cfg.LLM.APIKey == "" {
			add("llm.apiKey", "required for provider %s", cfg.LLM.Provider)
		}
		if cfg.LLM.Model == "" {
			add("llm.model", "required when providers.kind is llm")
		}
	}

	// Store
	validDrivers := []string{"sqlite", "memory"}
	if !slices.Contains(validDrivers, cfg.Store.Driver) {
		add("store.driver", "must be one of %v, got %q", validDrivers, cfg.Store.Driver)
	}

	// Gateway
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		add("gateway.port", "port must be 0-65535, got %d", cfg.Gateway.Port)
	}
	validBinds := []string{"auto", "lan", "loopback", "custom"}
	if cfg.Gateway.Bind != "" && !slices.Contains(validBinds, cfg.Gateway.Bind) {
		add("gateway.bind", "must be one of %v, got %q", validBinds, cfg.Gateway.Bind)
	}
	validAuthModes := []string{"token", "password"}
	if cfg.Gateway.Auth.Mode != "" && !slices.Contains(validAuthModes, cfg.Gateway.Auth.Mode) {
		add("gateway.auth.mode", "must be one of %v, got %q", validAuthModes, cfg.Gateway.Auth.Mode)
	}
	if cfg.Gateway.TLS.Enabled && (cfg.Gateway.TLS.CertPath == "" || cfg.Gateway.TLS.KeyPath == "") {
		add("gateway.tls", "certPath and keyPath are required when TLS is enabled")
	}

	// Session
	validScopes := []string{"per-sender", "global"}
	if cfg.Session.Scope != "" && !slices.Contains(validScopes, cfg.Session.Scope) {
		add("session.scope", "must be one of %v, got %q", validScopes, cfg.Session.Scope)
	}

	// Logging
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		add("logging.level", "must be one of %v, got %q", validLogLevels, cfg.Logging.Level)
	}
	validConsoleStyles := []string{"pretty", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		add("logging.consoleStyle", "must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle)
	}

	// Outbound pacing
	if cfg.Channels.PartDelay < 0 {
		add("channels.partDelay", "must not be negative, got %s", cfg.Channels.PartDelay)
	}
	if cfg.Channels.SendRate < 0 {
		add("channels.sendRate", "must not be negative, got %v", cfg.Channels.SendRate)
	}
	if cfg.Channels.SendBurst < 0 {
		add("channels.sendBurst", "must not be negative, got %d", cfg.Channels.SendBurst)
	}

	// IRC validation (only if configured)
	if irc := cfg.Channels.IRC; irc != nil {
		if irc.Server == "" {
			add("channels.irc.server", "server is required")
		}
		if irc.Nick == "" {
			add("channels.irc.nick", "nick is required")
		}
		if irc.Port < 0 || irc.Port > 65535 {
			add("channels.irc.port", "port must be 0-65535, got %d", irc.Port)
		}
		if irc.SASL && irc.Password == "" {
			add("channels.irc.sasl", "SASL requires a password to be set")
		}
	}

	// Notifications
	if a := cfg.Notify.Alert; a != nil {
		if a.Channel == "" {
			add("notify.alert.channel", "channel is required")
		}
		if a.To == "" {
			add("notify.alert.to", "recipient is required")
		}
	}

	return issues
}
