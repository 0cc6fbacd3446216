package config

import (
	"cmp"
	"errors"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars substitutes ${VAR} references. Unset variables are kept
// verbatim so the mistake shows up in validation and logs.
func expandEnvVars(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		if v, ok := os.LookupEnv(envRef.FindStringSubmatch(ref)[1]); ok {
			return v
		}
		return ref
	})
}

// secrets are the fields that may hold ${VAR} references.
func (cfg *Config) secrets() []*string {
	out := []*string{
		&cfg.Gateway.Auth.Token,
		&cfg.Gateway.Auth.Password,
		&cfg.LLM.APIKey,
		&cfg.Engine.PaymentLink,
	}
	if cfg.Channels.IRC != nil {
		out = append(out, &cfg.Channels.IRC.Password)
	}
	return out
}

// Load builds the effective config: defaults, then the file at path if it
// exists, then CLOSER_* environment overrides, then ${VAR} expansion.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
		}
		applyDefaults(&cfg)
	}

	applyEnvOverrides(&cfg, os.Getenv)
	for _, s := range cfg.secrets() {
		*s = expandEnvVars(*s)
	}
	return cfg, nil
}

// LoadRaw reads the file as a plain map for key path edits. A missing file
// is an empty map.
func LoadRaw(path string) (map[string]any, error) {
	raw := map[string]any{}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return raw, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes raw back as YAML, readable by the owner only.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills what a partial file left at zero.
func applyDefaults(cfg *Config) {
	d := Defaults()

	t, dt := &cfg.Engine.Thresholds, d.Engine.Thresholds
	t.Payment = cmp.Or(t.Payment, dt.Payment)
	t.Closing = cmp.Or(t.Closing, dt.Closing)
	t.NegativeStreak = cmp.Or(t.NegativeStreak, dt.NegativeStreak)
	cfg.Engine.PartSeparator = cmp.Or(cfg.Engine.PartSeparator, d.Engine.PartSeparator)
	cfg.Engine.PaymentLink = cmp.Or(cfg.Engine.PaymentLink, d.Engine.PaymentLink)

	r, dr := &cfg.Engine.Replies, d.Engine.Replies
	r.Handoff = cmp.Or(r.Handoff, dr.Handoff)
	r.Deescalation = cmp.Or(r.Deescalation, dr.Deescalation)
	r.Welcome = cmp.Or(r.Welcome, dr.Welcome)
	r.Conversation = cmp.Or(r.Conversation, dr.Conversation)
	r.Closing = cmp.Or(r.Closing, dr.Closing)
	r.Payment = cmp.Or(r.Payment, dr.Payment)
	r.FollowUp = cmp.Or(r.FollowUp, dr.FollowUp)

	if len(cfg.FollowUp.Delays) == 0 {
		cfg.FollowUp.Delays = d.FollowUp.Delays
	}
	if len(cfg.FollowUp.Templates) == 0 {
		cfg.FollowUp.Templates = d.FollowUp.Templates
	}
	cfg.Scheduler.Sweep = cmp.Or(cfg.Scheduler.Sweep, d.Scheduler.Sweep)
	cfg.Scheduler.Workers = cmp.Or(cfg.Scheduler.Workers, d.Scheduler.Workers)

	p := &cfg.Providers
	p.Kind = cmp.Or(p.Kind, d.Providers.Kind)
	p.Timeout = cmp.Or(p.Timeout, d.Providers.Timeout)
	p.ReplyTimeout = cmp.Or(p.ReplyTimeout, d.Providers.ReplyTimeout)
	cfg.LLM.MaxTokens = cmp.Or(cfg.LLM.MaxTokens, d.LLM.MaxTokens)
	cfg.Store.Driver = cmp.Or(cfg.Store.Driver, d.Store.Driver)

	g := &cfg.Gateway
	g.Port = cmp.Or(g.Port, d.Gateway.Port)
	g.Bind = cmp.Or(g.Bind, d.Gateway.Bind)
	g.Auth.Mode = cmp.Or(g.Auth.Mode, d.Gateway.Auth.Mode)

	ch := &cfg.Channels
	ch.PartDelay = cmp.Or(ch.PartDelay, d.Channels.PartDelay)
	ch.SendRate = cmp.Or(ch.SendRate, d.Channels.SendRate)
	ch.SendBurst = cmp.Or(ch.SendBurst, d.Channels.SendBurst)

	cfg.Session.Scope = cmp.Or(cfg.Session.Scope, d.Session.Scope)
	cfg.Logging.Level = cmp.Or(cfg.Logging.Level, d.Logging.Level)
	cfg.Logging.ConsoleStyle = cmp.Or(cfg.Logging.ConsoleStyle, d.Logging.ConsoleStyle)
	if a := cfg.Notify.Alert; a != nil && len(a.Events) == 0 {
		a.Events = DefaultAlertEvents()
	}
}

// envOverride applies one CLOSER_* variable. A value that does not parse is
// ignored.
type envOverride struct {
	name  string
	apply func(cfg *Config, v string)
}

var envOverrides = []envOverride{
	{"CLOSER_GATEWAY_PORT", func(cfg *Config, v string) {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = n
		}
	}},
	{"CLOSER_GATEWAY_BIND", func(cfg *Config, v string) { cfg.Gateway.Bind = v }},
	{"CLOSER_GATEWAY_TOKEN", func(cfg *Config, v string) { cfg.Gateway.Auth.Token = v }},
	{"CLOSER_LOG_LEVEL", func(cfg *Config, v string) { cfg.Logging.Level = strings.ToLower(v) }},
	{"CLOSER_PROVIDERS", func(cfg *Config, v string) { cfg.Providers.Kind = strings.ToLower(v) }},
	{"CLOSER_PROVIDER_TIMEOUT", func(cfg *Config, v string) {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Providers.Timeout = d
		}
	}},
	{"CLOSER_LLM_API_KEY", func(cfg *Config, v string) { cfg.LLM.APIKey = v }},
	{"CLOSER_STORE", func(cfg *Config, v string) { cfg.Store.Driver = strings.ToLower(v) }},
	{"CLOSER_PAYMENT_LINK", func(cfg *Config, v string) { cfg.Engine.PaymentLink = v }},
}

func applyEnvOverrides(cfg *Config, getenv func(string) string) {
	for _, o := range envOverrides {
		if v := getenv(o.name); v != "" {
			o.apply(cfg, v)
		}
	}
}
