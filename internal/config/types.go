package config

import "time"

// Config is the root configuration for closer.
type Config struct {
	Engine    EngineConfig    `yaml:"engine,omitempty"`
	FollowUp  FollowUpConfig  `yaml:"followUp,omitempty"`
	Scheduler SchedulerConfig `yaml:"scheduler,omitempty"`
	Providers ProvidersConfig `yaml:"providers,omitempty"`
	LLM       LLMConfig       `yaml:"llm,omitempty"`
	Product   ProductConfig   `yaml:"product,omitempty"`
	Store     StoreConfig     `yaml:"store,omitempty"`
	Gateway   GatewayConfig   `yaml:"gateway,omitempty"`
	Channels  ChannelsConfig  `yaml:"channels,omitempty"`
	Session   SessionConfig   `yaml:"session,omitempty"`
	Logging   LoggingConfig   `yaml:"logging,omitempty"`
	Notify    NotifyConfig    `yaml:"notify,omitempty"`
}

// EngineConfig holds routing thresholds, vocabularies and canned replies.
type EngineConfig struct {
	Thresholds    ThresholdsConfig `yaml:"thresholds,omitempty"`
	Vocabulary    VocabularyConfig `yaml:"vocabulary,omitempty"`
	Replies       RepliesConfig    `yaml:"replies,omitempty"`
	PaymentLink   string           `yaml:"paymentLink,omitempty"`
	PartSeparator string           `yaml:"partSeparator,omitempty"`
	MaxWordsPart  int              `yaml:"maxWordsPerPart,omitempty"`
}

// ThresholdsConfig are the numeric routing cut-offs.
type ThresholdsConfig struct {
	Payment        float64 `yaml:"payment,omitempty"`
	Closing        float64 `yaml:"closing,omitempty"`
	NegativeStreak int     `yaml:"negativeStreak,omitempty"`
}

// VocabularyConfig lists the phrases used by matchers. Matching ignores case
// and accents.
type VocabularyConfig struct {
	Greetings     []string `yaml:"greetings,omitempty"`
	HumanRequest  []string `yaml:"humanRequest,omitempty"`
	Purchase      []string `yaml:"purchase,omitempty"`
	Disengagement []string `yaml:"disengagement,omitempty"`
	Currency      []string `yaml:"currency,omitempty"`
	Positive      []string `yaml:"positive,omitempty"`
	Negative      []string `yaml:"negative,omitempty"`
	PriceQuestion []string `yaml:"priceQuestion,omitempty"`
}

// RepliesConfig are fixed or fallback texts per handler.
type RepliesConfig struct {
	Handoff      string `yaml:"handoff,omitempty"`
	Deescalation string `yaml:"deescalation,omitempty"`
	Welcome      string `yaml:"welcome,omitempty"`
	Conversation string `yaml:"conversation,omitempty"`
	Closing      string `yaml:"closing,omitempty"`
	Payment      string `yaml:"payment,omitempty"` // "{link}" is replaced with the payment link
	FollowUp     string `yaml:"followUp,omitempty"`
}

// FollowUpConfig controls the re-engagement cadence. Delays[i] is the delay
// before tier i+1.
type FollowUpConfig struct {
	Delays    []time.Duration `yaml:"delays,omitempty"`
	Templates []string        `yaml:"templates,omitempty"`
}

// SchedulerConfig controls the follow-up sweep.
type SchedulerConfig struct {
	Sweep   string `yaml:"sweep,omitempty"` // cron spec, e.g. "@every 30s"
	Workers int    `yaml:"workers,omitempty"`
}

// ProvidersConfig selects the signal provider backend.
type ProvidersConfig struct {
	Kind         string        `yaml:"kind,omitempty"` // "heuristic" | "llm"
	Timeout      time.Duration `yaml:"timeout,omitempty"`
	ReplyTimeout time.Duration `yaml:"replyTimeout,omitempty"`
}

// LLMConfig configures the direct-API LLM providers.
type LLMConfig struct {
	Provider      string   `yaml:"provider,omitempty"` // "claude" | "gemini" | "ollama"
	APIKey        string   `yaml:"apiKey,omitempty"`
	Model         string   `yaml:"model,omitempty"`         // replies
	ClassifyModel string   `yaml:"classifyModel,omitempty"` // intent, sentiment, extraction
	Endpoint      string   `yaml:"endpoint,omitempty"`
	Fallbacks     []string `yaml:"fallbacks,omitempty"`
	MaxTokens     int      `yaml:"maxTokens,omitempty"`
	Temperature   *float64 `yaml:"temperature,omitempty"`
}

// ProductConfig describes what is being sold. It feeds the reply prompt.
type ProductConfig struct {
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description,omitempty"`
	Features    string `yaml:"features,omitempty"`
	Benefits    string `yaml:"benefits,omitempty"`
	Price       string `yaml:"price,omitempty"`
	Audience    string `yaml:"audience,omitempty"`
	UseEmojis   bool   `yaml:"useEmojis,omitempty"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `yaml:"driver,omitempty"` // "sqlite" | "memory"
	Path   string `yaml:"path,omitempty"`   // defaults to <data>/closer.db
}

// GatewayConfig controls the operator console HTTP/WebSocket server.
type GatewayConfig struct {
	Port           int         `yaml:"port,omitempty"`
	Bind           string      `yaml:"bind,omitempty"` // "auto" | "lan" | "loopback" | "custom"
	CustomBindHost string      `yaml:"customBindHost,omitempty"`
	Auth           GatewayAuth `yaml:"auth,omitempty"`
	TLS            GatewayTLS  `yaml:"tls,omitempty"`
	AllowedOrigins []string    `yaml:"allowedOrigins,omitempty"`
}

// GatewayAuth configures gateway authentication.
type GatewayAuth struct {
	Mode     string `yaml:"mode,omitempty"` // "token" | "password"
	Token    string `yaml:"token,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// GatewayTLS configures TLS for the gateway.
type GatewayTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// ChannelsConfig defines channel-specific configurations and outbound pacing.
type ChannelsConfig struct {
	IRC *IRCConfig `yaml:"irc,omitempty"`

	// PartDelay separates the parts of one multi-part reply.
	PartDelay time.Duration `yaml:"partDelay,omitempty"`
	// SendRate caps messages per second per channel; SendBurst is the
	// bucket size.
	SendRate  float64 `yaml:"sendRate,omitempty"`
	SendBurst int     `yaml:"sendBurst,omitempty"`
}

// IRCConfig defines IRC channel settings.
type IRCConfig struct {
	Server   string   `yaml:"server"`
	Port     int      `yaml:"port,omitempty"`
	Nick     string   `yaml:"nick"`
	Password string   `yaml:"password,omitempty"`
	Channels []string `yaml:"channels"`
	UseTLS   bool     `yaml:"useTLS,omitempty"`
	SASL     bool     `yaml:"sasl,omitempty"`
	DMOnly   bool     `yaml:"dmOnly,omitempty"` // ignore channel chatter, only answer private messages
}

// SessionConfig defines how inbound messages map to sessions.
type SessionConfig struct {
	Scope string `yaml:"scope,omitempty"` // "per-sender" | "global"
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
}

// NotifyConfig controls operator notifications outside the console.
type NotifyConfig struct {
	// AuditLog writes every engine event as a JSON line to this file.
	AuditLog string `yaml:"auditLog,omitempty"`
	// Alert sends a short message to an operator for selected events.
	Alert *AlertConfig `yaml:"alert,omitempty"`
}

// AlertConfig names where operator alerts go.
type AlertConfig struct {
	Channel string   `yaml:"channel"` // channel id, e.g. "irc"
	To      string   `yaml:"to"`      // nick or chat id on that channel
	Events  []string `yaml:"events,omitempty"`
}
