package config

import (
	"fmt"
	"time"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			Thresholds: ThresholdsConfig{
				Payment:        0.9,
				Closing:        0.6,
				NegativeStreak: 2,
			},
			Vocabulary:    defaultVocabulary(),
			Replies:       defaultReplies(),
			PaymentLink:   "https://example.com/pay",
			PartSeparator: "[PAUSA]",
		},
		FollowUp: FollowUpConfig{
			Delays: []time.Duration{2 * time.Hour, 24 * time.Hour, 24 * time.Hour},
			Templates: []string{
				"¡Hola{name}! 😊 Solo quería saber si te quedó alguna duda. Aquí sigo para ayudarte.",
				"Hola{name}, te escribo de nuevo porque creo que esto realmente puede ayudarte. ¿Te cuento cómo empezar?",
			},
		},
		Scheduler: SchedulerConfig{
			Sweep:   "@every 30s",
			Workers: 4,
		},
		Providers: ProvidersConfig{
			Kind:         "heuristic",
			Timeout:      8 * time.Second,
			ReplyTimeout: 30 * time.Second,
		},
		LLM: LLMConfig{
			MaxTokens: 512,
		},
		Store: StoreConfig{
			Driver: "sqlite",
		},
		Gateway: GatewayConfig{
			Port: 18790,
			Bind: "loopback",
			Auth: GatewayAuth{
				Mode: "token",
			},
		},
		Channels: ChannelsConfig{
			PartDelay: 1500 * time.Millisecond,
			SendRate:  5,
			SendBurst: 5,
		},
		Session: SessionConfig{
			Scope: "per-sender",
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
	}
}

// DefaultAlertEvents are the events that need a human: handoffs and
// exhausted follow-ups.
func DefaultAlertEvents() []string {
	return []string{"handoff.requested", "followup.escalated"}
}

func defaultVocabulary() VocabularyConfig {
	return VocabularyConfig{
		Greetings: []string{
			"hola", "holi", "buenas", "buenos dias", "buenas tardes", "buenas noches",
			"hey", "hi", "hello", "ok", "okay", "vale", "si", "no", "gracias",
			"jaja", "jeje", "claro", "bien", "perfecto", "saludos", "que tal",
			"no se", "de acuerdo", "entiendo", "tal vez", "quizas", "quiza", "puede ser",
			"dale", "dime mas", "cuentame", "manana", "hoy", "luego", "ya", "bueno", "listo",
			"aja", "mmm", "ah", "oh", "seguro", "obvio", "a ver", "nada", "todavia no",
			"yes", "yeah", "sure", "maybe", "thanks", "i see", "got it", "hmm",
		},
		HumanRequest: []string{
			"humano", "persona", "persona real", "supervisor", "agente", "operador",
			"hablar con alguien", "asesor", "human", "real person", "talk to someone",
		},
		Purchase: []string{
			"quiero comprar", "quiero pagar", "como pago", "link de pago", "lo compro",
			"me lo llevo", "donde pago", "i want to buy", "checkout", "take my money",
		},
		Disengagement: []string{
			"adios", "chao", "bye", "hasta luego", "no me interesa", "lo pienso",
			"luego te escribo", "despues te aviso", "ya no", "not interested", "maybe later",
		},
		Currency: []string{
			"$", "usd", "eur", "€", "dolares", "pesos", "euros", "mil", "presupuesto", "budget",
		},
		Positive: []string{
			"genial", "excelente", "me encanta", "perfecto", "gracias", "super", "great", "love",
		},
		Negative: []string{
			"malo", "pesimo", "horrible", "estafa", "molesto", "enojado", "caro", "no sirve",
			"terrible", "scam", "angry", "awful", "worst",
		},
		PriceQuestion: []string{
			"precio", "cuanto cuesta", "costo", "cuanto sale", "price", "how much",
		},
	}
}

func defaultReplies() RepliesConfig {
	return RepliesConfig{
		Handoff:      "¡Claro que sí! 😊 Dame unos minutos para avisar a mi supervisor y enseguida te atiende una persona.",
		Deescalation: "Lamento mucho que la experiencia no haya sido la mejor. Voy a pedir a una persona de mi equipo que te ayude directamente.",
		Welcome:      "¡Hola! 👋 Gracias por escribirnos. ¿Cómo te llamas y en qué te puedo ayudar?",
		Conversation: "Cuéntame un poco más para poder ayudarte mejor.",
		Closing:      "¡Me alegra que te interese! ¿Quieres que te comparta el enlace para completar tu compra?",
		Payment:      "¡Excelente decisión! 🎉 Puedes completar tu compra aquí: {link}",
		FollowUp:     "¡Entendido! Aquí estaré si necesitas algo más.",
	}
}

const redacted = "********"

// Redacted returns a copy of cfg with credentials masked, for display.
func (cfg Config) Redacted() Config {
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&cfg.LLM.APIKey)
	mask(&cfg.Gateway.Auth.Token)
	mask(&cfg.Gateway.Auth.Password)
	if cfg.Channels.IRC != nil {
		irc := *cfg.Channels.IRC
		mask(&irc.Password)
		cfg.Channels.IRC = &irc
	}
	return cfg
}
