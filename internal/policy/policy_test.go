package policy

import (
	"testing"
	"time"

	"github.com/soyeahso/closer/internal/config"
	"github.com/soyeahso/closer/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestFold(t *testing.T) {
	assert.Equal(t, "adios", Fold("Adiós"))
	assert.Equal(t, "cuanto cuesta", Fold("CUÁNTO CUESTA"))
	assert.Equal(t, "nino", Fold("niño"))
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"¿Cuánto cuesta?", "cuanto cuesta"},
		{"  Hola,   buenas!! ", "hola buenas"},
		{"tengo $500", "tengo $ 500"},
		{"500€", "500 €"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestVocabularyMatch(t *testing.T) {
	v := NewVocabulary([]string{"humano", "hablar con alguien", "$", ""})
	assert.Equal(t, 3, v.Len())

	tests := []struct {
		text string
		want bool
	}{
		{"Quiero hablar con un HUMANO", true},
		{"¿Puedo hablar con alguien?", true},
		{"humanos", false},
		{"hablar con nadie", false},
		{"cuesta $20", true},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, v.Match(tt.text))
		})
	}
}

func TestVocabularyCount(t *testing.T) {
	v := NewVocabulary([]string{"genial", "gracias", "super"})
	assert.Equal(t, 2, v.Count("genial, muchas gracias"))
	assert.Equal(t, 0, v.Count("nada"))
}

func TestVocabularyCovers(t *testing.T) {
	v := NewVocabulary([]string{"hola", "buenas", "buenas tardes", "ok"})

	assert.True(t, v.Covers("Hola"))
	assert.True(t, v.Covers("hola hola"))
	assert.True(t, v.Covers("¡Hola, buenas tardes!"))
	assert.True(t, v.Covers("ok."))
	assert.False(t, v.Covers("Lucas"))
	assert.False(t, v.Covers("hola soy Lucas"))

	var zero Vocabulary
	assert.False(t, zero.Match("hola"))
	assert.True(t, zero.Covers(""))
}

func TestPolicyFromDefaults(t *testing.T) {
	p := Default()
	assert.Equal(t, 0.9, p.PaymentThreshold)
	assert.Equal(t, 0.6, p.ClosingThreshold)
	assert.Equal(t, 2, p.NegativeStreak)
	assert.True(t, p.HumanRequest.Match("quiero hablar con un supervisor"))
	assert.True(t, p.Disengagement.Match("Adiós"))
	assert.True(t, p.Greetings.Covers("Buenos días"))

	assert.Equal(t, 2*time.Hour, p.FollowUpDelay(1))
	assert.Equal(t, 24*time.Hour, p.FollowUpDelay(2))
	assert.Equal(t, 24*time.Hour, p.FollowUpDelay(3))
	assert.Equal(t, time.Duration(0), p.FollowUpDelay(4))
}

func TestPolicyIsolatedFromConfig(t *testing.T) {
	cfg := config.Defaults()
	p := New(cfg)
	cfg.FollowUp.Delays[0] = time.Minute
	assert.Equal(t, 2*time.Hour, p.FollowUpDelay(1))
}

func TestFollowUpText(t *testing.T) {
	cfg := config.Defaults()
	cfg.FollowUp.Templates = []string{"Hola{name}, ¿sigues ahí?", "Última{name}"}
	p := New(cfg)

	assert.Equal(t, "Hola, Lucas, ¿sigues ahí?", p.FollowUpText(1, domain.Facts{Name: "Lucas"}))
	assert.Equal(t, "Hola, ¿sigues ahí?", p.FollowUpText(1, domain.Facts{}))
	assert.Equal(t, "Última", p.FollowUpText(2, domain.Facts{}))
	assert.Empty(t, p.FollowUpText(3, domain.Facts{Name: "Lucas"}))
}

func TestPaymentReply(t *testing.T) {
	cfg := config.Defaults()
	cfg.Engine.PaymentLink = "https://pay.test/x"

	cfg.Engine.Replies.Payment = "Paga aquí: {link}"
	assert.Equal(t, "Paga aquí: https://pay.test/x", New(cfg).PaymentReply(""))

	cfg.Engine.Replies.Payment = "¡Genial{name}!"
	assert.Equal(t, "¡Genial, Ana! https://pay.test/x", New(cfg).PaymentReply("Ana"))
}

func TestParts(t *testing.T) {
	cfg := config.Defaults()
	cfg.Engine.PartSeparator = "[PAUSA]"

	p := New(cfg)
	assert.Equal(t, []string{"Hola.", "¿Cómo estás?"}, p.Parts("Hola. [PAUSA] ¿Cómo estás?"))
	assert.Equal(t, []string{"solo"}, p.Parts("solo[PAUSA][PAUSA]  "))
	assert.Empty(t, p.Parts("  "))

	cfg.Engine.MaxWordsPart = 4
	p = New(cfg)
	assert.Equal(t,
		[]string{"Uno dos. Tres.", "Cuatro cinco seis siete", "ocho."},
		p.Parts("Uno dos. Tres. Cuatro cinco seis siete ocho."))
}
