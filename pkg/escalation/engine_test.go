package escalation

import (
	"fmt"
	"testing"

	"debt-negotiation-be/pkg/store"
)

func defaultPolicy() Policy {
	return Policy{
		MaxDiscountPercent:      15,
		EscalationMarginPercent: 5,
		MaxTermMonths:           12,
		MaxConversationLength:   20,
		FrustrationThreshold:    0.7,
	}
}

func conversationWithMessages(n int) *store.Conversation {
	c := &store.Conversation{ID: "c1", CompanyID: "company-1", DebtorID: "debtor-1"}
	for i := 0; i < n; i++ {
		role := store.RoleDebtor
		if i%2 == 1 {
			role = store.RoleAI
		}
		c.Append(store.Message{SenderRole: role, Content: fmt.Sprintf("mensaje %d", i)})
	}
	return c
}

func TestDecide(t *testing.T) {
	policy := defaultPolicy()

	tests := []struct {
		name           string
		messages       int
		message        string
		wantEscalate   bool
		wantReason     Reason
		wantConfidence float64
	}{
		{
			name:           "explicit human request in Spanish",
			messages:       2,
			message:        "Quiero hablar con una persona, por favor",
			wantEscalate:   true,
			wantReason:     ReasonUserRequestedHuman,
			wantConfidence: 1.0,
		},
		{
			name:           "explicit human request in English",
			messages:       2,
			message:        "Can I talk to a human about this debt?",
			wantEscalate:   true,
			wantReason:     ReasonUserRequestedHuman,
			wantConfidence: 1.0,
		},
		{
			name:           "discount beyond max plus margin escalates",
			messages:       2,
			message:        "Solo puedo pagar si me dan un 25% de descuento",
			wantEscalate:   true,
			wantReason:     ReasonDiscountExceeded,
			wantConfidence: 0.9,
		},
		{
			name:         "discount within margin stays with the assistant",
			messages:     2,
			message:      "Me pueden dar un 18 por ciento de descuento?",
			wantEscalate: false,
			wantReason:   ReasonNone,
		},
		{
			name:           "term beyond max escalates",
			messages:       2,
			message:        "Necesito pagarlo en 24 meses",
			wantEscalate:   true,
			wantReason:     ReasonTermExceeded,
			wantConfidence: 0.9,
		},
		{
			name:         "term at the limit is allowed",
			messages:     2,
			message:      "Puedo pagar en 12 cuotas",
			wantEscalate: false,
			wantReason:   ReasonNone,
		},
		{
			name:           "long conversation escalates",
			messages:       21,
			message:        "Sigo esperando una propuesta",
			wantEscalate:   true,
			wantReason:     ReasonConversationTooLong,
			wantConfidence: 0.8,
		},
		{
			name:         "frustrated message over the threshold escalates",
			messages:     2,
			message:      "Esto es una estafa, estoy harto, es absurdo!!!",
			wantEscalate: true,
			wantReason:   ReasonFrustration,
		},
		{
			name:         "calm message does not escalate",
			messages:     2,
			message:      "Gracias, voy a revisar la propuesta",
			wantEscalate: false,
			wantReason:   ReasonNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv := conversationWithMessages(tt.messages)
			got := Decide(conv, policy, tt.message)

			if got.Escalate != tt.wantEscalate {
				t.Errorf("Escalate = %v, want %v", got.Escalate, tt.wantEscalate)
			}
			if got.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", got.Reason, tt.wantReason)
			}
			if tt.wantConfidence > 0 && got.Confidence != tt.wantConfidence {
				t.Errorf("Confidence = %v, want %v", got.Confidence, tt.wantConfidence)
			}
		})
	}
}

// Precedence: a message matching several triggers must resolve to the
// earliest one.
func TestDecidePrecedence(t *testing.T) {
	policy := defaultPolicy()

	t.Run("human request beats discount", func(t *testing.T) {
		got := Decide(conversationWithMessages(2), policy,
			"Quiero hablar con una persona, denme 30% de descuento")
		if got.Reason != ReasonUserRequestedHuman {
			t.Errorf("Reason = %q, want %q", got.Reason, ReasonUserRequestedHuman)
		}
		if got.Confidence != 1.0 {
			t.Errorf("Confidence = %v, want 1.0", got.Confidence)
		}
	})

	t.Run("discount beats term", func(t *testing.T) {
		got := Decide(conversationWithMessages(2), policy,
			"Quiero 30% de descuento y pagar en 36 meses")
		if got.Reason != ReasonDiscountExceeded {
			t.Errorf("Reason = %q, want %q", got.Reason, ReasonDiscountExceeded)
		}
	})

	t.Run("term beats conversation length", func(t *testing.T) {
		got := Decide(conversationWithMessages(30), policy, "Necesito 36 meses")
		if got.Reason != ReasonTermExceeded {
			t.Errorf("Reason = %q, want %q", got.Reason, ReasonTermExceeded)
		}
	})

	t.Run("length beats frustration", func(t *testing.T) {
		got := Decide(conversationWithMessages(30), policy, "Esto es una estafa, estoy harto, basura!!!")
		if got.Reason != ReasonConversationTooLong {
			t.Errorf("Reason = %q, want %q", got.Reason, ReasonConversationTooLong)
		}
	})
}

func TestDecideNilConversation(t *testing.T) {
	got := Decide(nil, defaultPolicy(), "Gracias por la informacion")
	if got.Escalate {
		t.Errorf("nil conversation with a calm message must not escalate, got %+v", got)
	}
}

func TestFrustrationScore(t *testing.T) {
	tests := []struct {
		name    string
		message string
		wantMin float64
		wantMax float64
	}{
		{"empty", "", 0, 0},
		{"neutral", "Voy a revisar la propuesta esta semana", 0, 0},
		{"single lexicon hit", "Esto parece una estafa", 0.35, 0.35},
		{"lexicon plus exclamations", "Esto es una estafa!!!", 0.6, 0.7},
		{"all caps shouting", "ESTO ES UNA ESTAFA TOTAL", 0.5, 0.6},
		{"clamped to one", "estafa ridiculo harto absurdo basura!!!", 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FrustrationScore(tt.message)
			if got < tt.wantMin || got > tt.wantMax {
				t.Errorf("FrustrationScore(%q) = %v, want in [%v, %v]", tt.message, got, tt.wantMin, tt.wantMax)
			}
		})
	}
}
