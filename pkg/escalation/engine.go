package escalation

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"debt-negotiation-be/pkg/store"
)

// Decide is a pure function: transcript + policy + latest debtor message in,
// verdict out. Triggers are evaluated in fixed precedence order and the first
// match wins; the ordering is part of the contract.
func Decide(conversation *store.Conversation, policy Policy, latestDebtorMessage string) Decision {
	// 1. Explicit human request always wins.
	if requestsHuman(latestDebtorMessage) {
		return Decision{Escalate: true, Reason: ReasonUserRequestedHuman, Confidence: 1.0}
	}

	// 2. Requested discount beyond the allowed maximum plus margin.
	if discount, ok := requestedDiscount(latestDebtorMessage); ok {
		if discount > policy.MaxDiscountPercent+policy.EscalationMarginPercent {
			return Decision{Escalate: true, Reason: ReasonDiscountExceeded, Confidence: 0.9}
		}
	}

	// 3. Requested term beyond the allowed maximum.
	if months, ok := requestedTermMonths(latestDebtorMessage); ok && months > policy.MaxTermMonths {
		return Decision{Escalate: true, Reason: ReasonTermExceeded, Confidence: 0.9}
	}

	// 4. Conversation has dragged on too long.
	if conversation != nil && policy.MaxConversationLength > 0 && len(conversation.Messages) > policy.MaxConversationLength {
		return Decision{Escalate: true, Reason: ReasonConversationTooLong, Confidence: 0.8}
	}

	// 5. The debtor sounds frustrated.
	if score := FrustrationScore(latestDebtorMessage); score > policy.FrustrationThreshold {
		return Decision{Escalate: true, Reason: ReasonFrustration, Confidence: score}
	}

	return Decision{Escalate: false, Reason: ReasonNone}
}

// Spanish and English phrasings a debtor uses to ask for a person. Matching
// is lowercase containment, which tolerates surrounding text.
var humanRequestPhrases = []string{
	"hablar con una persona",
	"hablar con un humano",
	"hablar con alguien",
	"hablar con un agente",
	"hablar con un asesor",
	"atencion humana",
	"atención humana",
	"persona real",
	"talk to a human",
	"talk to a person",
	"talk to someone",
	"speak to a human",
	"speak to a person",
	"speak with someone",
	"human agent",
	"real person",
	"no quiero hablar con un robot",
	"i don't want to talk to a bot",
}

func requestsHuman(message string) bool {
	lowered := strings.ToLower(message)
	for _, phrase := range humanRequestPhrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}

var percentPattern = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(?:%|por\s*ciento|percent)`)

// requestedDiscount extracts the largest percentage figure mentioned in the
// message. A debtor asking for "25%" or "25 por ciento" reads as a 25%
// discount ask.
func requestedDiscount(message string) (float64, bool) {
	matches := percentPattern.FindAllStringSubmatch(strings.ToLower(message), -1)
	if len(matches) == 0 {
		return 0, false
	}
	best := 0.0
	for _, m := range matches {
		raw := strings.ReplaceAll(m[1], ",", ".")
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v > best {
			best = v
		}
	}
	return best, true
}

var termPattern = regexp.MustCompile(`(\d+)\s*(?:months?|meses|mes|cuotas?|installments?|plazos?)`)

// requestedTermMonths extracts the largest term figure (months/cuotas) in the
// message.
func requestedTermMonths(message string) (int, bool) {
	matches := termPattern.FindAllStringSubmatch(strings.ToLower(message), -1)
	if len(matches) == 0 {
		return 0, false
	}
	best := 0
	for _, m := range matches {
		if v, err := strconv.Atoi(m[1]); err == nil && v > best {
			best = v
		}
	}
	return best, true
}

var frustrationLexicon = []string{
	"estafa", "ridiculo", "ridículo", "harto", "harta", "cansado", "cansada",
	"absurdo", "inutil", "inútil", "basura", "ya les dije", "no sirve",
	"scam", "ridiculous", "fed up", "sick of", "useless", "waste of time",
	"angry", "frustrated", "terrible", "worst",
}

// FrustrationScore estimates how upset a message reads, normalized to 0..1.
// Lexicon hits dominate; heavy exclamation and shouting in caps add smaller
// boosts.
func FrustrationScore(message string) float64 {
	if message == "" {
		return 0
	}
	lowered := strings.ToLower(message)

	score := 0.0
	for _, term := range frustrationLexicon {
		if strings.Contains(lowered, term) {
			score += 0.35
		}
	}

	exclamations := strings.Count(message, "!")
	if exclamations > 0 {
		score += 0.1 * float64(min(exclamations, 3))
	}

	if capsRatio(message) > 0.6 {
		score += 0.2
	}

	if score > 1 {
		score = 1
	}
	return score
}

func capsRatio(message string) float64 {
	letters, upper := 0, 0
	for _, r := range message {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters < 8 {
		// Too short to call shouting.
		return 0
	}
	return float64(upper) / float64(letters)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
