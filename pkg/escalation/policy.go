package escalation

// Reason explains why a conversation was handed to a human.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonUserRequestedHuman  Reason = "user_requested_human"
	ReasonDiscountExceeded    Reason = "discount_exceeded"
	ReasonTermExceeded        Reason = "term_exceeded"
	ReasonConversationTooLong Reason = "conversation_too_long"
	ReasonFrustration         Reason = "frustration"
)

// Decision is the engine's verdict for one inbound debtor message.
type Decision struct {
	Escalate   bool    `json:"escalate"`
	Reason     Reason  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

// Policy is company-scoped configuration. The numeric thresholds are policy
// data, not protocol constants; defaults come from configuration.
type Policy struct {
	MaxDiscountPercent      float64 `json:"max_discount_percent"`
	EscalationMarginPercent float64 `json:"escalation_margin_percent"`
	MaxTermMonths           int     `json:"max_term_months"`
	MaxConversationLength   int     `json:"max_conversation_length"`
	FrustrationThreshold    float64 `json:"frustration_threshold"`
}
