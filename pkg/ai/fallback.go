package ai

import "context"

// FallbackReply is the single fixed message every degraded conversation gets.
const FallbackReply = "Nuestro servicio automático no está disponible en este momento. " +
	"Un asesor humano se pondrá en contacto contigo a la brevedad."

// fallbackServices is the deterministic stub bundle used whenever the real
// bundle is disabled or failed to load. Statistics return zeroed aggregates
// rather than failing.
type fallbackServices struct{}

// Fallback returns the stub bundle.
func Fallback() Services {
	return fallbackServices{}
}

func (fallbackServices) GenerateReply(ctx context.Context, req ReplyRequest) (Reply, error) {
	return Reply{
		Content:  FallbackReply,
		Fallback: true,
	}, nil
}

func (fallbackServices) Statistics(ctx context.Context) (NegotiationStats, error) {
	return NegotiationStats{Fallback: true}, nil
}
