package memory

import (
	"time"

	"github.com/patrickmn/go-cache"

	"debt-negotiation-be/pkg/store"
)

// ConversationRepository keeps active negotiation transcripts in memory.
// Durable history lives with the hosted provider; this cache only needs to
// outlive a conversation, hence the generous TTL.
type ConversationRepository struct {
	cache *cache.Cache
}

func NewConversationRepository() *ConversationRepository {
	c := cache.New(24*time.Hour, 30*time.Minute)
	return &ConversationRepository{
		cache: c,
	}
}

func (r *ConversationRepository) Save(conversation *store.Conversation) {
	r.cache.Set(conversation.ID, conversation, cache.DefaultExpiration)
}

func (r *ConversationRepository) Get(conversationID string) (*store.Conversation, bool) {
	if x, found := r.cache.Get(conversationID); found {
		return x.(*store.Conversation), true
	}
	return nil, false
}

func (r *ConversationRepository) Delete(conversationID string) {
	r.cache.Delete(conversationID)
}

// All returns every live conversation. Used by the statistics aggregates.
func (r *ConversationRepository) All() []*store.Conversation {
	items := r.cache.Items()
	out := make([]*store.Conversation, 0, len(items))
	for _, item := range items {
		if c, ok := item.Object.(*store.Conversation); ok {
			out = append(out, c)
		}
	}
	return out
}
