package constraints

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenBudget estimates prompt token counts so the executor can detect a
// token_limit condition before sending a request that the provider would
// reject outright, and decide how much short-term memory to trim before
// retrying once.
//
// Encoding lookups are cached: tiktoken-go's BPE table construction is not
// cheap and every node sharing a budget would otherwise rebuild it per call.
type TokenBudget struct {
	Limit int

	mu   sync.Mutex
	encs map[string]*tiktoken.Tiktoken
}

// NewTokenBudget returns a TokenBudget enforcing limit tokens of input per
// Chat call.
func NewTokenBudget(limit int) *TokenBudget {
	return &TokenBudget{Limit: limit, encs: map[string]*tiktoken.Tiktoken{}}
}

// Count returns the estimated token count of text under the named encoding
// (e.g. "cl100k_base"). Falls back to a one-token-per-four-characters
// approximation if the encoding can't be loaded, rather than failing the
// caller outright.
func (b *TokenBudget) Count(encoding, text string) int {
	enc, err := b.encoder(encoding)
	if err != nil {
		return approxTokens(text)
	}
	return len(enc.Encode(text, nil, nil))
}

// Fits reports whether text's estimated token count is within the budget.
func (b *TokenBudget) Fits(encoding, text string) bool {
	return b.Count(encoding, text) <= b.Limit
}

func (b *TokenBudget) encoder(encoding string) (*tiktoken.Tiktoken, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if enc, ok := b.encs[encoding]; ok {
		return enc, nil
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	b.encs[encoding] = enc
	return enc, nil
}

// approxTokens estimates token count as roughly one token per four
// characters, a crude fallback used only when the real tokenizer is
// unavailable.
func approxTokens(text string) int {
	return len(text)/4 + 1
}
