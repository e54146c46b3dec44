package quota

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

// Counter turns text into a token count.
type Counter interface {
	Count(text string) int
}

// NewCounter returns a BPE counter for the named encoding, or the byte-count
// fallback when the encoding cannot be loaded.
func NewCounter(encoding string) Counter {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		log.Warn().Err(err).Str("encoding", encoding).
			Msg("BPE encoding unavailable, using byte-count fallback; token metrics may be inflated")
		return ByteCounter{}
	}
	return bpeCounter{enc: enc}
}

type bpeCounter struct {
	enc *tiktoken.Tiktoken
}

func (c bpeCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// ByteCounter counts UTF-8 bytes. Inflated relative to BPE but monotone, so
// budgets still bind.
type ByteCounter struct{}

func (ByteCounter) Count(text string) int { return len(text) }

// isTextual reports whether a content type participates in token counting.
// Binary bodies contribute zero.
func isTextual(contentType string) bool {
	return strings.HasPrefix(contentType, "text/") || strings.Contains(contentType, "json")
}
