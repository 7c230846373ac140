package tokens

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/tiktoken-go/tokenizer"
)

// Counter counts text tokens with tiktoken codecs. Codecs are resolved per
// model name and cached; model names tiktoken does not know fall back to
// cl100k_base, which is close enough for progress accounting.
type Counter struct {
	mu     sync.RWMutex
	codecs map[string]tokenizer.Codec
}

func NewCounter() *Counter {
	return &Counter{codecs: map[string]tokenizer.Codec{}}
}

// Count returns the number of tokens in text under the codec for model.
func (c *Counter) Count(model, text string) (int, error) {
	if c == nil {
		return 0, errors.New("tokens: counter is nil")
	}
	codec, err := c.codec(model)
	if err != nil {
		return 0, err
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return 0, errors.Wrap(err, "tokens: encode")
	}
	return len(ids), nil
}

func (c *Counter) codec(model string) (tokenizer.Codec, error) {
	c.mu.RLock()
	cached, ok := c.codecs[model]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	codec, err := tokenizer.ForModel(tokenizer.Model(model))
	if err != nil {
		codec, err = tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			return nil, errors.Wrap(err, "tokens: load fallback codec")
		}
	}

	c.mu.Lock()
	c.codecs[model] = codec
	c.mu.Unlock()
	return codec, nil
}
