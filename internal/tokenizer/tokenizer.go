// Package tokenizer recomputes token counts from raw text so they can be
// compared with the counters reported by the serving endpoint.
//
// A name is resolved, in order, as a tiktoken encoding (cl100k_base, ...), a
// model name known to tiktoken, a local tokenizer.json file or a directory
// holding one, and finally a Hugging Face repository id such as
// meta-llama/Meta-Llama-3.1-8B-Instruct whose tokenizer.json is downloaded
// once and cached.
package tokenizer

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	hf "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// ErrLoad is returned when a named tokenizer cannot be loaded.
var ErrLoad = errors.New("tokenizer load failed")

type encoder interface {
	count(text string) int
}

type tiktokenEncoder struct {
	enc *tiktoken.Tiktoken
}

// Special tokens are encoded as text.
func (e tiktokenEncoder) count(text string) int {
	return len(e.enc.Encode(text, nil, nil))
}

type hfEncoder struct {
	tk *hf.Tokenizer
}

// Only the text is counted; BOS/EOS and other template tokens are not added.
func (e hfEncoder) count(text string) int {
	en, err := e.tk.EncodeSingle(text, false)
	if err != nil {
		return 0
	}
	return len(en.Ids)
}

// Counter counts tokens with one loaded tokenizer. Safe for concurrent use.
type Counter struct {
	name string
	enc  encoder
	mu   sync.Mutex
}

// Load resolves name and loads the tokenizer it designates.
func Load(name string) (*Counter, error) {
	return load(name, defaultHub())
}

func load(name string, hub hubLoader) (*Counter, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty tokenizer name", ErrLoad)
	}

	enc, encErr := tiktoken.GetEncoding(name)
	if encErr == nil {
		return &Counter{name: name, enc: tiktokenEncoder{enc}}, nil
	}
	if enc, err := tiktoken.EncodingForModel(name); err == nil {
		return &Counter{name: name, enc: tiktokenEncoder{enc}}, nil
	}

	path, err := hub.resolve(name)
	if errors.Is(err, errNotTokenizer) {
		return nil, fmt.Errorf("%w: %s: %v", ErrLoad, name, encErr)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLoad, name, err)
	}

	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: reading %s: %v", ErrLoad, name, path, err)
	}
	return &Counter{name: name, enc: hfEncoder{tk}}, nil
}

// Name returns the name the counter was loaded with.
func (c *Counter) Name() string {
	return c.name
}

// Count returns the number of tokens in text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enc.count(text)
}
