package tokenizer

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

type wordEncoder struct{}

func (wordEncoder) count(text string) int {
	return len(strings.Fields(text))
}

// tinyTokenizer is a byte-level BPE tokenizer.json in the GPT-2 layout that
// knows "hello" as a single token and spells everything else out.
const tinyTokenizer = `{
  "version": "1.0",
  "truncation": null,
  "padding": null,
  "added_tokens": [],
  "normalizer": null,
  "pre_tokenizer": {"type": "ByteLevel", "add_prefix_space": false, "trim_offsets": true, "use_regex": true},
  "post_processor": {"type": "ByteLevel", "add_prefix_space": true, "trim_offsets": false, "use_regex": true},
  "decoder": {"type": "ByteLevel", "add_prefix_space": true, "trim_offsets": true, "use_regex": true},
  "model": {
    "type": "BPE",
    "dropout": null,
    "unk_token": null,
    "continuing_subword_prefix": "",
    "end_of_word_suffix": "",
    "fuse_unk": false,
    "vocab": {"h": 0, "e": 1, "l": 2, "o": 3, "Ġ": 4, "w": 5, "r": 6, "d": 7, "he": 8, "ll": 9, "hell": 10, "hello": 11},
    "merges": ["h e", "l l", "he ll", "hell o"]
  }
}`

func writeTokenizer(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, tokenizerFile)
	if err := os.WriteFile(path, []byte(tinyTokenizer), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func checkHelloCounts(t *testing.T, c *Counter) {
	t.Helper()
	hello := c.Count("hello")
	both := c.Count("hello world")
	if hello <= 0 {
		t.Fatalf("Count(hello) = %d, want > 0", hello)
	}
	if both <= hello {
		t.Errorf("Count(hello world) = %d, want more than Count(hello) = %d", both, hello)
	}
	if got := c.Count(""); got != 0 {
		t.Errorf("Count(\"\") = %d, want 0", got)
	}
}

func offlineHub(t *testing.T) hubLoader {
	return hubLoader{baseURL: "http://127.0.0.1:1", cacheDir: t.TempDir(), client: http.DefaultClient}
}

func TestLoadUnknown(t *testing.T) {
	tests := []string{"", "   ", "no-such-encoding", "../etc/passwd"}
	for _, name := range tests {
		_, err := load(name, offlineHub(t))
		if err == nil {
			t.Fatalf("load(%q) expected error", name)
		}
		if !errors.Is(err, ErrLoad) {
			t.Errorf("load(%q) error %v is not ErrLoad", name, err)
		}
	}
}

func TestLoadLocalTokenizerFile(t *testing.T) {
	dir := t.TempDir()
	path := writeTokenizer(t, dir)

	for _, name := range []string{path, dir} {
		c, err := load(name, offlineHub(t))
		if err != nil {
			t.Fatalf("load(%q) error: %v", name, err)
		}
		if c.Name() != name {
			t.Errorf("Name() = %q, want %q", c.Name(), name)
		}
		checkHelloCounts(t, c)
	}
}

func TestLoadInvalidTokenizerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), tokenizerFile)
	os.WriteFile(path, []byte("not a tokenizer"), 0o644)

	if _, err := load(path, offlineHub(t)); !errors.Is(err, ErrLoad) {
		t.Errorf("Expected ErrLoad, got %v", err)
	}
}

func TestLoadFromHub(t *testing.T) {
	var requests atomic.Int32
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		auth.Store(r.Header.Get("Authorization"))
		if r.URL.Path != "/meta-llama/Meta-Llama-3.1-8B-Instruct/resolve/main/tokenizer.json" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(tinyTokenizer))
	}))
	defer srv.Close()

	hub := hubLoader{baseURL: srv.URL, cacheDir: t.TempDir(), token: "hf_secret", client: srv.Client()}
	name := "meta-llama/Meta-Llama-3.1-8B-Instruct"

	c, err := load(name, hub)
	if err != nil {
		t.Fatalf("load() error: %v", err)
	}
	checkHelloCounts(t, c)
	if got := auth.Load(); got != "Bearer hf_secret" {
		t.Errorf("Authorization = %v, want bearer token", got)
	}
	if _, err := os.Stat(filepath.Join(hub.cacheDir, "meta-llama", "Meta-Llama-3.1-8B-Instruct", tokenizerFile)); err != nil {
		t.Errorf("Expected cached tokenizer.json: %v", err)
	}

	if _, err := load(name, hub); err != nil {
		t.Fatalf("second load() error: %v", err)
	}
	if n := requests.Load(); n != 1 {
		t.Errorf("Expected one download, got %d", n)
	}
}

func TestLoadFromHubErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   string
	}{
		{"gated", http.StatusUnauthorized, "HF_TOKEN"},
		{"missing", http.StatusNotFound, "404"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			hub := hubLoader{baseURL: srv.URL, cacheDir: t.TempDir(), client: srv.Client()}
			_, err := load("acme/private-model", hub)
			if !errors.Is(err, ErrLoad) {
				t.Fatalf("Expected ErrLoad, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected %q in %v", tt.want, err)
			}
			entries, _ := os.ReadDir(filepath.Join(hub.cacheDir, "acme", "private-model"))
			if len(entries) != 0 {
				t.Errorf("Expected nothing cached, got %d entries", len(entries))
			}
		})
	}
}

func TestCount(t *testing.T) {
	c := &Counter{name: "words", enc: wordEncoder{}}

	if got := c.Count(""); got != 0 {
		t.Errorf("Count(\"\") = %d, want 0", got)
	}
	if got := c.Count("the quick brown fox"); got != 4 {
		t.Errorf("Count() = %d, want 4", got)
	}
	if c.Name() != "words" {
		t.Errorf("Name() = %q", c.Name())
	}
}

func TestCountConcurrent(t *testing.T) {
	c := &Counter{name: "words", enc: wordEncoder{}}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := c.Count("a b c"); got != 3 {
				t.Errorf("Count() = %d, want 3", got)
			}
		}()
	}
	wg.Wait()
}
