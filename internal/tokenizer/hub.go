package tokenizer

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	DefaultHubURL = "https://huggingface.co"
	tokenizerFile = "tokenizer.json"
)

var (
	errNotTokenizer = errors.New("not a tokenizer file or repository id")

	repoID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*/[A-Za-z0-9][A-Za-z0-9._-]*$`)
)

// hubLoader finds tokenizer.json files on disk or on a Hugging Face hub.
type hubLoader struct {
	baseURL  string
	cacheDir string
	token    string
	client   *http.Client
}

// defaultHub honours HF_ENDPOINT, HF_TOKEN (or HUGGING_FACE_HUB_TOKEN) and
// caches under the user cache directory.
func defaultHub() hubLoader {
	base := os.Getenv("HF_ENDPOINT")
	if base == "" {
		base = DefaultHubURL
	}
	token := os.Getenv("HF_TOKEN")
	if token == "" {
		token = os.Getenv("HUGGING_FACE_HUB_TOKEN")
	}
	cache, err := os.UserCacheDir()
	if err != nil {
		cache = os.TempDir()
	}
	return hubLoader{
		baseURL:  base,
		cacheDir: filepath.Join(cache, "ollamabenchmark", "tokenizers"),
		token:    token,
		client:   &http.Client{Timeout: 5 * time.Minute},
	}
}

// resolve returns the path of the tokenizer.json designated by name,
// downloading it first when name is a repository id not yet cached.
func (h hubLoader) resolve(name string) (string, error) {
	if info, err := os.Stat(name); err == nil {
		if info.IsDir() {
			return filepath.Join(name, tokenizerFile), nil
		}
		return name, nil
	}
	if !repoID.MatchString(name) || strings.Contains(name, "..") {
		return "", errNotTokenizer
	}

	cached := filepath.Join(h.cacheDir, filepath.FromSlash(name), tokenizerFile)
	if _, err := os.Stat(cached); err == nil {
		return cached, nil
	}
	if err := h.download(name, cached); err != nil {
		return "", err
	}
	return cached, nil
}

func (h hubLoader) download(name, dest string) error {
	url := fmt.Sprintf("%s/%s/resolve/main/%s", strings.TrimRight(h.baseURL, "/"), name, tokenizerFile)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("downloading %s: %s (gated repositories need HF_TOKEN)", url, resp.Status)
	default:
		return fmt.Errorf("downloading %s: %s", url, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tokenizer-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("downloading %s: %w", url, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}
