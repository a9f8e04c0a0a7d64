package questions

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltin(t *testing.T) {
	set := Builtin()

	q, err := set.Get("81")
	require.NoError(t, err)
	assert.Equal(t, "writing", q.Category)
	assert.Len(t, q.Turns, 2)

	ids := set.IDs()
	require.NotEmpty(t, ids)
	assert.Equal(t, "81", ids[0])
	assert.Equal(t, len(ids), set.Len())
}

func TestGetUnknown(t *testing.T) {
	_, err := Builtin().Get("9999")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownQuestion))
	assert.Contains(t, err.Error(), "known ids: 81, 82, 83")

	many := make([]Question, 25)
	for i := range many {
		many[i] = Question{ID: strconv.Itoa(i + 1), Turns: []string{"q"}}
	}
	_, err = NewSet(many...).Get("99")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "known ids: 1, 2, 3")
	assert.Contains(t, err.Error(), "20, ... 5 more")
}

func TestLoadJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.jsonl")
	content := `{"question_id": 1, "turns": ["a", "b"]}

{"question_id": "custom", "category": "misc", "turns": ["c"]}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	set, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "custom"}, set.IDs())

	q, err := set.Get("custom")
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, q.Turns)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.yaml")
	content := `- question_id: 10
  category: writing
  turns:
    - first
    - second
- question_id: 2
  turns: [only]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	set, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "10"}, set.IDs())
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"bad json", "q.jsonl", `{"question_id": `},
		{"no turns", "q.jsonl", `{"question_id": 1, "turns": []}`},
		{"no id", "q.jsonl", `{"turns": ["x"]}`},
		{"bad yaml", "q.yml", "- question_id: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.Error(t, err)
}
