// Package questions resolves question identifiers into the prompts sent to the model.
package questions

import (
	"bufio"
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.yaml.in/yaml/v4"
)

// builtinData is a subset of the MT-Bench questions (ids 81-160), one per
// category plus the writing block. The full set can be passed as a file.
//
//go:embed data/questions.jsonl
var builtinData []byte

// ErrUnknownQuestion is returned when an identifier is not in the source.
var ErrUnknownQuestion = errors.New("unknown question")

// Question is one benchmark question. Each entry of Turns is a user message;
// later turns build on the model's previous answers.
type Question struct {
	ID       string   `json:"question_id" yaml:"question_id"`
	Category string   `json:"category,omitempty" yaml:"category,omitempty"`
	Turns    []string `json:"turns" yaml:"turns"`
}

// Source resolves question identifiers.
type Source interface {
	Get(id string) (Question, error)
	IDs() []string
}

// Set is an in-memory Source.
type Set struct {
	byID map[string]Question
}

// record accepts numeric or string identifiers.
type record struct {
	QuestionID any      `json:"question_id" yaml:"question_id"`
	Category   string   `json:"category" yaml:"category"`
	Turns      []string `json:"turns" yaml:"turns"`
}

func (r record) question() (Question, error) {
	var id string
	switch v := r.QuestionID.(type) {
	case string:
		id = v
	case float64:
		id = strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		id = strconv.Itoa(v)
	case nil:
		return Question{}, errors.New("missing question_id")
	default:
		id = fmt.Sprint(v)
	}
	if len(r.Turns) == 0 {
		return Question{}, fmt.Errorf("question %s has no turns", id)
	}
	return Question{ID: id, Category: r.Category, Turns: r.Turns}, nil
}

// Builtin returns the embedded question set.
func Builtin() *Set {
	set, err := parseJSONL(builtinData)
	if err != nil {
		panic(fmt.Sprintf("embedded questions are invalid: %v", err))
	}
	return set
}

// Load reads a question file. JSON Lines by default, YAML (a list of
// questions) when the extension is .yaml or .yml.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading questions file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return parseYAML(data)
	default:
		return parseJSONL(data)
	}
}

// NewSet builds a set from questions. Later duplicates replace earlier ones.
func NewSet(qs ...Question) *Set {
	s := &Set{byID: make(map[string]Question, len(qs))}
	for _, q := range qs {
		s.byID[q.ID] = q
	}
	return s
}

func parseJSONL(data []byte) (*Set, error) {
	var qs []Question
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var r record
		if err := json.Unmarshal([]byte(text), &r); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		q, err := r.question()
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		qs = append(qs, q)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning questions: %w", err)
	}
	return NewSet(qs...), nil
}

func parseYAML(data []byte) (*Set, error) {
	var records []record
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parsing questions yaml: %w", err)
	}
	qs := make([]Question, 0, len(records))
	for i, r := range records {
		q, err := r.question()
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		qs = append(qs, q)
	}
	return NewSet(qs...), nil
}

// Get returns the question with the given identifier.
func (s *Set) Get(id string) (Question, error) {
	q, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return Question{}, fmt.Errorf("%w: %s (known ids: %s)", ErrUnknownQuestion, id, s.knownIDs(maxListedIDs))
	}
	return q, nil
}

const maxListedIDs = 20

func (s *Set) knownIDs(limit int) string {
	ids := s.IDs()
	if len(ids) > limit {
		return strings.Join(ids[:limit], ", ") + fmt.Sprintf(", ... %d more", len(ids)-limit)
	}
	return strings.Join(ids, ", ")
}

// IDs returns all identifiers, numeric ones first in numeric order.
func (s *Set) IDs() []string {
	ids := make([]string, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return ids[i] < ids[j]
		}
	})
	return ids
}

// Len returns the number of questions.
func (s *Set) Len() int {
	return len(s.byID)
}
