package template

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

// ErrNotFound is returned by Load when no template file exists for a workflow.
var ErrNotFound = errors.New("template file not found")

// Store maps a path id to its ordered templates. It is filled during capture
// and read-only during replay; it does no locking of its own.
type Store struct {
	order  []string
	byPath map[string][]Template
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{byPath: make(map[string][]Template)}
}

// Add appends a template to its path.
func (s *Store) Add(t Template) {
	if _, ok := s.byPath[t.PathID]; !ok {
		s.order = append(s.order, t.PathID)
	}
	s.byPath[t.PathID] = append(s.byPath[t.PathID], t)
}

// Templates returns a copy of the templates for pathID in ascending
// sequence order.
func (s *Store) Templates(pathID string) []Template {
	src := s.byPath[pathID]
	out := make([]Template, len(src))
	copy(out, src)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SequenceOrder < out[j].SequenceOrder })
	return out
}

// Paths returns path ids in the order they were first added.
func (s *Store) Paths() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of paths with at least one template.
func (s *Store) Len() int { return len(s.order) }

// TemplateCount returns the number of templates across all paths.
func (s *Store) TemplateCount() int {
	n := 0
	for _, ts := range s.byPath {
		n += len(ts)
	}
	return n
}

// EventCount returns the number of decoded events captured for pathID.
func (s *Store) EventCount(pathID string) int {
	n := 0
	for _, t := range s.byPath[pathID] {
		n += len(t.DecodedEvents)
	}
	return n
}

func (s *Store) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, id := range s.order {
		if i > 0 {
			b.WriteByte(',')
		}
		k, err := json.Marshal(id)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(s.byPath[id])
		if err != nil {
			return nil, fmt.Errorf("path %s: %w", id, err)
		}
		b.Write(k)
		b.WriteByte(':')
		b.Write(v)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

func (s *Store) UnmarshalJSON(data []byte) error {
	fresh := NewStore()
	err := decodeObject(data, func(pathID string, dec *json.Decoder) error {
		var ts []Template
		if err := dec.Decode(&ts); err != nil {
			return fmt.Errorf("path %s: %w", pathID, err)
		}
		if len(ts) == 0 {
			return nil
		}
		for _, t := range ts {
			if t.PathID == "" {
				t.PathID = pathID
			}
			fresh.Add(t)
		}
		return nil
	})
	if err != nil {
		return err
	}
	*s = *fresh
	return nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileName returns the template file name used for workflow.
func FileName(workflow string) string {
	name := unsafeName.ReplaceAllString(workflow, "_")
	if name == "" {
		name = "workflow"
	}
	return "templates_" + name + ".json"
}

// Save writes the store to dir/FileName(workflow) and returns the path.
func (s *Store) Save(dir, workflow string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create template dir %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode templates for %s: %w", workflow, err)
	}
	path := filepath.Join(dir, FileName(workflow))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write templates %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("rename templates %s: %w", path, err)
	}
	return path, nil
}

// Load reads the template file for workflow from dir.
func Load(dir, workflow string) (*Store, error) {
	return LoadFile(filepath.Join(dir, FileName(workflow)))
}

// LoadFile reads a template file from an explicit path.
func LoadFile(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read templates %s: %w", path, err)
	}
	s := NewStore()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse templates %s: %w", path, err)
	}
	return s, nil
}
