package tools

import (
	"sort"
	"strings"
)

// Set is a name-indexed collection of tools. Later additions replace earlier
// tools with the same name.
type Set struct {
	byName map[string]Tool
}

func NewSet(tools ...Tool) *Set {
	s := &Set{byName: make(map[string]Tool, len(tools))}
	s.Add(tools...)
	return s
}

func (s *Set) Add(tools ...Tool) {
	for _, t := range tools {
		if t == nil {
			continue
		}
		name := strings.TrimSpace(t.Definition().Name)
		if name == "" {
			continue
		}
		s.byName[name] = t
	}
}

// Merge returns a new set holding base overlaid with overrides; a tool in
// overrides wins over a base tool with the same name.
func Merge(base []Tool, overrides ...Tool) *Set {
	s := NewSet(base...)
	s.Add(overrides...)
	return s
}

func (s *Set) Get(name string) (Tool, bool) {
	if s == nil {
		return nil, false
	}
	t, ok := s.byName[name]
	return t, ok
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.byName)
}

func (s *Set) Names() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.byName))
	for name := range s.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// List returns the tools sorted by name.
func (s *Set) List() []Tool {
	names := s.Names()
	out := make([]Tool, 0, len(names))
	for _, name := range names {
		out = append(out, s.byName[name])
	}
	return out
}
