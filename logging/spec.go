package logging

import (
	"fmt"
	"sort"
	"strings"
)

// Spec is a parsed log-level specification: a base level applied to all
// components, plus per-component overrides. It is the configuration the
// handler returned by NewFilteringHandler consults on every Enabled call.
type Spec struct {
	BaseLevel  Level
	Components map[string]Level
}

// ParseSpec parses a comma-separated spec string of the form
// "base,component=level,...", e.g. "warn,manager=debug,store=trace".
// The base level may be omitted, in which case it defaults to warn; at
// most one bare (non "name=level") term is accepted, and it must come
// first if present.
func ParseSpec(s string) (Spec, error) {
	spec := Spec{BaseLevel: LevelWarn}

	s = strings.TrimSpace(s)
	if s == "" {
		return spec, nil
	}

	terms := strings.Split(s, ",")
	for i, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}

		name, levelStr, hasComponent := strings.Cut(term, "=")
		if !hasComponent {
			if i != 0 {
				return Spec{}, fmt.Errorf("logging: bare level %q must be the first term", term)
			}
			level, err := ParseLevel(term)
			if err != nil {
				return Spec{}, err
			}
			spec.BaseLevel = level
			continue
		}

		level, err := ParseLevel(levelStr)
		if err != nil {
			return Spec{}, fmt.Errorf("logging: component %q: %w", name, err)
		}
		if spec.Components == nil {
			spec.Components = make(map[string]Level)
		}
		spec.Components[name] = level
	}

	return spec, nil
}

// LevelFor returns the effective level for component, falling back to
// BaseLevel when component has no override or is empty (the base
// logger with no "component" attribute set).
func (s *Spec) LevelFor(component string) Level {
	if component == "" {
		return s.BaseLevel
	}
	if level, ok := s.Components[component]; ok {
		return level
	}
	return s.BaseLevel
}

// String renders the spec back to ParseSpec's input format, with
// component overrides sorted by name for determinism.
func (s Spec) String() string {
	var b strings.Builder
	b.WriteString(s.BaseLevel.String())

	names := make([]string, 0, len(s.Components))
	for name := range s.Components {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Fprintf(&b, ",%s=%s", name, s.Components[name])
	}

	return b.String()
}
