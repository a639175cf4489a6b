// Package template implements the rendering model from spec §3: an ordered
// sequence of literal/artifact/placeholder components that renders to a
// string. Symlinks, and a task's executable/env/args, are all templates.
package template

import (
	"fmt"
	"strings"

	"tangram/internal/id"
)

// ComponentKind distinguishes the three component shapes.
type ComponentKind int

const (
	Literal ComponentKind = iota
	Artifact
	Placeholder
)

// Component is one piece of a Template.
type Component struct {
	Kind        ComponentKind
	Literal     string
	ArtifactID  id.ID
	Placeholder string // e.g. "output"
}

func Lit(s string) Component     { return Component{Kind: Literal, Literal: s} }
func Art(a id.ID) Component      { return Component{Kind: Artifact, ArtifactID: a} }
func Hole(name string) Component { return Component{Kind: Placeholder, Placeholder: name} }

// Template is an ordered sequence of components (spec §3).
type Template struct {
	Components []Component
}

// New builds a Template from components.
func New(components ...Component) Template {
	return Template{Components: append([]Component(nil), components...)}
}

// Children returns the artifact IDs referenced by this template, in order,
// for store referential-integrity checks (spec I1) and for determining what
// must be checked out before a task/symlink render (spec §4.4 task dispatch).
func (t Template) Children() []id.ID {
	var out []id.ID
	for _, c := range t.Components {
		if c.Kind == Artifact {
			out = append(out, c.ArtifactID)
		}
	}
	return out
}

// ArtifactRenderer resolves an artifact component to its rendered string
// (typically a checked-out filesystem path). It receives only the artifact
// ID, not the template's position; a caller that needs relative paths
// (spec §4.3.2 step 2, symlink rendering) captures the position itself.
type ArtifactRenderer func(a id.ID) (string, error)

// PlaceholderRenderer resolves a named placeholder ("output", ...) to its
// rendered string.
type PlaceholderRenderer func(name string) (string, error)

// Render concatenates every component's rendering. Each component has its
// own "user-supplied rendering function" per spec §3; here that is the pair
// of callbacks supplied by the caller (artifact checkout for Artifact
// components, environment wiring for Placeholder components).
func Render(t Template, renderArtifact ArtifactRenderer, renderPlaceholder PlaceholderRenderer) (string, error) {
	var b strings.Builder
	for _, c := range t.Components {
		switch c.Kind {
		case Literal:
			b.WriteString(c.Literal)
		case Artifact:
			s, err := renderArtifact(c.ArtifactID)
			if err != nil {
				return "", fmt.Errorf("template: render artifact %s: %w", c.ArtifactID, err)
			}
			b.WriteString(s)
		case Placeholder:
			s, err := renderPlaceholder(c.Placeholder)
			if err != nil {
				return "", fmt.Errorf("template: render placeholder %q: %w", c.Placeholder, err)
			}
			b.WriteString(s)
		default:
			return "", fmt.Errorf("template: unknown component kind %d", c.Kind)
		}
	}
	return b.String(), nil
}
