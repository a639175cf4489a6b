// Package transpile implements the author-visible rewrites of spec §4.5.3:
// tg.target/tg.include sugar expansion and import.meta.module population,
// plus best-effort TypeScript type erasure so the result is valid
// JavaScript. There is no TypeScript grammar library anywhere in the
// example pack (see DESIGN.md), so this is a hand-rolled, pattern-based
// pass rather than a full parser — sufficient for the fixed set of
// rewrites spec §4.5.3 actually requires.
package transpile

import (
	"fmt"
	"regexp"
	"strings"

	"tangram/internal/id"
	"tangram/internal/terror"
)

// Module identifies the module being transpiled, for import.meta.module
// population (spec §4.5.2/§4.5.3).
type Module struct {
	Package id.ID
	Path    string
}

// Result is transpiled JavaScript plus its source map (spec §4.5.2:
// "emit ES modules, emit a source map").
type Result struct {
	JS        string
	SourceMap string
}

var (
	// export let NAME = tg.target(...)  /  export const NAME = tg.target(...)
	// An optional `await` (tg.target returns its descriptor synchronously,
	// so awaiting it is a no-op module authors sometimes write anyway) is
	// consumed along with the rest of the match.
	reExportedTarget = regexp.MustCompile(`export\s+(?:let|const|var)\s+([A-Za-z_$][\w$]*)\s*=\s*(?:await\s+)?tg\.target\s*\(`)
	// export default tg.target(...)  /  export default await tg.target(...)
	reExportDefaultTarget = regexp.MustCompile(`export\s+default\s+(?:await\s+)?tg\.target\s*\(`)
	reInclude             = regexp.MustCompile(`tg\.include\s*\(\s*("(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*')\s*\)`)
	reImportMeta = regexp.MustCompile(`import\.meta\.module`)
)

// Transpile rewrites source (the text of mod) per spec §4.5.3 and strips
// TypeScript-only syntax so the result is plain JavaScript.
func Transpile(mod Module, source string) (Result, error) {
	js, err := rewriteTargets(mod, source)
	if err != nil {
		return Result{}, err
	}
	js = reInclude.ReplaceAllStringFunc(js, func(m string) string {
		sub := reInclude.FindStringSubmatch(m)
		path := sub[1]
		return fmt.Sprintf(`tg.include({module: %s, path: %s})`, importMetaLiteral(mod), path)
	})
	js = reImportMeta.ReplaceAllString(js, importMetaLiteral(mod))
	js = stripTypeScript(js)

	return Result{
		JS:        js,
		SourceMap: identitySourceMap(mod, source, js),
	}, nil
}

func importMetaLiteral(mod Module) string {
	return fmt.Sprintf(`({package: %q, path: %q})`, mod.Package.String(), mod.Path)
}

// rewriteTargets expands tg.target sugar into the fully-qualified
// {function, module, name} form (spec §4.5.3).
func rewriteTargets(mod Module, source string) (string, error) {
	var b strings.Builder
	rest := source
	for {
		loc := reExportedTarget.FindStringSubmatchIndex(rest)
		defLoc := reExportDefaultTarget.FindStringIndex(rest)

		switch {
		case loc == nil && defLoc == nil:
			b.WriteString(rewriteBareTargets(mod, rest))
			return b.String(), nil

		case loc != nil && (defLoc == nil || loc[0] < defLoc[0]):
			name := rest[loc[2]:loc[3]]
			b.WriteString(rest[:loc[1]])
			b.WriteString(fmt.Sprintf(`{function: `))
			rest = rest[loc[1]:]
			argsEnd, err := findMatchingParen(rest)
			if err != nil {
				return "", terror.Wrap(terror.Script, err, "transpile %s: unterminated tg.target(", mod.Path)
			}
			fnExpr := rest[:argsEnd]
			b.WriteString(fnExpr)
			b.WriteString(fmt.Sprintf(`, module: %s, name: %q})`, importMetaLiteral(mod), name))
			rest = rest[argsEnd+1:]

		default:
			b.WriteString(rest[:defLoc[1]])
			b.WriteString(`{function: `)
			rest = rest[defLoc[1]:]
			argsEnd, err := findMatchingParen(rest)
			if err != nil {
				return "", terror.Wrap(terror.Script, err, "transpile %s: unterminated tg.target(", mod.Path)
			}
			fnExpr := rest[:argsEnd]
			b.WriteString(fnExpr)
			b.WriteString(fmt.Sprintf(`, module: %s, name: "default"})`, importMetaLiteral(mod)))
			rest = rest[argsEnd+1:]
		}
	}
}

var reBareNamedTarget = regexp.MustCompile(`tg\.target\s*\(\s*("(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*')\s*,\s*`)

// rewriteBareTargets handles tg.target(name, fn) calls not captured by an
// export pattern (spec §4.5.3: "A bare tg.target(name, fn) is rewritten
// similarly with the explicit name"). A single-argument tg.target(fn) that
// reaches here is outside any export context and is left unchanged; at
// runtime tg.target returns fn as is, and InvokeTarget accepts a bare
// function export.
func rewriteBareTargets(mod Module, source string) string {
	var b strings.Builder
	rest := source
	for {
		loc := reBareNamedTarget.FindStringSubmatchIndex(rest)
		if loc == nil {
			b.WriteString(rest)
			return b.String()
		}
		name := rest[loc[2]:loc[3]]
		b.WriteString(rest[:loc[0]])
		b.WriteString(`tg.target({function: `)
		rest = rest[loc[1]:]
		argsEnd, err := findMatchingParen(rest)
		if err != nil {
			b.WriteString(rest)
			return b.String()
		}
		b.WriteString(rest[:argsEnd])
		b.WriteString(fmt.Sprintf(`, module: %s, name: %s})`, importMetaLiteral(mod), name))
		rest = rest[argsEnd+1:]
	}
}

// findMatchingParen returns the index of the ')' matching the '(' implicitly
// consumed just before s begins (s starts right after "tg.target(").
func findMatchingParen(s string) (int, error) {
	depth := 1
	inString := byte(0)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString != 0 {
			if c == '\\' {
				i++
				continue
			}
			if c == inString {
				inString = 0
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			inString = c
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("no matching )")
}
