package transpile

import "regexp"

// stripTypeScript erases the common TypeScript-only constructs that appear
// in authored tangram modules. This is deliberately not a full TypeScript
// parser (see package doc) — it handles parameter/variable/return type
// annotations, `as` casts, non-null assertions, and standalone `interface`/
// `type` declarations, which cover everything tg.* module authors are
// expected to write.
func stripTypeScript(src string) string {
	for _, re := range stripPasses {
		src = re.re.ReplaceAllString(src, re.repl)
	}
	return src
}

type stripPass struct {
	re   *regexp.Regexp
	repl string
}

var stripPasses = []stripPass{
	// `interface Name { ... }` declarations, non-nested bodies.
	{regexp.MustCompile(`(?s)\binterface\s+\w+(\s*<[^>]*>)?\s*\{[^{}]*\}\s*`), ""},
	// `type Name = ...;` aliases.
	{regexp.MustCompile(`(?m)^\s*(?:export\s+)?type\s+\w+(\s*<[^>]*>)?\s*=[^;\n]*;?\s*$`), ""},
	// non-null assertion: `expr!` before `.`, `)`, `,`, `;`, or end of line.
	{regexp.MustCompile(`([A-Za-z_$][\w$]*)!(\s*[.),;\n])`), "$1$2"},
	// `as Type` / `as const` casts.
	{regexp.MustCompile(`\s+as\s+(?:const|[A-Za-z_$][\w$.<>\[\],\s|&]*)`), ""},
	// function return type annotations: `): Type {`. The type body is matched
	// as a run of word/generic/array atoms rather than a lookahead (RE2 has
	// no lookahead support), so the whole `): Type {` run is replaced with a
	// fixed ") {" instead of re-emitting a captured delimiter.
	{regexp.MustCompile(`\)\s*:\s*(?:[A-Za-z_$][\w$.|&]*|\s|<[^<>]*>|\[[^\[\]]*\])*\{`), ") {"},
	// parameter/variable type annotations: `: Type` before `,`, `)`, `=`,
	// `;`, or end of line. Unlike the pass above, the delimiter is captured
	// and re-emitted as $2.
	{regexp.MustCompile(`([A-Za-z_$][\w$]*\??)\s*:\s*(?:[A-Za-z_$][\w$.|&]*|\s|<[^<>]*>|\[[^\[\]]*\])*([,)=;\n])`), "$1$2"},
	// generic type parameters on function/class declarations: `foo<T>(`.
	{regexp.MustCompile(`([A-Za-z_$][\w$]*)\s*<[A-Za-z_$][\w$,\s]*>(\s*\()`), "$1$2"},
	// access modifiers on constructor parameters.
	{regexp.MustCompile(`\b(public|private|protected|readonly)\s+`), ""},
}
