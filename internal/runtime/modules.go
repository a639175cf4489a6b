package runtime

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"

	"tangram/internal/id"
	"tangram/internal/terror"
	"tangram/internal/transpile"
)

// moduleURL identifies a loaded module: either a package module
// ("tg:package/<id>/<path>") or a built-in library module ("tg:lib/<path>"),
// per spec §4.5.2.
type moduleURL struct {
	lib  bool
	pkg  id.ID
	path string
}

func (m moduleURL) String() string {
	if m.lib {
		return "tg:lib/" + m.path
	}
	return fmt.Sprintf("tg:package/%s/%s", m.pkg, m.path)
}

func parseModuleURL(s string) (moduleURL, error) {
	switch {
	case strings.HasPrefix(s, "tg:lib/"):
		return moduleURL{lib: true, path: strings.TrimPrefix(s, "tg:lib/")}, nil
	case strings.HasPrefix(s, "tg:package/"):
		rest := strings.TrimPrefix(s, "tg:package/")
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 {
			return moduleURL{}, terror.New(terror.Invalid, "malformed module url %q", s)
		}
		pkgID, err := id.Parse(parts[0])
		if err != nil {
			return moduleURL{}, terror.Wrap(terror.Invalid, err, "module url package id")
		}
		return moduleURL{pkg: pkgID, path: parts[1]}, nil
	default:
		return moduleURL{}, terror.New(terror.Invalid, "module url %q has no tg: scheme", s)
	}
}

// reExportedDecl captures the bound identifier of a top-level
// `export let/const/var NAME = ...` declaration, for lowerESM.
var reExportedDecl = regexp.MustCompile(`\bexport\s+(?:let|const|var)\s+([A-Za-z_$][\w$]*)\s*=`)

// candidateExtensions is the resolution order spec §4.5.2 step 3 specifies:
// a bare specifier or extension-less relative path tries each in turn.
var candidateExtensions = []string{"", ".ts", ".js", ".json"}

// resolveSpecifier turns an import/export specifier appearing inside from
// into the module it designates (spec §4.5.2):
//  1. relative ("./x", "../x") resolves against from's directory;
//  2. otherwise the first path segment is looked up in the package's
//     dependency map (host.ResolveDependency) and the remainder of the
//     specifier is the path inside that dependency's root module tree;
//  3. an extension-less result is probed against candidateExtensions.
func resolveSpecifier(ctx context.Context, host Host, from moduleURL, specifier string) (moduleURL, error) {
	if specifier == "" {
		return moduleURL{}, terror.New(terror.Invalid, "empty import specifier")
	}

	if from.lib {
		// Library modules only import other library modules.
		if !strings.HasPrefix(specifier, "./") && !strings.HasPrefix(specifier, "../") {
			return moduleURL{}, terror.New(terror.Invalid, "lib module %q may only import relative specifiers, got %q", from, specifier)
		}
		joined := path.Join(path.Dir(from.path), specifier)
		return probeExtensions(ctx, host, moduleURL{lib: true, path: joined}, func(m moduleURL) (bool, error) {
			_, _, err := host.ModuleSource(ctx, id.ID{}, m.path)
			return err == nil, err
		})
	}

	if strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../") {
		joined := path.Join(path.Dir(from.path), specifier)
		candidate := moduleURL{pkg: from.pkg, path: joined}
		return probeExtensions(ctx, host, candidate, func(m moduleURL) (bool, error) {
			_, _, err := host.ModuleSource(ctx, m.pkg, m.path)
			return err == nil, err
		})
	}

	// Named dependency: first path segment names a package dependency.
	parts := strings.SplitN(specifier, "/", 2)
	depName := parts[0]
	rest := "tangram"
	if len(parts) == 2 {
		rest = parts[1]
	}
	depPkg, ok, err := host.ResolveDependency(ctx, from.pkg, depName)
	if err != nil {
		return moduleURL{}, terror.Wrap(terror.Invalid, err, "resolve dependency %q", depName)
	}
	if !ok {
		return moduleURL{}, terror.New(terror.NotFound, "package has no dependency named %q", depName)
	}
	candidate := moduleURL{pkg: depPkg, path: rest}
	return probeExtensions(ctx, host, candidate, func(m moduleURL) (bool, error) {
		_, _, err := host.ModuleSource(ctx, m.pkg, m.path)
		return err == nil, err
	})
}

func probeExtensions(_ context.Context, _ Host, base moduleURL, exists func(moduleURL) (bool, error)) (moduleURL, error) {
	if ext := path.Ext(base.path); ext != "" {
		return base, nil
	}
	var lastErr error
	for _, suffix := range candidateExtensions {
		cand := base
		cand.path = base.path + suffix
		ok, err := exists(cand)
		if ok {
			return cand, nil
		}
		if err != nil {
			lastErr = err
		}
	}
	if lastErr != nil {
		return moduleURL{}, lastErr
	}
	return moduleURL{}, terror.New(terror.NotFound, "module %q not found under any of %v", base, candidateExtensions)
}

// loadedModule is a module after loading, transpiling (if needed), and ESM
// lowering: JS ready to Eval inside the isolate plus its source map, kept
// for the lifetime of the isolate (spec §4.5.2 "modules are cached by URL
// for the isolate's lifetime").
type loadedModule struct {
	url       moduleURL
	js        string
	sourceMap string
	original  string
}

// moduleCache memoizes loadedModule by URL string for one isolate.
type moduleCache struct {
	entries map[string]*loadedModule
}

func newModuleCache() *moduleCache {
	return &moduleCache{entries: make(map[string]*loadedModule)}
}

func (c *moduleCache) load(ctx context.Context, host Host, m moduleURL) (*loadedModule, error) {
	key := m.String()
	if lm, ok := c.entries[key]; ok {
		return lm, nil
	}

	var data []byte
	var ext string
	var err error
	if m.lib {
		data, ext, err = host.ModuleSource(ctx, id.ID{}, m.path)
	} else {
		data, ext, err = host.ModuleSource(ctx, m.pkg, m.path)
	}
	if err != nil {
		return nil, terror.Wrap(terror.NotFound, err, "load module %s", m)
	}

	src := string(data)
	lm := &loadedModule{url: m, original: src}

	if ext == ".json" {
		lm.js = lowerJSONModule(src)
	} else {
		res, err := transpile.Transpile(transpile.Module{Package: m.pkg, Path: m.path}, src)
		if err != nil {
			return nil, terror.Wrap(terror.Script, err, "transpile %s", m)
		}
		lm.js = lowerESM(res.JS)
		lm.sourceMap = res.SourceMap
	}

	c.entries[key] = lm
	return lm, nil
}

// lowerJSONModule wraps a JSON document's text as a CommonJS-style module
// whose default export is the parsed value (goja's ES module support does
// not cover JSON module records).
func lowerJSONModule(src string) string {
	return "(function(__exports) { __exports.default = (" + src + "); return __exports; })"
}

var reExportedFunc = regexp.MustCompile(`\bexport\s+function\s+([A-Za-z_$][\w$]*)`)

// lowerESM rewrites top-level `export` declarations into assignments on an
// `__exports` object and wraps the module body in an IIFE taking a require
// function, since goja's native ECMAScript-module support varies across
// versions and the isolate only ever needs a single flat export record per
// module (spec §4.5.2: "a module exports a target map"). This mirrors the
// CJS-wrapper shape Node's own module loader uses, generalized by hand since
// no bundler/loader library appears in the example pack (see DESIGN.md).
//
// Rewriting operates on the whole source, not line by line: a target's
// function body (the right-hand side of its export) routinely spans many
// lines, so the export-to-assignment rewrite cannot inject a statement
// mid-declaration. Instead "export " is stripped in place and every bound
// name is collected, then `__exports.NAME = NAME;` lines are appended once
// after the whole body, where every declaration is guaranteed complete.
func lowerESM(js string) string {
	var names []string

	js = strings.Replace(js, "export default ", "__exports.default = ", 1)

	js = reExportedDecl.ReplaceAllStringFunc(js, func(m string) string {
		name := reExportedDecl.FindStringSubmatch(m)[1]
		names = append(names, name)
		return strings.TrimPrefix(m, "export ")
	})

	js = reExportedFunc.ReplaceAllStringFunc(js, func(m string) string {
		name := reExportedFunc.FindStringSubmatch(m)[1]
		names = append(names, name)
		return strings.TrimPrefix(m, "export ")
	})

	var b strings.Builder
	b.WriteString("(function(__exports, require) {\n")
	b.WriteString(js)
	b.WriteString("\n")
	for _, name := range names {
		b.WriteString("__exports." + name + " = " + name + ";\n")
	}
	b.WriteString("return __exports;\n})")
	return b.String()
}
