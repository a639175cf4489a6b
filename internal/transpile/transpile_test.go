package transpile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"tangram/internal/id"
)

func testModule() Module {
	return Module{Package: id.New(id.KindDirectory, []byte("pkg")), Path: "tangram.ts"}
}

func TestRewriteExportedLetTarget(t *testing.T) {
	src := `export let build = tg.target(async () => { return 1; });`
	res, err := Transpile(testModule(), src)
	require.NoError(t, err)
	require.Contains(t, res.JS, `tg.target({function: async () => { return 1; }, module: `)
	require.Contains(t, res.JS, `name: "build"})`)
}

func TestRewriteExportDefaultTarget(t *testing.T) {
	src := `export default tg.target(function () { return 2; });`
	res, err := Transpile(testModule(), src)
	require.NoError(t, err)
	require.Contains(t, res.JS, `name: "default"})`)
}

func TestRewriteExportDefaultAwaitTarget(t *testing.T) {
	src := `export default await tg.target(() => {});`
	res, err := Transpile(testModule(), src)
	require.NoError(t, err)
	require.Contains(t, res.JS, `export default await tg.target({function: () => {}, module: `)
	require.Contains(t, res.JS, `name: "default"})`)
}

func TestRewriteBareNamedTarget(t *testing.T) {
	src := `const t = tg.target("explicit", () => 3);`
	res, err := Transpile(testModule(), src)
	require.NoError(t, err)
	require.Contains(t, res.JS, `tg.target({function: () => 3, module: `)
	require.Contains(t, res.JS, `name: "explicit"})`)
}

func TestRewriteInclude(t *testing.T) {
	src := `let x = tg.include("./data.txt");`
	res, err := Transpile(testModule(), src)
	require.NoError(t, err)
	require.Contains(t, res.JS, `tg.include({module: ({package:`)
	require.Contains(t, res.JS, `path: "./data.txt"})`)
}

func TestImportMetaModulePopulated(t *testing.T) {
	src := `console.log(import.meta.module);`
	res, err := Transpile(testModule(), src)
	require.NoError(t, err)
	require.Contains(t, res.JS, `({package: "`)
	require.NotContains(t, res.JS, `import.meta.module`)
}

func TestStripsTypeAnnotations(t *testing.T) {
	src := `function add(a: number, b: number): number { return a + b; }`
	res, err := Transpile(testModule(), src)
	require.NoError(t, err)
	require.NotContains(t, res.JS, ": number")
	require.Contains(t, res.JS, "function add(a, b) { return a + b; }")
}

func TestStripsInterfaceAndTypeAlias(t *testing.T) {
	src := "interface Point { x: number; y: number }\ntype ID = string;\nlet p = 1;"
	res, err := Transpile(testModule(), src)
	require.NoError(t, err)
	require.NotContains(t, res.JS, "interface")
	require.NotContains(t, res.JS, "type ID")
	require.Contains(t, res.JS, "let p = 1;")
}

func TestSourceMapIsValidJSONWithVersion3(t *testing.T) {
	src := "let x = 1;\nlet y = 2;\n"
	res, err := Transpile(testModule(), src)
	require.NoError(t, err)
	require.True(t, strings.Contains(res.SourceMap, `"version":3`))
	require.True(t, strings.Contains(res.SourceMap, `"mappings"`))
}
