package sandbox

import (
	"errors"
	"testing"

	"tangram/internal/id"
	"tangram/internal/template"
)

func TestRenderEnvironmentResolvesTemplatesAndSortsEnv(t *testing.T) {
	exe := template.New(template.Lit("/bin/"), template.Lit("sh"))
	args := []template.Template{template.New(template.Lit("-c")), template.New(template.Hole("output"))}
	env := map[string]template.Template{
		"Z": template.New(template.Lit("last")),
		"A": template.New(template.Lit("first")),
	}

	resolveArtifact := func(id.ID) (string, error) { return "unused", nil }
	resolvePlaceholder := func(name string) (string, error) {
		if name == "output" {
			return "/work/output", nil
		}
		return "", nil
	}

	got, err := RenderEnvironment(exe, args, env, resolveArtifact, resolvePlaceholder)
	if err != nil {
		t.Fatalf("RenderEnvironment: %v", err)
	}
	if got.Executable != "/bin/sh" {
		t.Fatalf("executable = %q", got.Executable)
	}
	if len(got.Args) != 2 || got.Args[1] != "/work/output" {
		t.Fatalf("args = %v", got.Args)
	}
	if len(got.Env) != 2 || got.Env[0] != "A=first" || got.Env[1] != "Z=last" {
		t.Fatalf("env not sorted/resolved: %v", got.Env)
	}
}

func TestRenderEnvironmentPropagatesPlaceholderError(t *testing.T) {
	exe := template.New(template.Hole("nonsense"))
	resolveArtifact := func(id.ID) (string, error) { return "", nil }
	resolvePlaceholder := func(string) (string, error) { return "", errors.New("unresolved") }

	_, err := RenderEnvironment(exe, nil, nil, resolveArtifact, resolvePlaceholder)
	if err == nil {
		t.Fatal("expected an error from an unresolved placeholder")
	}
}
