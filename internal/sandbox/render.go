package sandbox

import (
	"sort"

	"tangram/internal/template"
)

// RenderedEnvironment is a Task's executable/args/env templates resolved to
// plain strings, the same shape a sandbox.Spec needs to launch the process.
type RenderedEnvironment struct {
	Executable string
	Args       []string
	Env        []string
}

// RenderEnvironment resolves executable, args, and env against
// resolveArtifact/resolvePlaceholder, with Env in key-sorted order so the
// result is deterministic. This is the template-rendering half of the
// original's src/server/autoshell.rs (SPEC_FULL.md §C): autoshell
// additionally dropped the caller into an interactive shell sharing the
// task's resolved environment, which is out of scope here (interactive
// shells are CLI surface) — callers get the resolved command line and env
// back to use however they need, e.g. a debug surface showing a task's
// command line before dispatch, without running it.
func RenderEnvironment(
	executable template.Template,
	args []template.Template,
	env map[string]template.Template,
	resolveArtifact template.ArtifactRenderer,
	resolvePlaceholder template.PlaceholderRenderer,
) (RenderedEnvironment, error) {
	renderedExec, err := template.Render(executable, resolveArtifact, resolvePlaceholder)
	if err != nil {
		return RenderedEnvironment{}, err
	}

	renderedArgs := make([]string, len(args))
	for i, a := range args {
		v, err := template.Render(a, resolveArtifact, resolvePlaceholder)
		if err != nil {
			return RenderedEnvironment{}, err
		}
		renderedArgs[i] = v
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	renderedEnv := make([]string, 0, len(env))
	for _, k := range keys {
		v, err := template.Render(env[k], resolveArtifact, resolvePlaceholder)
		if err != nil {
			return RenderedEnvironment{}, err
		}
		renderedEnv = append(renderedEnv, k+"="+v)
	}

	return RenderedEnvironment{Executable: renderedExec, Args: renderedArgs, Env: renderedEnv}, nil
}
