package evaluator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"tangram/internal/artifact"
	"tangram/internal/checksum"
	"tangram/internal/id"
	"tangram/internal/object"
	"tangram/internal/sandbox"
	"tangram/internal/template"
	"tangram/internal/terror"
	"tangram/internal/value"
)

// evaluateTask dispatches a Task operation (spec §4.4 case 3): render its
// templates, check out referenced artifacts, run the process under the
// platform sandbox, and check the output directory back in.
func (e *Evaluator) evaluateTask(ctx context.Context, t object.Task, b *logBuilder) (value.Value, []id.ID, error) {
	system := t.System
	if system == "" {
		system = e.cfg.Sandbox.DefaultSystem
	}

	workDir, err := os.MkdirTemp(e.cfg.Paths().Temps, "task-work-*")
	if err != nil {
		return value.Value{}, nil, terror.Wrap(terror.IO, err, "create scratch work dir")
	}
	defer os.RemoveAll(workDir)

	outputDir := filepath.Join(workDir, "output")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return value.Value{}, nil, terror.Wrap(terror.IO, err, "create output dir")
	}

	artifactsDir := e.cfg.Paths().Artifacts
	checkedOut := map[id.ID]bool{}
	var hostPaths []sandbox.PathMount

	renderArtifact := func(a id.ID) (string, error) {
		path, err := artifact.CheckOut(ctx, e.store, artifactsDir, a)
		if err != nil {
			return "", err
		}
		if !checkedOut[a] {
			checkedOut[a] = true
			hostPaths = append(hostPaths, sandbox.PathMount{HostPath: path, Mode: sandbox.Read})
		}
		return path, nil
	}
	renderPlaceholder := func(name string) (string, error) {
		if name == "output" {
			return outputDir, nil
		}
		return "", terror.New(terror.Invalid, "task: unresolved placeholder %q", name)
	}

	rendered, err := sandbox.RenderEnvironment(t.Executable, t.Args, t.Env, renderArtifact, renderPlaceholder)
	if err != nil {
		return value.Value{}, nil, err
	}
	executable := rendered.Executable
	args := rendered.Args

	env := make([]string, 0, len(rendered.Env)+3)
	env = append(env, rendered.Env...)
	env = append(env, "HOME="+workDir)
	env = append(env, "TANGRAM_PLACEHOLDER_OUTPUT="+outputDir)
	env = append(env, "TANGRAM_SOCKET="+e.cfg.Paths().Lock)

	for _, p := range t.HostPaths {
		hostPaths = append(hostPaths, sandbox.PathMount{HostPath: p, Mode: sandbox.ReadWrite})
	}
	hostPaths = append(hostPaths, sandbox.PathMount{HostPath: outputDir, Mode: sandbox.ReadWriteCreate})

	network := t.Network || e.cfg.Sandbox.AllowNetworkOverride

	b.appendLine(fmt.Sprintf("exec %s %v", executable, args))

	result, err := e.sandbox.Run(ctx, sandbox.Spec{
		System:     system,
		Executable: executable,
		Args:       args,
		Env:        env,
		WorkDir:    workDir,
		OutputDir:  outputDir,
		Network:    network,
		HostPaths:  hostPaths,
	})
	if err != nil {
		// Incomplete is the only tolerable sandbox degradation (spec
		// §4.6.1/§7): the process still ran, so result is meaningful.
		// Task.Unsafe never factors in here — it governs checksum/network
		// policy (spec §3), not sandbox tolerance — and any other error
		// (including a total launch failure) is always fatal.
		if inc, ok := sandbox.IsIncomplete(err); ok {
			e.log.Warn("sandbox incomplete, proceeding", zap.String("path", inc.Path), zap.Error(inc.Cause))
			b.appendLine("sandbox incomplete: " + inc.Error())
		} else {
			return value.Value{}, nil, err
		}
	}
	if result.ExitCode != 0 {
		return value.Value{}, nil, terror.New(terror.Invalid, "task exited with status %d", result.ExitCode)
	}

	outputID, err := artifact.CheckIn(ctx, e.store, outputDir)
	if err != nil {
		return value.Value{}, nil, err
	}

	if t.Checksum != nil {
		if err := verifyArtifactChecksum(ctx, e, outputID, *t.Checksum); err != nil {
			return value.Value{}, nil, err
		}
	}

	return value.NewArtifact(outputID), nil, nil
}

func verifyArtifactChecksum(ctx context.Context, e *Evaluator, artifactID id.ID, want checksum.Checksum) error {
	obj, err := e.store.GetObject(ctx, artifactID)
	if err != nil {
		return err
	}
	if _, ok := obj.(object.File); !ok {
		return terror.New(terror.ChecksumMismatch, "task output %s: checksum requires a single file output", artifactID)
	}
	data, err := readFileArtifact(ctx, e.store, artifactID)
	if err != nil {
		return err
	}
	w, err := checksum.NewWriter(want.Algorithm, nil)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if err := w.Verify(want); err != nil {
		return terror.Wrap(terror.ChecksumMismatch, err, "task output %s", artifactID)
	}
	return nil
}

// taskFromValue converts a script-constructed task spec (spec §4.5.4
// task_new) into an object.Task.
func taskFromValue(spec value.Value) (object.Task, error) {
	if spec.Kind() != value.Map {
		return object.Task{}, terror.New(terror.Invalid, "task_new: argument is not an object")
	}
	m := spec.Map()

	executable, err := requireTemplate(m, "executable")
	if err != nil {
		return object.Task{}, err
	}

	env := map[string]template.Template{}
	if e, ok := m["env"]; ok && e.Kind() == value.Map {
		for k, v := range e.Map() {
			if v.Kind() != value.Template {
				return object.Task{}, terror.New(terror.Invalid, "task_new: env[%q] is not a template", k)
			}
			env[k] = v.TemplateValue()
		}
	}

	var args []template.Template
	if a, ok := m["args"]; ok {
		for _, v := range a.Array() {
			if v.Kind() != value.Template {
				return object.Task{}, terror.New(terror.Invalid, "task_new: args element is not a template")
			}
			args = append(args, v.TemplateValue())
		}
	}

	var sum *checksum.Checksum
	if c, ok := m["checksum"]; ok && c.Kind() == value.String {
		parsed, err := checksum.Parse(c.String())
		if err != nil {
			return object.Task{}, terror.Wrap(terror.Invalid, err, "task_new: checksum")
		}
		sum = &parsed
	}

	var hostPaths []string
	if hp, ok := m["host_paths"]; ok {
		for _, v := range hp.Array() {
			hostPaths = append(hostPaths, v.String())
		}
	}

	system := ""
	if s, ok := m["system"]; ok {
		system = s.String()
	}

	return object.Task{
		System:     system,
		Executable: executable,
		Env:        env,
		Args:       args,
		Checksum:   sum,
		Unsafe:     boolField(m, "unsafe"),
		Network:    boolField(m, "network"),
		HostPaths:  hostPaths,
	}, nil
}

func requireTemplate(m map[string]value.Value, key string) (template.Template, error) {
	v, ok := m[key]
	if !ok || v.Kind() != value.Template {
		return template.Template{}, terror.New(terror.Invalid, "task_new: %q must be a template", key)
	}
	return v.TemplateValue(), nil
}

func boolField(m map[string]value.Value, key string) bool {
	v, ok := m[key]
	if !ok {
		return false
	}
	return v.Bool()
}
