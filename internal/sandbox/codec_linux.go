//go:build linux

package sandbox

import "encoding/json"

// childSpec is the subset of Spec the reexec'd child needs, passed across
// the fork boundary via an environment variable (argv would leak the task's
// secrets into `ps`; an env var on a process only the parent and child ever
// see is the same tradeoff exec.Cmd.Env already makes for the task's own
// environment).
type childSpec struct {
	WorkDir    string
	OutputDir  string
	Executable string
	Args       []string
	Env        []string
	Network    bool
	HostPaths  []PathMount
}

func encodeChildSpec(s Spec) (string, error) {
	cs := childSpec{
		WorkDir:    s.WorkDir,
		OutputDir:  s.OutputDir,
		Executable: s.Executable,
		Args:       s.Args,
		Env:        s.Env,
		Network:    s.Network,
		HostPaths:  s.HostPaths,
	}
	b, err := json.Marshal(cs)
	return string(b), err
}

func decodeChildSpec(raw string) (childSpec, error) {
	var cs childSpec
	err := json.Unmarshal([]byte(raw), &cs)
	return cs, err
}
