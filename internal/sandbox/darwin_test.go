//go:build darwin

package sandbox

import (
	"strings"
	"testing"
)

func TestTinySchemeStringEscaping(t *testing.T) {
	cases := map[string]string{
		"abc":        `"abc"`,
		`a"b`:        `"a\"b"`,
		"a\\b":       `"a\\b"`,
		"a\tb\n":     `"a\tb\n"`,
		"\x01":       `"\x01"`,
		"/Users/x y": `"/Users/x y"`,
	}
	for in, want := range cases {
		if got := tinySchemeString(in); got != want {
			t.Errorf("tinySchemeString(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestBuildProfileDeniesNetworkByDefault(t *testing.T) {
	profile := buildProfile(Spec{OutputDir: "/tmp/out"})
	if !strings.Contains(profile, "(deny network*)") {
		t.Fatal("expected profile to deny network by default")
	}
	if !strings.Contains(profile, `(allow file-write* (subpath "/tmp/out"))`) {
		t.Fatal("expected profile to allow write access to the output dir")
	}
}

func TestBuildProfileAllowsNetworkWhenRequested(t *testing.T) {
	profile := buildProfile(Spec{Network: true})
	if !strings.Contains(profile, "(allow network*)") {
		t.Fatal("expected profile to allow network")
	}
}
