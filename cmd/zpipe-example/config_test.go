// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/zpipe-go/zpipe/wire"
)

func writeConfig(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "zpipe.toml")
	if err := os.WriteFile(path, []byte(text), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

var formatOpt = cmp.Comparer(func(a, b wire.Format) bool { return a.Name() == b.Name() })

func TestLoadConfigDefaults(t *testing.T) {
	got, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: unexpected error: %v", err)
	}
	if diff := cmp.Diff(defaultConfig(), got, formatOpt); diff != "" {
		t.Errorf("Defaults (-want, +got):\n%s", diff)
	}
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
gateway = ["/usr/local/bin/zpipe", "-v"]
format = "legacy"
count = 5
class = "help"
log_level = "debug"

[[subscribe]]
class = "help"

[[subscribe]]
class = "message"
instance = "personal"
recipient = "alice@TEST"
`)
	got, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: unexpected error: %v", err)
	}
	want := defaultConfig()
	want.Gateway = []string{"/usr/local/bin/zpipe", "-v"}
	want.Format = wire.Legacy
	want.Count = 5
	want.Class = "help"
	want.LogLevel = "debug"
	want.Subs = []wire.Subscription{
		{Class: "help"},
		{Class: "message", Instance: "personal", Recipient: "alice@TEST"},
	}
	if diff := cmp.Diff(want, got, formatOpt, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Config (-want, +got):\n%s", diff)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name, text string
	}{
		{"Syntax", `gateway = [`},
		{"UnknownKey", `gatway = ["zpipe"]`},
		{"UnknownFormat", `format = "xml"`},
		{"EmptyGateway", `gateway = []`},
		{"NegativeCount", `count = -1`},
		{"NoClass", "[[subscribe]]\ninstance = \"x\""},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if cfg, err := loadConfig(writeConfig(t, test.text)); err == nil {
				t.Errorf("loadConfig: got %+v, want error", cfg)
			}
		})
	}
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("loadConfig of missing file: got nil error")
	}
}
