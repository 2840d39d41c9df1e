package main

import (
	"testing"
)

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	want := []string{"serve", "proxy", "status", "start", "stop", "toggle", "summarize", "open", "watch", "credential", "config", "version"}
	have := map[string]bool{}
	for _, cmd := range root.Commands() {
		have[cmd.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Fatalf("expected root command to include %s", name)
		}
	}
}

func TestProxyHasHashKey(t *testing.T) {
	proxy := newProxyCmd()
	found := false
	for _, cmd := range proxy.Commands() {
		if cmd.Name() == "hash-key" {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected proxy command to include hash-key")
	}
}
