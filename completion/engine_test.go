// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package completion

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/mcpanel/mcpanel/protocol"
	"github.com/mcpanel/mcpanel/transport"
)

func sampleTree() *protocol.CommandTree {
	return &protocol.CommandTree{Commands: map[string]protocol.CommandNode{
		"gamemode": {
			Description: "Change a player's game mode",
			Children: map[string]protocol.CommandNode{
				"survival":  {},
				"creative":  {},
				"adventure": {},
				"spectator": {},
			},
		},
		"gamerule": {Children: map[string]protocol.CommandNode{
			"keepInventory": {Children: map[string]protocol.CommandNode{
				"value": {Type: "bool", Examples: []string{"true", "false"}},
			}},
			"doDaylightCycle": {},
		}},
		"give": {Children: map[string]protocol.CommandNode{
			"target": {Type: "entity", Examples: []string{"@a", "@p"}, Children: map[string]protocol.CommandNode{
				"item": {Type: "item_stack", Examples: []string{"diamond", "dirt"}},
			}},
		}},
		"Say":  {Aliases: []string{"broadcast"}},
		"stop": {},
	}}
}

type recordingSender struct {
	requests []protocol.Request
	err      error
}

func (s *recordingSender) SendRequest(_ context.Context, _ string, request protocol.Request) error {
	s.requests = append(s.requests, request)
	return s.err
}

func TestCompleteWithoutTree(t *testing.T) {
	engine := NewEngine(Config{Server: "survival"})
	if got := engine.Complete("gam"); len(got) != 0 {
		t.Errorf("Complete = %v, want none before any tree", got)
	}
	if engine.HasTree() {
		t.Error("HasTree before SetTree")
	}
}

func TestCompleteRoots(t *testing.T) {
	engine := NewEngine(Config{Server: "survival"})
	engine.SetTree(sampleTree())

	tests := []struct {
		prefix string
		want   []string
	}{
		{"gam", []string{"gamemode", "gamerule"}},
		{"GAME", []string{"gamemode", "gamerule"}},
		{"/st", []string{"stop"}},
		{"s", []string{"Say", "stop"}},
		{"broad", []string{"broadcast"}},
		{"xyz", nil},
		{"", []string{"Say", "broadcast", "gamemode", "gamerule", "give", "stop"}},
	}
	for _, test := range tests {
		if got := engine.Complete(test.prefix); !reflect.DeepEqual(got, test.want) {
			t.Errorf("Complete(%q) = %v, want %v", test.prefix, got, test.want)
		}
	}
}

func TestCompleteNested(t *testing.T) {
	engine := NewEngine(Config{Server: "survival"})
	engine.SetTree(sampleTree())

	tests := []struct {
		prefix string
		want   []string
	}{
		{"gamemode s", []string{"gamemode spectator", "gamemode survival"}},
		{"GAMEMODE C", []string{"GAMEMODE creative"}},
		{"gamerule keepinventory ", []string{"gamerule keepinventory false", "gamerule keepinventory true"}},
		{"give Steve d", []string{"give Steve diamond", "give Steve dirt"}},
		{"give ", []string{"give @a", "give @p"}},
		{"broadcast hello", nil},
		{"unknown x", nil},
	}
	for _, test := range tests {
		if got := engine.Complete(test.prefix); !reflect.DeepEqual(got, test.want) {
			t.Errorf("Complete(%q) = %v, want %v", test.prefix, got, test.want)
		}
	}
}

func TestSetTreeReplacesWholesale(t *testing.T) {
	engine := NewEngine(Config{Server: "survival"})
	engine.SetTree(sampleTree())
	first := engine.Digest()

	engine.SetTree(sampleTree())
	if engine.Digest() != first {
		t.Error("identical tree changed the digest")
	}

	engine.SetTree(&protocol.CommandTree{Commands: map[string]protocol.CommandNode{"help": {}}})
	if got := engine.Complete("gam"); len(got) != 0 {
		t.Errorf("old tree still answered: %v", got)
	}
	if got := engine.Complete("he"); !reflect.DeepEqual(got, []string{"help"}) {
		t.Errorf("Complete(he) = %v", got)
	}
	if engine.Digest() == first {
		t.Error("digest did not change with the tree")
	}
}

func TestCacheFallback(t *testing.T) {
	directory := t.TempDir()
	first := NewEngine(Config{Server: "survival", CacheDirectory: directory})
	first.SetTree(sampleTree())

	second := NewEngine(Config{Server: "survival", CacheDirectory: directory})
	if second.HasTree() {
		t.Fatal("cache must not count as a received tree")
	}
	if got := second.Complete("gam"); !reflect.DeepEqual(got, []string{"gamemode", "gamerule"}) {
		t.Errorf("fallback Complete = %v", got)
	}
	if got := second.Complete("gamemode s"); got != nil {
		t.Errorf("nested completion from fallback = %v, want nil", got)
	}

	other := NewEngine(Config{Server: "creative", CacheDirectory: directory})
	if got := other.Complete("gam"); len(got) != 0 {
		t.Errorf("cache leaked across servers: %v", got)
	}
}

func TestFetchTreeSendsRequest(t *testing.T) {
	sender := &recordingSender{}
	engine := NewEngine(Config{Server: "survival", Sender: sender})
	if err := engine.FetchTree(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(sender.requests) != 1 || sender.requests[0].Type != protocol.RequestCommands {
		t.Fatalf("requests = %+v", sender.requests)
	}

	sender.err = errors.New("not connected")
	if err := engine.FetchTree(context.Background()); err == nil {
		t.Error("FetchTree swallowed the send error")
	}
	if err := NewEngine(Config{Server: "survival"}).FetchTree(context.Background()); err == nil {
		t.Error("FetchTree without a sender succeeded")
	}
}

func TestLoadDump(t *testing.T) {
	memory := transport.NewMemory()
	dump := []byte(`{
		// written by the bridge plugin
		"commands": {
			"whitelist": {"children": {"add": {}, "remove": {}}},
			"weather": {},
		},
	}`)
	memory.SetOutput("survival", "cat '/srv/mc/plugins/MCPanelBridge/commands.json'", dump)

	engine := NewEngine(Config{Server: "survival"})
	if err := engine.LoadDump(context.Background(), memory, "/srv/mc"); err != nil {
		t.Fatal(err)
	}
	if got := engine.Complete("w"); !reflect.DeepEqual(got, []string{"weather", "whitelist"}) {
		t.Errorf("Complete(w) = %v", got)
	}
	if got := engine.Complete("whitelist r"); !reflect.DeepEqual(got, []string{"whitelist remove"}) {
		t.Errorf("Complete(whitelist r) = %v", got)
	}
}

func TestParseDumpRejectsInvalid(t *testing.T) {
	for _, input := range []string{`not json`, `{}`, `{"commands": {"two words": {}}}`} {
		if _, err := ParseDump([]byte(input)); err == nil {
			t.Errorf("ParseDump(%q) succeeded", input)
		}
	}
}
