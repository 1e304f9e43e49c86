// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package completion

import (
	"sort"
	"strings"

	"github.com/mcpanel/mcpanel/protocol"
)

// index is an immutable view of one command tree, built once per
// SetTree and shared by every concurrent Complete call.
type index struct {
	digest [32]byte
	tree   *protocol.CommandTree

	// roots holds root command names and aliases in lexicographic
	// order; lowered is the same list lowercased, index for index.
	roots   []string
	lowered []string

	// nodes maps a lowercased root name or alias to its node.
	nodes map[string]protocol.CommandNode
}

func newIndex(tree *protocol.CommandTree, digest [32]byte) *index {
	idx := &index{
		digest: digest,
		tree:   tree,
		nodes:  make(map[string]protocol.CommandNode, len(tree.Commands)),
	}
	for name, node := range tree.Commands {
		idx.add(name, node)
		for _, alias := range node.Aliases {
			idx.add(alias, node)
		}
	}
	sort.Strings(idx.roots)
	idx.lowered = make([]string, len(idx.roots))
	for i, root := range idx.roots {
		idx.lowered[i] = strings.ToLower(root)
	}
	return idx
}

func (idx *index) add(name string, node protocol.CommandNode) {
	if name == "" || strings.ContainsAny(name, " \t") {
		return
	}
	key := strings.ToLower(name)
	if _, exists := idx.nodes[key]; exists {
		return
	}
	idx.nodes[key] = node
	idx.roots = append(idx.roots, name)
}

// matchRoots filters a sorted name list by case-insensitive prefix.
func matchRoots(names []string, prefix string) []string {
	lowered := strings.ToLower(prefix)
	var matches []string
	for _, name := range names {
		if strings.HasPrefix(strings.ToLower(name), lowered) {
			matches = append(matches, name)
		}
	}
	return matches
}

// completeLine completes a line holding at least one complete word.
// Words before the last are walked through the tree: literals match
// case-insensitively, and an argument node accepts any word. The
// candidates are the current node's literal children and argument
// examples that extend the final partial word, each returned as the
// full line.
func (idx *index) completeLine(line string) []string {
	cut := strings.LastIndexAny(line, " \t") + 1
	head, partial := line[:cut], line[cut:]
	words := strings.Fields(head)
	if len(words) == 0 {
		return nil
	}

	node, ok := idx.nodes[strings.ToLower(words[0])]
	if !ok {
		return nil
	}
	for _, word := range words[1:] {
		node, ok = child(node, word)
		if !ok {
			return nil
		}
	}

	lowered := strings.ToLower(partial)
	seen := make(map[string]struct{})
	var candidates []string
	offer := func(candidate string) {
		if !strings.HasPrefix(strings.ToLower(candidate), lowered) {
			return
		}
		if _, dup := seen[candidate]; dup {
			return
		}
		seen[candidate] = struct{}{}
		candidates = append(candidates, head+candidate)
	}
	for name, next := range node.Children {
		if next.IsArgument() {
			for _, example := range next.Examples {
				offer(example)
			}
			continue
		}
		offer(name)
		for _, alias := range next.Aliases {
			offer(alias)
		}
	}
	sort.Strings(candidates)
	return candidates
}

// child descends one word. A literal match wins over an argument; of
// several argument children the first by name is taken.
func child(node protocol.CommandNode, word string) (protocol.CommandNode, bool) {
	lowered := strings.ToLower(word)
	var argumentNames []string
	for name, next := range node.Children {
		if next.IsArgument() {
			argumentNames = append(argumentNames, name)
			continue
		}
		if strings.ToLower(name) == lowered {
			return next, true
		}
		for _, alias := range next.Aliases {
			if strings.ToLower(alias) == lowered {
				return next, true
			}
		}
	}
	if len(argumentNames) == 0 {
		return protocol.CommandNode{}, false
	}
	sort.Strings(argumentNames)
	return node.Children[argumentNames[0]], true
}
