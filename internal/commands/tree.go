package commands

import (
	"sort"
	"strings"
)

type cmdNode struct {
	name     string
	cmd      *Command
	children map[string]*cmdNode
}

func newRoot() *cmdNode {
	return &cmdNode{children: map[string]*cmdNode{}}
}

func splitRoute(route string) []string {
	return strings.Fields(strings.ToLower(strings.TrimSpace(route)))
}

func (r *cmdNode) add(route []string, c Command) *cmdNode {
	cur := r
	for _, tok := range route {
		n, ok := cur.children[tok]
		if !ok {
			n = &cmdNode{name: tok, children: map[string]*cmdNode{}}
			cur.children[tok] = n
		}
		cur = n
	}
	cur.cmd = &c
	return cur
}

// match walks as deep as tokens allow and returns the node reached and how
// many tokens it consumed.
func (r *cmdNode) match(tokens []string) (*cmdNode, int) {
	cur, n := r, 0
	for _, tok := range tokens {
		next, ok := cur.children[strings.ToLower(tok)]
		if !ok {
			break
		}
		cur = next
		n++
	}
	return cur, n
}

func (r *cmdNode) childNames() []string {
	out := make([]string, 0, len(r.children))
	for k := range r.children {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// walk visits every command below r in route order.
func (r *cmdNode) walk(fn func(c *Command)) {
	if r.cmd != nil {
		fn(r.cmd)
	}
	for _, name := range r.childNames() {
		r.children[name].walk(fn)
	}
}
