package commands

import (
	"fmt"
	"strings"
)

func (r *Router) helpText(prefix string, args []string) string {
	if prefix == "" {
		prefix = r.Prefix()
	}
	r.mu.RLock()
	root, alias := r.root, r.alias
	r.mu.RUnlock()

	if len(args) > 0 {
		node, n := root.match(args)
		if n == 0 {
			if a, ok := alias[strings.ToLower(args[0])]; ok {
				node, n = a, 1
			}
		}
		if n == 0 {
			return fmt.Sprintf("No command named %q. Try %shelp", strings.Join(args, " "), prefix)
		}
		if node.cmd == nil {
			return r.groupHelp(prefix, node, strings.Join(args[:n], " "))
		}
		return describe(prefix, node.cmd)
	}

	var b strings.Builder
	b.WriteString("Commands:\n")
	root.walk(func(c *Command) {
		fmt.Fprintf(&b, "%s%s - %s\n", prefix, c.Route, c.Description)
	})
	fmt.Fprintf(&b, "\nUse %shelp <command> for details.", prefix)
	return b.String()
}

func (r *Router) groupHelp(prefix string, node *cmdNode, path string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s%s commands:\n", prefix, path)
	node.walk(func(c *Command) {
		fmt.Fprintf(&b, "%s%s - %s\n", prefix, c.Route, c.Description)
	})
	return strings.TrimRight(b.String(), "\n")
}

func describe(prefix string, c *Command) string {
	var b strings.Builder
	b.WriteString(prefix + c.Route)
	if len(c.Aliases) > 0 {
		b.WriteString(" (" + strings.Join(c.Aliases, ", ") + ")")
	}
	b.WriteString("\n" + c.Description)
	if c.Usage != "" {
		b.WriteString("\nUsage: " + prefix + c.Usage)
	}
	if c.Access == AccessAdmin {
		b.WriteString("\nAdmins only.")
	}
	return b.String()
}
