package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// completionNode is one keyword of the command tree.
type completionNode struct {
	Desc     string
	Children map[string]*completionNode
	Arg      string // free-form argument taken by a leaf, "[x]" when optional
}

func (n *completionNode) optionalArg() bool {
	return strings.HasPrefix(n.Arg, "[")
}

var commandTree = map[string]*completionNode{
	"role": {Desc: "Set the Backbone router role", Children: map[string]*completionNode{
		"disabled":  {Desc: "Backbone function off"},
		"secondary": {Desc: "Operational, not forwarding"},
		"primary":   {Desc: "Forward multicast between Thread and Backbone"},
	}},
	"listener": {Desc: "Change the multicast listener table", Children: map[string]*completionNode{
		"add": {Desc: "Register a listener group", Arg: "<group>"},
		"del": {Desc: "Remove a listener group", Arg: "<group>"},
	}},
	"dnssd": {Desc: "Manage DNS-SD subscriptions", Children: map[string]*completionNode{
		"subscribe":   {Desc: "Subscribe to a service type or instance", Arg: "<name>"},
		"unsubscribe": {Desc: "Drop a subscription", Arg: "<name>"},
	}},
	"show": {Desc: "Show information", Children: map[string]*completionNode{
		"role":      {Desc: "Current role and forwarding state"},
		"mfc":       {Desc: "Multicast forwarding cache"},
		"listeners": {Desc: "Multicast listener table"},
		"events":    {Desc: "Recent forwarding events", Arg: "[count]"},
		"dnssd":     {Desc: "DNS-SD subscriptions"},
	}},
	"help": {Desc: "Show available commands"},
	"exit": {Desc: "Exit console"},
	"quit": {Desc: "Exit console"},
}

// completionCandidate holds a command name and its description.
type completionCandidate struct {
	name string
	desc string
}

// completeFromTree returns the keywords that may follow words and start
// with partial. A leaf taking an argument yields its placeholder.
func completeFromTree(tree map[string]*completionNode, words []string, partial string) []completionCandidate {
	current := tree
	var node *completionNode
	for _, w := range words {
		if current == nil {
			return nil
		}
		name, err := lookup(current, w)
		if err != nil {
			return nil
		}
		node = current[name]
		current = node.Children
	}
	if current == nil {
		if node != nil && node.Arg != "" && partial == "" && len(words) > 0 {
			return []completionCandidate{{name: node.Arg, desc: node.Desc}}
		}
		return nil
	}

	var candidates []completionCandidate
	for name, n := range current {
		if strings.HasPrefix(name, partial) {
			candidates = append(candidates, completionCandidate{name: name, desc: n.Desc})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].name < candidates[j].name })
	return candidates
}

// splitPartial splits the text before the cursor into complete words and
// the word being typed.
func splitPartial(text string) (words []string, partial string) {
	words = strings.Fields(text)
	if len(words) > 0 && !strings.HasSuffix(text, " ") {
		partial = words[len(words)-1]
		words = words[:len(words)-1]
	}
	return words, partial
}

// completer implements readline.AutoCompleter over commandTree.
type completer struct{}

func (completer) Do(line []rune, pos int) ([][]rune, int) {
	words, partial := splitPartial(string(line[:pos]))
	var out [][]rune
	for _, c := range completeFromTree(commandTree, words, partial) {
		if strings.HasPrefix(c.name, "<") || strings.HasPrefix(c.name, "[") {
			continue
		}
		out = append(out, []rune(c.name[len(partial):]+" "))
	}
	return out, len([]rune(partial))
}

// writeCompletionHelp prints aligned completion candidates to w.
func writeCompletionHelp(w io.Writer, candidates []completionCandidate) {
	maxWidth := 20
	for _, c := range candidates {
		if len(c.name)+2 > maxWidth {
			maxWidth = len(c.name) + 2
		}
	}
	fmt.Fprintln(w, "Possible completions:")
	for _, c := range candidates {
		if c.desc != "" {
			fmt.Fprintf(w, "  %-*s %s\n", maxWidth, c.name, c.desc)
		} else {
			fmt.Fprintf(w, "  %s\n", c.name)
		}
	}
}
