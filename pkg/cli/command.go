package cli

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/psaab/bbrd/pkg/backbone"
	"github.com/psaab/bbrd/pkg/ip6"
)

// Kind identifies a console command.
type Kind int

const (
	KindRole Kind = iota + 1
	KindListenerAdd
	KindListenerDel
	KindSubscribe
	KindUnsubscribe
	KindShowRole
	KindShowMFC
	KindShowListeners
	KindShowEvents
	KindShowSubscriptions
	KindHelp
	KindExit
)

func (k Kind) String() string {
	switch k {
	case KindRole:
		return "role"
	case KindListenerAdd:
		return "listener add"
	case KindListenerDel:
		return "listener del"
	case KindSubscribe:
		return "dnssd subscribe"
	case KindUnsubscribe:
		return "dnssd unsubscribe"
	case KindShowRole:
		return "show role"
	case KindShowMFC:
		return "show mfc"
	case KindShowListeners:
		return "show listeners"
	case KindShowEvents:
		return "show events"
	case KindShowSubscriptions:
		return "show dnssd"
	case KindHelp:
		return "help"
	case KindExit:
		return "exit"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// DefaultEventCount is the number of events shown by "show events".
const DefaultEventCount = 20

// Command is a parsed console line.
type Command struct {
	Kind  Kind
	Role  backbone.Role // KindRole
	Group netip.Addr    // KindListenerAdd, KindListenerDel
	Name  string        // KindSubscribe, KindUnsubscribe
	Count int           // KindShowEvents
}

var (
	// ErrEmpty is returned for a blank line.
	ErrEmpty = errors.New("empty command")
	// ErrSyntax is wrapped by every parse failure.
	ErrSyntax = errors.New("syntax error")
)

// ParseCommand parses one console line. Keywords may be abbreviated to any
// unique prefix.
func ParseCommand(line string) (Command, error) {
	words := strings.Fields(line)
	if len(words) == 0 {
		return Command{}, ErrEmpty
	}
	path, args, err := resolve(commandTree, words)
	if err != nil {
		return Command{}, err
	}

	var cmd Command
	switch path[0] {
	case "role":
		role, err := backbone.ParseRole(path[1])
		if err != nil {
			return Command{}, fmt.Errorf("%w: %w", ErrSyntax, err)
		}
		cmd = Command{Kind: KindRole, Role: role}
	case "listener":
		group, err := ip6.ParseMulticast(args[0])
		if err != nil {
			return Command{}, fmt.Errorf("%w: %w", ErrSyntax, err)
		}
		cmd = Command{Kind: KindListenerAdd, Group: group}
		if path[1] == "del" {
			cmd.Kind = KindListenerDel
		}
	case "dnssd":
		cmd = Command{Kind: KindSubscribe, Name: args[0]}
		if path[1] == "unsubscribe" {
			cmd.Kind = KindUnsubscribe
		}
	case "show":
		switch path[1] {
		case "role":
			cmd.Kind = KindShowRole
		case "mfc":
			cmd.Kind = KindShowMFC
		case "listeners":
			cmd.Kind = KindShowListeners
		case "dnssd":
			cmd.Kind = KindShowSubscriptions
		case "events":
			cmd = Command{Kind: KindShowEvents, Count: DefaultEventCount}
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return Command{}, fmt.Errorf("%w: invalid event count %q", ErrSyntax, args[0])
				}
				cmd.Count = n
			}
		}
	case "help":
		cmd.Kind = KindHelp
	case "exit", "quit":
		cmd.Kind = KindExit
	}
	return cmd, nil
}

// resolve walks tree along words, expanding abbreviated keywords. It
// returns the full keyword path and the trailing arguments of the leaf.
func resolve(tree map[string]*completionNode, words []string) (path, args []string, err error) {
	current := tree
	var node *completionNode
	i := 0
	for ; i < len(words) && current != nil; i++ {
		name, err := lookup(current, words[i])
		if err != nil {
			return nil, nil, err
		}
		path = append(path, name)
		node = current[name]
		current = node.Children
	}
	if current != nil {
		return nil, nil, fmt.Errorf("%w: incomplete command %q", ErrSyntax, strings.Join(path, " "))
	}

	args = words[i:]
	switch {
	case node.Arg == "" && len(args) > 0:
		return nil, nil, fmt.Errorf("%w: unexpected argument %q", ErrSyntax, args[0])
	case len(args) > 1:
		return nil, nil, fmt.Errorf("%w: unexpected argument %q", ErrSyntax, args[1])
	case node.Arg != "" && !node.optionalArg() && len(args) == 0:
		return nil, nil, fmt.Errorf("%w: %s requires %s", ErrSyntax, strings.Join(path, " "), node.Arg)
	}
	return path, args, nil
}

func lookup(tree map[string]*completionNode, word string) (string, error) {
	if _, ok := tree[word]; ok {
		return word, nil
	}
	var matches []string
	for name := range tree {
		if strings.HasPrefix(name, word) {
			matches = append(matches, name)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: unknown command %q", ErrSyntax, word)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: ambiguous command %q", ErrSyntax, word)
	}
}
