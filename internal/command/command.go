// Package command turns a line of input into a typed command.
package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/amirbrooks/tasker/internal/store"
)

var (
	ErrUnknownCommand   = errors.New("unknown command")
	ErrInvalidArguments = errors.New("invalid arguments")
	ErrUnknownFilter    = errors.New("unknown list filter")
)

type Kind int

const (
	Unknown Kind = iota
	Add
	Delete
	Update
	MarkInProgress
	MarkDone
	List
	Help
	Exit
)

var kindNames = map[Kind]string{
	Unknown:        "unknown",
	Add:            "add",
	Delete:         "delete",
	Update:         "update",
	MarkInProgress: "mark-in-progress",
	MarkDone:       "mark-done",
	List:           "list",
	Help:           "help",
	Exit:           "exit",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Filter selects which tasks a list shows.
type Filter string

const (
	FilterAll        Filter = "all"
	FilterTodo       Filter = "todo"
	FilterInProgress Filter = "in-progress"
	FilterDone       Filter = "done"
)

// Status returns the status the filter keeps; "" for FilterAll.
func (f Filter) Status() store.Status {
	switch f {
	case FilterTodo:
		return store.StatusTodo
	case FilterInProgress:
		return store.StatusInProgress
	case FilterDone:
		return store.StatusDone
	default:
		return ""
	}
}

func ParseFilter(s string) (Filter, error) {
	switch Filter(s) {
	case "", FilterAll:
		return FilterAll, nil
	case FilterTodo, FilterInProgress, FilterDone:
		return Filter(s), nil
	default:
		return "", ErrUnknownFilter
	}
}

type Command struct {
	Kind        Kind
	Name        string
	ID          string
	Description string
	Filter      Filter
}

// ArgError reports a command whose arguments don't fit its shape.
type ArgError struct {
	Command string
}

func (e *ArgError) Error() string {
	return fmt.Sprintf("Incorrect arguments for %q command.", e.Command)
}

func (e *ArgError) Is(target error) bool {
	return target == ErrInvalidArguments
}

// Error wraps the parse sentinels with the message shown to the user.
type Error struct {
	Err   error
	Input string
}

func (e *Error) Error() string {
	switch {
	case errors.Is(e.Err, ErrUnknownFilter):
		return "Unknown list filter."
	default:
		return "Wrong command. Please, try again."
	}
}

func (e *Error) Unwrap() error { return e.Err }

type Options struct {
	// StableIDs also treats UID-looking tokens as identifiers.
	StableIDs bool
}

// ParseLine tokenizes and parses one line of input.
func ParseLine(line string, opts Options) (Command, error) {
	return Parse(Tokenize(line), opts)
}

// Parse maps tokens to a Command. With two tokens the second is an identifier
// when it parses as an integer and a description otherwise; with three tokens
// it is always identifier then description.
func Parse(tokens []string, opts Options) (Command, error) {
	if len(tokens) == 0 || len(tokens) > 3 {
		return Command{}, &Error{Err: ErrUnknownCommand, Input: strings.Join(tokens, " ")}
	}
	cmd := Command{Name: strings.ToLower(tokens[0])}
	switch len(tokens) {
	case 2:
		if isIdentifier(tokens[1], opts) {
			cmd.ID = tokens[1]
		} else {
			cmd.Description = tokens[1]
		}
	case 3:
		cmd.ID = tokens[1]
		cmd.Description = tokens[2]
	}

	switch cmd.Name {
	case "add":
		cmd.Kind = Add
		if cmd.Description == "" {
			return cmd, &ArgError{Command: cmd.Name}
		}
	case "delete":
		cmd.Kind = Delete
		if cmd.ID == "" {
			return cmd, &ArgError{Command: cmd.Name}
		}
	case "update":
		cmd.Kind = Update
		if cmd.ID == "" || cmd.Description == "" {
			return cmd, &ArgError{Command: cmd.Name}
		}
	case "mark-in-progress":
		cmd.Kind = MarkInProgress
		if cmd.ID == "" {
			return cmd, &ArgError{Command: cmd.Name}
		}
	case "mark-done":
		cmd.Kind = MarkDone
		if cmd.ID == "" {
			return cmd, &ArgError{Command: cmd.Name}
		}
	case "list":
		cmd.Kind = List
		token := cmd.Description
		if len(tokens) == 2 && cmd.ID != "" {
			token = cmd.ID
		}
		f, err := ParseFilter(token)
		if err != nil {
			return cmd, &Error{Err: err, Input: token}
		}
		cmd.Filter = f
	case "help":
		cmd.Kind = Help
		if len(tokens) > 1 {
			return Command{Name: cmd.Name}, &Error{Err: ErrUnknownCommand, Input: strings.Join(tokens, " ")}
		}
	case "exit", "quit":
		cmd.Kind = Exit
		if len(tokens) > 1 {
			return Command{Name: cmd.Name}, &Error{Err: ErrUnknownCommand, Input: strings.Join(tokens, " ")}
		}
	default:
		return Command{Name: cmd.Name}, &Error{Err: ErrUnknownCommand, Input: strings.Join(tokens, " ")}
	}
	return cmd, nil
}

func isIdentifier(token string, opts Options) bool {
	if _, err := strconv.Atoi(token); err == nil {
		return true
	}
	return opts.StableIDs && store.LooksLikeUID(token)
}
