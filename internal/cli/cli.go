package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/amirbrooks/tasker/internal/command"
	"github.com/amirbrooks/tasker/internal/config"
	"github.com/amirbrooks/tasker/internal/logging"
	"github.com/amirbrooks/tasker/internal/render"
	"github.com/amirbrooks/tasker/internal/store"
)

// Exit codes
const (
	ExitOK       = 0
	ExitUsage    = 2
	ExitNotFound = 3
	ExitConflict = 4
	ExitInternal = 10
)

type GlobalFlags struct {
	Root      string
	File      string
	Config    string
	Color     string
	StableIDs bool
	KeepGoing bool
	NoHistory bool
	Quiet     bool
	Verbose   bool
	Help      bool
}

// App holds the process streams so sessions can be driven from tests.
type App struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Getenv func(string) string
}

func Run(args []string) int {
	app := &App{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr, Getenv: os.Getenv}
	return app.Run(args)
}

func (a *App) Run(args []string) int {
	gf, rest, err := extractGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(a.Stderr, "tasker:", err)
		return ExitUsage
	}
	if gf.Help {
		printHelp(a.Stdout)
		return ExitOK
	}

	cfg, err := config.Load(config.LoadOptions{Root: gf.Root, File: gf.Config, Getenv: a.Getenv})
	if err != nil {
		fmt.Fprintln(a.Stderr, "tasker:", err)
		return ExitUsage
	}
	if err := applyFlags(cfg, gf); err != nil {
		fmt.Fprintln(a.Stderr, "tasker:", err)
		return ExitUsage
	}
	if err := cfg.Finalize(); err != nil {
		fmt.Fprintln(a.Stderr, "tasker:", err)
		return ExitUsage
	}

	logger := logging.New(a.Stderr, logging.Options{Level: cfg.Log.Level})
	logger.Debug("config resolved",
		"root", cfg.Root,
		"source", cfg.Source,
		"store", cfg.Store.Path,
		"stable_ids", cfg.Store.StableIDs,
		"color", cfg.UI.Color,
	)

	s, err := store.Open(cfg.Store.Path, store.Options{StableIDs: cfg.Store.StableIDs, Logger: logger})
	if err != nil {
		fmt.Fprintln(a.Stderr, "Error:", err)
		return ExitInternal
	}
	logger.Debug("store opened", "path", s.Path(), "stable_ids", s.StableIDs())

	sess := &session{
		store:     s,
		out:       a.Stdout,
		errOut:    a.Stderr,
		logger:    logger,
		keepGoing: cfg.REPL.ContinueOnError,
		parseOpts: command.Options{StableIDs: s.StableIDs()},
		renderOpts: render.Options{
			Profile: colorProfile(cfg.UI.Color, a.Stdout),
			ShowUID: s.StableIDs(),
		},
	}

	if len(rest) > 0 {
		return sess.runOnce(rest)
	}

	r := a.newLineReader(cfg)
	defer func() {
		if err := r.Close(); err != nil {
			logger.Warn("closing line reader", "err", err)
		}
	}()
	return sess.repl(r, cfg.UI.Prompt)
}

// applyFlags layers command-line values over cfg. A relative --file is
// taken from the working directory, like any other command-line path.
func applyFlags(cfg *config.Config, gf GlobalFlags) error {
	if gf.File != "" {
		path, err := config.AbsFromCwd(gf.File)
		if err != nil {
			return fmt.Errorf("--file: %w", err)
		}
		cfg.Store.Path = path
	}
	if gf.StableIDs {
		cfg.Store.StableIDs = true
	}
	if gf.Color != "" {
		cfg.UI.Color = gf.Color
	}
	if gf.KeepGoing {
		cfg.REPL.ContinueOnError = true
	}
	if gf.NoHistory {
		cfg.UI.History = false
	}
	switch {
	case gf.Verbose:
		cfg.Log.Level = "debug"
	case gf.Quiet:
		cfg.Log.Level = "error"
	}
	return nil
}

func printHelp(w io.Writer) {
	fmt.Fprint(w, `tasker - track tasks from the terminal

Usage:
  tasker [global flags]                   start an interactive session
  tasker [global flags] <command> [args]  run one command and exit

Global flags:
  --root <path>     Data directory (default: ~/.tasker or TASKER_ROOT)
  --file <path>     Task file (default: <root>/user_tasks.json or TASKER_FILE)
                    relative to the working directory; store.path in a
                    config file is relative to <root>
  --config <path>   Config file (default: <root>/config.yaml|.yml|.toml or TASKER_CONFIG)
  --stable-ids      Give tasks a stable uid and accept uid prefixes as ids
  --color <mode>    auto|always|never
  --no-color        Same as --color never
  --keep-going      Report failed commands and keep the session open
  --no-history      Don't read or write the prompt history file
  --quiet
  --verbose
  --help

`)
	printCommands(w)
}

func printCommands(w io.Writer) {
	fmt.Fprint(w, `Available commands:
  1. add "task description"
  2. delete <id>
  3. update <id> "new task description"
  4. mark-in-progress <id>
  5. mark-done <id>
  6. list [all|done|in-progress|todo]
  7. exit / quit
`)
}

func extractGlobalFlags(args []string) (GlobalFlags, []string, error) {
	// Globals come before the command; everything from the first
	// non-flag argument on belongs to the command.
	gf := GlobalFlags{}

	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			return gf, args[i+1:], nil
		}
		if !strings.HasPrefix(a, "-") {
			return gf, args[i:], nil
		}
		name, value, hasValue := strings.Cut(a, "=")
		switch name {
		case "--root", "--file", "--config", "--color":
			if !hasValue {
				if i+1 >= len(args) {
					return gf, nil, fmt.Errorf("%s requires a value", name)
				}
				value = args[i+1]
				i++
			}
			switch name {
			case "--root":
				gf.Root = value
			case "--file":
				gf.File = value
			case "--config":
				gf.Config = value
			case "--color":
				gf.Color = value
			}
			continue
		}
		if hasValue {
			return gf, nil, fmt.Errorf("%s does not take a value", name)
		}
		switch name {
		case "--stable-ids":
			gf.StableIDs = true
		case "--no-color":
			gf.Color = config.ColorNever
		case "--keep-going":
			gf.KeepGoing = true
		case "--no-history":
			gf.NoHistory = true
		case "--quiet", "-q":
			gf.Quiet = true
		case "--verbose", "-v":
			gf.Verbose = true
		case "--help", "-h":
			gf.Help = true
		default:
			return gf, nil, fmt.Errorf("unknown flag %s", a)
		}
	}

	if gf.Quiet && gf.Verbose {
		return gf, nil, errors.New("--quiet and --verbose are mutually exclusive")
	}
	return gf, nil, nil
}

func exitCodeForError(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, command.ErrInvalidArguments),
		errors.Is(err, command.ErrUnknownFilter),
		errors.Is(err, command.ErrUnknownCommand):
		return ExitUsage
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrEmptyStore):
		return ExitNotFound
	case errors.Is(err, store.ErrConflict):
		return ExitConflict
	default:
		return ExitInternal
	}
}

type session struct {
	store      *store.Store
	out        io.Writer
	errOut     io.Writer
	logger     *log.Logger
	keepGoing  bool
	parseOpts  command.Options
	renderOpts render.Options
}

// runOnce executes a single command taken from the process arguments. The
// shell has already split them, so they skip the tokenizer.
func (s *session) runOnce(args []string) int {
	cmd, err := command.Parse(args, s.parseOpts)
	if err == nil {
		err = s.execute(cmd)
	}
	if err != nil {
		s.printError(err)
		return exitCodeForError(err)
	}
	return ExitOK
}

func (s *session) execute(cmd command.Command) error {
	s.logger.Debug("executing", "command", cmd.Kind, "id", cmd.ID, "filter", cmd.Filter)
	switch cmd.Kind {
	case command.Add:
		_, err := s.store.Add(cmd.Description)
		return err
	case command.Delete:
		_, err := s.store.Delete(cmd.ID)
		return err
	case command.Update:
		_, err := s.store.Update(cmd.ID, cmd.Description)
		return err
	case command.MarkInProgress:
		_, err := s.store.SetStatus(cmd.ID, store.StatusInProgress)
		return err
	case command.MarkDone:
		_, err := s.store.SetStatus(cmd.ID, store.StatusDone)
		return err
	case command.List:
		tasks, err := s.store.ReadFiltered(cmd.Filter.Status())
		if err != nil {
			return err
		}
		return render.List(s.out, tasks, s.renderOpts)
	case command.Help:
		printCommands(s.out)
		return nil
	case command.Exit:
		return nil
	case command.Unknown:
		return &command.Error{Err: command.ErrUnknownCommand, Input: cmd.Name}
	default:
		return fmt.Errorf("unhandled command kind %d", cmd.Kind)
	}
}

func (s *session) printError(err error) {
	fmt.Fprintln(s.errOut, "Error:", err)
}
