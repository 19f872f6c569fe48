package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/amirbrooks/tasker/internal/command"
	"github.com/amirbrooks/tasker/internal/config"
)

const banner = `Welcome to "Tasker"! Type "help" to see available commands. Type "exit" to quit.`

// errInterrupted is returned by a LineReader when the user pressed Ctrl-C.
var errInterrupted = errors.New("interrupted")

// LineReader reads one line of input per prompt. At end of input it returns
// io.EOF.
type LineReader interface {
	ReadLine(prompt string) (string, error)
	Close() error
}

// repl runs the interactive loop until exit, end of input or a fatal error.
func (s *session) repl(r LineReader, prompt string) int {
	fmt.Fprintln(s.out, banner)
	fmt.Fprintln(s.out)

	for {
		line, err := r.ReadLine(prompt)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, errInterrupted) {
				fmt.Fprintln(s.out)
				fmt.Fprintln(s.out, "Exiting Tasker.")
				return ExitOK
			}
			s.printError(err)
			return ExitInternal
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		cmd, err := command.ParseLine(line, s.parseOpts)
		if err == nil && cmd.Kind == command.Exit {
			fmt.Fprintln(s.out, "Goodbye!")
			return ExitOK
		}
		if err == nil {
			err = s.execute(cmd)
		}
		if err != nil {
			s.printError(err)
			if !s.keepGoing {
				return exitCodeForError(err)
			}
			s.logger.Debug("continuing after error", "err", err)
		}
	}
}

func (a *App) newLineReader(cfg *config.Config) LineReader {
	in, inOK := a.Stdin.(*os.File)
	out, outOK := a.Stdout.(*os.File)
	if inOK && outOK && in == os.Stdin && out == os.Stdout && isTerminal(in) && isTerminal(out) {
		historyPath := ""
		if cfg.UI.History {
			historyPath = cfg.UI.HistoryPath
		}
		return newLinerReader(historyPath)
	}
	return newPlainReader(a.Stdin, a.Stdout)
}

type linerReader struct {
	line        *liner.State
	historyPath string
}

func newLinerReader(historyPath string) *linerReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	r := &linerReader{line: line, historyPath: historyPath}
	if historyPath != "" {
		if f, err := os.Open(historyPath); err == nil {
			_, _ = line.ReadHistory(f)
			f.Close()
		}
	}
	return r
}

func (r *linerReader) ReadLine(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		if errors.Is(err, liner.ErrPromptAborted) {
			return "", errInterrupted
		}
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

func (r *linerReader) Close() error {
	var saveErr error
	if r.historyPath != "" {
		saveErr = r.saveHistory()
	}
	if err := r.line.Close(); err != nil {
		return err
	}
	return saveErr
}

func (r *linerReader) saveHistory() error {
	if err := os.MkdirAll(filepath.Dir(r.historyPath), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(r.historyPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := r.line.WriteHistory(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// plainReader serves piped input and tests. It echoes the prompt but does no
// line editing.
type plainReader struct {
	in  *bufio.Reader
	out io.Writer
}

func newPlainReader(in io.Reader, out io.Writer) *plainReader {
	return &plainReader{in: bufio.NewReader(in), out: out}
}

func (r *plainReader) ReadLine(prompt string) (string, error) {
	fmt.Fprint(r.out, prompt)
	line, err := r.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (r *plainReader) Close() error { return nil }
