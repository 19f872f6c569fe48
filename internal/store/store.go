package store

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/charmbracelet/log"
	"github.com/oklog/ulid/v2"

	"github.com/amirbrooks/tasker/internal/logging"
)

type randReader struct{}

func (randReader) Read(p []byte) (int, error) { return rand.Read(p) }

// TimeLayout is the on-disk timestamp format (DD.MM.YYYY HH:MM:SS, local time).
const TimeLayout = "02.01.2006 15:04:05"

// NotUpdated marks a task that has never been updated.
const NotUpdated = "N/A"

const uidPrefix = "tsk_"

var (
	ErrEmptyStore = errors.New("empty store")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrInvalid    = errors.New("invalid")
	timeNow       = time.Now
)

type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
)

func (s Status) Known() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	default:
		return false
	}
}

// Action names the operation an ActionError was raised from.
type Action string

const (
	ActionAdd    Action = "add"
	ActionDelete Action = "delete"
	ActionUpdate Action = "update"
	ActionMark   Action = "mark"
	ActionList   Action = "list"
)

// ActionError carries the user-facing message for a failed store operation.
// It satisfies errors.Is for the wrapped sentinel.
type ActionError struct {
	Action  Action
	Ref     string
	Err     error
	Matches []Task
}

func (e *ActionError) Error() string {
	switch {
	case errors.Is(e.Err, ErrEmptyStore):
		switch e.Action {
		case ActionList:
			return "You can't see this list because the to-do list is empty now."
		case ActionMark:
			return "You can't mark this task because the to-do list is empty now."
		default:
			return fmt.Sprintf("You can't %s the task because the to-do list is empty now.", e.Action)
		}
	case errors.Is(e.Err, ErrNotFound):
		return fmt.Sprintf("You can't %s this task because it's not on the to-do list.", e.Action)
	case errors.Is(e.Err, ErrConflict):
		return fmt.Sprintf("You can't %s this task because %q matches %d tasks.", e.Action, e.Ref, len(e.Matches))
	}
	return fmt.Sprintf("%s: %v", e.Action, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

type Task struct {
	ID          int
	UID         string
	Description string
	Status      Status
	CreatedAt   string
	UpdatedAt   string
}

func (t *Task) Updated() bool {
	return t.UpdatedAt != "" && t.UpdatedAt != NotUpdated
}

func (t *Task) UIDShort(n int) string {
	s := strings.TrimPrefix(t.UID, uidPrefix)
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func (t *Task) fields() []string {
	out := []string{t.Description, string(t.Status), t.CreatedAt, t.UpdatedAt}
	if t.UID != "" {
		out = append(out, t.UID)
	}
	return out
}

type Options struct {
	// StableIDs assigns a ULID to new tasks and lets selectors address tasks by it.
	StableIDs bool
	Logger    *log.Logger
}

// Store is a task list backed by a single JSON file. Every operation reads the
// whole file and mutations write it back in full.
type Store struct {
	path      string
	stableIDs bool
	logger    *log.Logger
}

// Open returns a store for path, creating an empty file if none exists.
func Open(path string, opts Options) (*Store, error) {
	path = expandHome(strings.TrimSpace(path))
	if path == "" {
		return nil, fmt.Errorf("%w: store path is required", ErrInvalid)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	switch {
	case err == nil:
		_ = f.Close()
		logger.Debug("created store file", "path", path)
	case !errors.Is(err, fs.ErrExist):
		return nil, err
	}
	return &Store{path: path, stableIDs: opts.StableIDs, logger: logger}, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) StableIDs() bool { return s.stableIDs }

// Add appends a new todo task. An unparsable file is replaced by a fresh list.
func (s *Store) Add(description string) (*Task, error) {
	tasks, ok, err := s.load()
	if err != nil {
		return nil, &ActionError{Action: ActionAdd, Err: err}
	}
	if !ok {
		tasks = nil
	}
	t := Task{
		ID:          len(tasks) + 1,
		Description: description,
		Status:      StatusTodo,
		CreatedAt:   timeNow().Format(TimeLayout),
		UpdatedAt:   NotUpdated,
	}
	if s.stableIDs {
		uid, err := newUID()
		if err != nil {
			return nil, &ActionError{Action: ActionAdd, Err: err}
		}
		t.UID = uid
	}
	tasks = append(tasks, t)
	if err := s.save(tasks); err != nil {
		return nil, &ActionError{Action: ActionAdd, Err: err}
	}
	return &t, nil
}

// Delete removes the task and renumbers every later task down by one.
func (s *Store) Delete(ref string) (*Task, error) {
	return s.mutate(ActionDelete, ref, func(tasks []Task, i int) (Task, []Task) {
		removed := tasks[i]
		tasks = append(tasks[:i:i], tasks[i+1:]...)
		renumber(tasks)
		s.logger.Debug("renumbered tasks", "removed", removed.ID, "remaining", len(tasks))
		return removed, tasks
	})
}

// Update replaces the description and stamps UpdatedAt.
func (s *Store) Update(ref string, description string) (*Task, error) {
	return s.mutate(ActionUpdate, ref, func(tasks []Task, i int) (Task, []Task) {
		tasks[i].Description = description
		tasks[i].UpdatedAt = timeNow().Format(TimeLayout)
		return tasks[i], tasks
	})
}

// SetStatus replaces the status only; timestamps are left alone.
func (s *Store) SetStatus(ref string, status Status) (*Task, error) {
	return s.mutate(ActionMark, ref, func(tasks []Task, i int) (Task, []Task) {
		tasks[i].Status = status
		return tasks[i], tasks
	})
}

func (s *Store) ReadAll() ([]Task, error) {
	return s.ReadFiltered("")
}

// ReadFiltered returns tasks with the given status in id order. An empty
// status matches every task.
func (s *Store) ReadFiltered(status Status) ([]Task, error) {
	tasks, ok, err := s.load()
	if err != nil {
		return nil, &ActionError{Action: ActionList, Err: err}
	}
	if !ok {
		return nil, &ActionError{Action: ActionList, Err: ErrEmptyStore}
	}
	if status == "" {
		return tasks, nil
	}
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) mutate(action Action, ref string, apply func([]Task, int) (Task, []Task)) (*Task, error) {
	tasks, ok, err := s.load()
	if err != nil {
		return nil, &ActionError{Action: action, Ref: ref, Err: err}
	}
	if !ok {
		return nil, &ActionError{Action: action, Ref: ref, Err: ErrEmptyStore}
	}
	i, matches, err := s.resolve(tasks, ref)
	if err != nil {
		return nil, &ActionError{Action: action, Ref: ref, Err: err, Matches: matches}
	}
	result, tasks := apply(tasks, i)
	if err := s.save(tasks); err != nil {
		return nil, &ActionError{Action: action, Ref: ref, Err: err}
	}
	return &result, nil
}

// resolve maps a selector to a slice index. Positional ids always resolve;
// UIDs and UID prefixes only when stable ids are enabled.
func (s *Store) resolve(tasks []Task, ref string) (int, []Task, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return -1, nil, ErrNotFound
	}
	for i := range tasks {
		if strconv.Itoa(tasks[i].ID) == ref {
			return i, nil, nil
		}
	}
	if !s.stableIDs || !LooksLikeUID(ref) {
		return -1, nil, ErrNotFound
	}
	prefix := strings.ToUpper(strings.TrimPrefix(strings.ToLower(ref), uidPrefix))
	idx := -1
	var matches []Task
	for i := range tasks {
		uid := strings.ToUpper(strings.TrimPrefix(tasks[i].UID, uidPrefix))
		if uid != "" && strings.HasPrefix(uid, prefix) {
			idx = i
			matches = append(matches, tasks[i])
		}
	}
	switch len(matches) {
	case 0:
		return -1, nil, ErrNotFound
	case 1:
		return idx, nil, nil
	default:
		return -1, matches, ErrConflict
	}
}

// LooksLikeUID reports whether a selector reads as a ULID (or a prefix of one)
// rather than a positional id or free text.
func LooksLikeUID(selector string) bool {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return false
	}
	if strings.HasPrefix(strings.ToLower(selector), uidPrefix) {
		return len(selector) > len(uidPrefix)
	}
	if len(selector) < 8 {
		return false
	}
	allowed := "0123456789ABCDEFGHJKMNPQRSTVWXYZ"
	hasDigit, hasLetter := false, false
	for _, r := range strings.ToUpper(selector) {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r >= 'A' && r <= 'Z':
			hasLetter = true
		}
		if !strings.ContainsRune(allowed, r) {
			return false
		}
	}
	return hasDigit && hasLetter
}

// load reads the store file. ok is false when the file is missing, empty or
// fails validation; err is reserved for I/O failures.
func (s *Store) load() ([]Task, bool, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	tasks, err := decodeDocument(b)
	if err != nil {
		if len(bytes.TrimSpace(b)) > 0 {
			s.logger.Warn("store file is unreadable, treating as empty", "path", s.path, "err", err)
		}
		return nil, false, nil
	}
	s.logger.Debug("loaded store", "path", s.path, "tasks", len(tasks))
	return tasks, true, nil
}

func (s *Store) save(tasks []Task) error {
	if err := atomicWriteFile(s.path, encodeDocument(tasks), 0o644); err != nil {
		return err
	}
	s.logger.Debug("saved store", "path", s.path, "tasks", len(tasks))
	return nil
}

// decodeDocument parses {"1": [desc, status, created, updated(, uid)], ...}
// and returns tasks renumbered 1..N in key order.
func decodeDocument(b []byte) ([]Task, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalid)
	}
	if err := validateDocument(b); err != nil {
		return nil, err
	}
	var raw map[string][]string
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	type entry struct {
		key    int
		fields []string
	}
	entries := make([]entry, 0, len(raw))
	for k, v := range raw {
		n, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("%w: key %q", ErrInvalid, k)
		}
		entries = append(entries, entry{key: n, fields: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })
	tasks := make([]Task, 0, len(entries))
	for i, e := range entries {
		t := Task{
			ID:          i + 1,
			Description: e.fields[0],
			Status:      Status(e.fields[1]),
			CreatedAt:   e.fields[2],
			UpdatedAt:   e.fields[3],
		}
		if len(e.fields) > 4 {
			t.UID = e.fields[4]
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func encodeDocument(tasks []Task) []byte {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i := range tasks {
		if i > 0 {
			buf.WriteString(", ")
		}
		appendQuoted(&buf, strconv.Itoa(tasks[i].ID))
		buf.WriteString(": [")
		for j, f := range tasks[i].fields() {
			if j > 0 {
				buf.WriteString(", ")
			}
			appendQuoted(&buf, f)
		}
		buf.WriteByte(']')
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

// appendQuoted writes s as a JSON string literal keeping the output ASCII:
// anything outside printable ASCII becomes a \u escape, astral runes as
// surrogate pairs.
func appendQuoted(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		default:
			switch {
			case r >= 0x20 && r < 0x7f:
				buf.WriteRune(r)
			case r > 0xffff:
				r1, r2 := utf16.EncodeRune(r)
				fmt.Fprintf(buf, `\u%04x\u%04x`, r1, r2)
			default:
				fmt.Fprintf(buf, `\u%04x`, r)
			}
		}
	}
	buf.WriteByte('"')
}

func renumber(tasks []Task) {
	for i := range tasks {
		tasks[i].ID = i + 1
	}
}

// uidEntropy is swapped in tests.
var uidEntropy io.Reader = randReader{}

func newUID() (string, error) {
	t := ulid.Timestamp(timeNow())
	id, err := ulid.New(t, ulid.Monotonic(uidEntropy, 0))
	if err != nil {
		return "", fmt.Errorf("generate uid: %w", err)
	}
	return uidPrefix + strings.ToUpper(id.String()), nil
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~"+string(os.PathSeparator)) || path == "~" {
		home, _ := os.UserHomeDir()
		if home != "" {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

func atomicWriteFile(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".tmp-")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, perm); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	// Rename is atomic on same filesystem.
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
