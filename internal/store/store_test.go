package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func pinClock(t *testing.T, ts time.Time) {
	t.Helper()
	prev := timeNow
	timeNow = func() time.Time { return ts }
	t.Cleanup(func() { timeNow = prev })
}

func openTemp(t *testing.T, opts Options) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "user_tasks.json"), opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s
}

func writeRaw(t *testing.T, s *Store, content string) {
	t.Helper()
	if err := os.WriteFile(s.Path(), []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func mustAdd(t *testing.T, s *Store, desc string) *Task {
	t.Helper()
	task, err := s.Add(desc)
	if err != nil {
		t.Fatalf("add %q: %v", desc, err)
	}
	return task
}

func descriptions(tasks []Task) string {
	parts := make([]string, 0, len(tasks))
	for _, t := range tasks {
		parts = append(parts, t.Description)
	}
	return strings.Join(parts, ",")
}

func TestOpenCreatesEmptyFile(t *testing.T) {
	s := openTemp(t, Options{})
	info, err := os.Stat(s.Path())
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("expected empty file, got %d bytes", info.Size())
	}
}

func TestOpenKeepsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user_tasks.json")
	if err := os.WriteFile(path, []byte(`{"1": ["a", "todo", "01.01.2026 10:00:00", "N/A"]}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	tasks, err := s.ReadAll()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Description != "a" {
		t.Fatalf("unexpected tasks: %#v", tasks)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  ", Options{}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestAddAssignsSequentialIDs(t *testing.T) {
	pinClock(t, time.Date(2026, 10, 14, 9, 5, 7, 0, time.Local))
	s := openTemp(t, Options{})
	for i, desc := range []string{"one", "two", "three"} {
		task := mustAdd(t, s, desc)
		if task.ID != i+1 {
			t.Fatalf("expected id %d, got %d", i+1, task.ID)
		}
	}
	tasks, err := s.ReadAll()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for i, task := range tasks {
		if task.ID != i+1 {
			t.Fatalf("expected id %d at %d, got %d", i+1, i, task.ID)
		}
	}
	first := tasks[0]
	if first.Status != StatusTodo {
		t.Fatalf("expected todo, got %q", first.Status)
	}
	if first.CreatedAt != "14.10.2026 09:05:07" {
		t.Fatalf("unexpected created_at %q", first.CreatedAt)
	}
	if first.UpdatedAt != NotUpdated || first.Updated() {
		t.Fatalf("expected N/A updated_at, got %q", first.UpdatedAt)
	}
	if first.UID != "" {
		t.Fatalf("expected no uid without stable ids, got %q", first.UID)
	}
}

func TestAddOnUnparsableFileStartsOver(t *testing.T) {
	s := openTemp(t, Options{})
	writeRaw(t, s, "{not json")
	task := mustAdd(t, s, "fresh")
	if task.ID != 1 {
		t.Fatalf("expected id 1, got %d", task.ID)
	}
	tasks, err := s.ReadAll()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
}

func TestPersistedLayout(t *testing.T) {
	pinClock(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local))
	s := openTemp(t, Options{})
	mustAdd(t, s, "Buy milk")
	mustAdd(t, s, "Walk dog")
	b, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	want := `{"1": ["Buy milk", "todo", "02.01.2026 03:04:05", "N/A"], "2": ["Walk dog", "todo", "02.01.2026 03:04:05", "N/A"]}`
	if string(b) != want {
		t.Fatalf("unexpected file:\n%s\nwant:\n%s", b, want)
	}
}

func TestPersistedEscapes(t *testing.T) {
	pinClock(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local))
	s := openTemp(t, Options{})
	mustAdd(t, s, "Кофе \"hot\" <&> \\ \t 🚀")
	b, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	want := `{"1": ["\u041a\u043e\u0444\u0435 \"hot\" <&> \\ \t \ud83d\ude80", "todo", "02.01.2026 03:04:05", "N/A"]}`
	if string(b) != want {
		t.Fatalf("unexpected file:\n%s\nwant:\n%s", b, want)
	}
	tasks, err := s.ReadAll()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := tasks[0].Description; got != "Кофе \"hot\" <&> \\ \t 🚀" {
		t.Fatalf("description did not survive: %q", got)
	}
}

func TestRoundTripThroughReopen(t *testing.T) {
	s := openTemp(t, Options{})
	added := mustAdd(t, s, "Buy \"oat\" milk <2L>")
	reopened, err := Open(s.Path(), Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	tasks, err := reopened.ReadAll()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(tasks) != 1 || tasks[0] != *added {
		t.Fatalf("round trip mismatch: %#v vs %#v", tasks, *added)
	}
}

func TestReadAllIsIdempotent(t *testing.T) {
	s := openTemp(t, Options{})
	mustAdd(t, s, "a")
	mustAdd(t, s, "b")
	first, err := s.ReadAll()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	second, err := s.ReadAll()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if descriptions(first) != descriptions(second) || len(first) != len(second) {
		t.Fatalf("reads differ: %v vs %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("task %d differs: %#v vs %#v", i, first[i], second[i])
		}
	}
}

func TestDeleteRenumbers(t *testing.T) {
	s := openTemp(t, Options{})
	for _, d := range []string{"a", "b", "c", "d"} {
		mustAdd(t, s, d)
	}
	removed, err := s.Delete("2")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if removed.Description != "b" {
		t.Fatalf("expected to remove b, removed %q", removed.Description)
	}
	tasks, err := s.ReadAll()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := descriptions(tasks); got != "a,c,d" {
		t.Fatalf("unexpected order %q", got)
	}
	for i, task := range tasks {
		if task.ID != i+1 {
			t.Fatalf("expected id %d, got %d", i+1, task.ID)
		}
	}
	next := mustAdd(t, s, "e")
	if next.ID != 4 {
		t.Fatalf("expected next id 4, got %d", next.ID)
	}
}

func TestDeleteLastLeavesEmptyMap(t *testing.T) {
	s := openTemp(t, Options{})
	mustAdd(t, s, "Task to delete")
	if _, err := s.Delete("1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	b, _ := os.ReadFile(s.Path())
	if string(b) != "{}" {
		t.Fatalf("expected {}, got %q", b)
	}
	tasks, err := s.ReadAll()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected no tasks, got %d", len(tasks))
	}
}

func TestDeleteOnEmptyStore(t *testing.T) {
	s := openTemp(t, Options{})
	_, err := s.Delete("1")
	if !errors.Is(err, ErrEmptyStore) {
		t.Fatalf("expected ErrEmptyStore, got %v", err)
	}
	if err.Error() != "You can't delete the task because the to-do list is empty now." {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestDeleteMissingID(t *testing.T) {
	s := openTemp(t, Options{})
	mustAdd(t, s, "only")
	_, err := s.Delete("99")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err.Error() != "You can't delete this task because it's not on the to-do list." {
		t.Fatalf("unexpected message %q", err.Error())
	}
	var ae *ActionError
	if !errors.As(err, &ae) || ae.Action != ActionDelete || ae.Ref != "99" {
		t.Fatalf("expected ActionError for delete 99, got %#v", err)
	}
}

func TestMissingIDOnEmptyMap(t *testing.T) {
	s := openTemp(t, Options{})
	writeRaw(t, s, "{}")
	_, err := s.Update("99", "x")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on {}, got %v", err)
	}
	if err.Error() != "You can't update this task because it's not on the to-do list." {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestUpdateChangesDescriptionAndStamp(t *testing.T) {
	pinClock(t, time.Date(2026, 10, 1, 8, 0, 0, 0, time.Local))
	s := openTemp(t, Options{})
	mustAdd(t, s, "Buy milk")
	if _, err := s.SetStatus("1", StatusInProgress); err != nil {
		t.Fatalf("mark: %v", err)
	}
	pinClock(t, time.Date(2026, 10, 2, 18, 30, 0, 0, time.Local))
	updated, err := s.Update("1", "Updated task")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Description != "Updated task" {
		t.Fatalf("unexpected description %q", updated.Description)
	}
	if updated.Status != StatusInProgress {
		t.Fatalf("status changed to %q", updated.Status)
	}
	if updated.CreatedAt != "01.10.2026 08:00:00" {
		t.Fatalf("created_at changed to %q", updated.CreatedAt)
	}
	if updated.UpdatedAt != "02.10.2026 18:30:00" || !updated.Updated() {
		t.Fatalf("unexpected updated_at %q", updated.UpdatedAt)
	}
}

func TestUpdateOnEmptyStore(t *testing.T) {
	s := openTemp(t, Options{})
	_, err := s.Update("1", "x")
	if err == nil || err.Error() != "You can't update the task because the to-do list is empty now." {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestSetStatusLeavesTimestamps(t *testing.T) {
	pinClock(t, time.Date(2026, 3, 3, 3, 3, 3, 0, time.Local))
	s := openTemp(t, Options{})
	before := mustAdd(t, s, "Task to mark somehow")
	pinClock(t, time.Date(2027, 4, 4, 4, 4, 4, 0, time.Local))
	after, err := s.SetStatus("1", StatusDone)
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if after.Status != StatusDone {
		t.Fatalf("expected done, got %q", after.Status)
	}
	if after.CreatedAt != before.CreatedAt || after.UpdatedAt != before.UpdatedAt {
		t.Fatalf("timestamps changed: %#v -> %#v", before, after)
	}
	if after.Description != before.Description {
		t.Fatalf("description changed")
	}
}

func TestSetStatusErrors(t *testing.T) {
	s := openTemp(t, Options{})
	_, err := s.SetStatus("1", StatusDone)
	if err == nil || err.Error() != "You can't mark this task because the to-do list is empty now." {
		t.Fatalf("unexpected error %v", err)
	}
	mustAdd(t, s, "x")
	_, err = s.SetStatus("5", StatusDone)
	if err == nil || err.Error() != "You can't mark this task because it's not on the to-do list." {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestReadFiltered(t *testing.T) {
	s := openTemp(t, Options{})
	for _, d := range []string{"a", "b", "c"} {
		mustAdd(t, s, d)
	}
	if _, err := s.SetStatus("2", StatusInProgress); err != nil {
		t.Fatalf("mark: %v", err)
	}
	inProgress, err := s.ReadFiltered(StatusInProgress)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(inProgress) != 1 || inProgress[0].ID != 2 {
		t.Fatalf("unexpected in-progress: %#v", inProgress)
	}
	done, err := s.ReadFiltered(StatusDone)
	if err != nil {
		t.Fatalf("empty filtered result should not fail: %v", err)
	}
	if len(done) != 0 {
		t.Fatalf("expected no done tasks, got %d", len(done))
	}
}

func TestReadOnEmptyStore(t *testing.T) {
	s := openTemp(t, Options{})
	_, err := s.ReadAll()
	if !errors.Is(err, ErrEmptyStore) {
		t.Fatalf("expected ErrEmptyStore, got %v", err)
	}
	if err.Error() != "You can't see this list because the to-do list is empty now." {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestSchemaRejectsMalformedDocuments(t *testing.T) {
	cases := map[string]string{
		"array":         `[]`,
		"short record":  `{"1": ["a", "todo", "x"]}`,
		"non-string":    `{"1": ["a", "todo", 5, "N/A"]}`,
		"bad key":       `{"one": ["a", "todo", "x", "N/A"]}`,
		"zero key":      `{"0": ["a", "todo", "x", "N/A"]}`,
		"whitespace":    "  \n",
		"trailing junk": `{"1": ["a", "todo", "x", "N/A"]} x`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			s := openTemp(t, Options{})
			writeRaw(t, s, content)
			if _, err := s.ReadAll(); !errors.Is(err, ErrEmptyStore) {
				t.Fatalf("expected ErrEmptyStore, got %v", err)
			}
		})
	}
}

func TestLoadRenumbersGaps(t *testing.T) {
	s := openTemp(t, Options{})
	writeRaw(t, s, `{"10": ["c", "done", "x", "N/A"], "2": ["a", "todo", "x", "N/A"], "5": ["b", "weird", "x", "N/A"]}`)
	tasks, err := s.ReadAll()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := descriptions(tasks); got != "a,b,c" {
		t.Fatalf("unexpected order %q", got)
	}
	if tasks[1].Status != "weird" || tasks[1].Status.Known() {
		t.Fatalf("unknown status should be preserved, got %q", tasks[1].Status)
	}
	if tasks[2].ID != 3 {
		t.Fatalf("expected renumbered id 3, got %d", tasks[2].ID)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy unavailable") }

func TestStableIDEntropyFailure(t *testing.T) {
	prev := uidEntropy
	uidEntropy = failingReader{}
	t.Cleanup(func() { uidEntropy = prev })

	s := openTemp(t, Options{StableIDs: true})
	if _, err := s.Add("a"); err == nil || !strings.Contains(err.Error(), "generate uid") {
		t.Fatalf("expected uid generation error, got %v", err)
	}
	b, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if len(b) != 0 {
		t.Fatalf("failed add should not write, got %s", b)
	}
}

func TestStableIDs(t *testing.T) {
	s := openTemp(t, Options{StableIDs: true})
	a := mustAdd(t, s, "a")
	b := mustAdd(t, s, "b")
	if !strings.HasPrefix(a.UID, "tsk_") || len(a.UID) != len("tsk_")+26 {
		t.Fatalf("unexpected uid %q", a.UID)
	}
	if a.UID == b.UID {
		t.Fatalf("uids should differ")
	}
	if _, err := s.Delete("1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// b is now id 1 but keeps its uid.
	got, err := s.SetStatus(b.UID, StatusDone)
	if err != nil {
		t.Fatalf("mark by uid: %v", err)
	}
	if got.ID != 1 || got.Description != "b" {
		t.Fatalf("unexpected task %#v", got)
	}
	if _, err := s.Update(strings.ToLower(b.UID), "b2"); err != nil {
		t.Fatalf("update by lower-case uid: %v", err)
	}
	if _, err := s.Delete(a.UID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted uid should be gone, got %v", err)
	}
}

func TestStableIDsIgnoredWhenDisabled(t *testing.T) {
	withIDs := openTemp(t, Options{StableIDs: true})
	task := mustAdd(t, withIDs, "a")
	plain, err := Open(withIDs.Path(), Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := plain.Delete(task.UID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound without stable ids, got %v", err)
	}
	// Existing uids survive writes from a store without stable ids.
	if _, err := plain.Update("1", "b"); err != nil {
		t.Fatalf("update: %v", err)
	}
	tasks, err := plain.ReadAll()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if tasks[0].UID != task.UID {
		t.Fatalf("uid dropped: %q", tasks[0].UID)
	}
}

func TestStableIDPrefixConflict(t *testing.T) {
	s := openTemp(t, Options{StableIDs: true})
	writeRaw(t, s, `{"1": ["a", "todo", "x", "N/A", "tsk_01ABCDEF00000000000000000A"], "2": ["b", "todo", "x", "N/A", "tsk_01ABCDEF00000000000000000B"]}`)
	_, err := s.Delete("01ABCDEF")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	var ae *ActionError
	if !errors.As(err, &ae) || len(ae.Matches) != 2 {
		t.Fatalf("expected two matches, got %#v", err)
	}
	removed, err := s.Delete("tsk_01ABCDEF00000000000000000B")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if removed.Description != "b" {
		t.Fatalf("removed wrong task %q", removed.Description)
	}
}

func TestLooksLikeUID(t *testing.T) {
	cases := map[string]bool{
		"tsk_01H":                    true,
		"TSK_01HX":                   true,
		"tsk_":                       false,
		"01HXYZ7K":                   true,
		"01HXYZ7KQ2":                 true,
		"12345678":                   false,
		"groceries":                  false,
		"Buy milk":                   false,
		"1":                          false,
		"01ARZ3NDEKTSV4RRFFQ69G5FAV": true,
	}
	for in, want := range cases {
		if got := LooksLikeUID(in); got != want {
			t.Fatalf("LooksLikeUID(%q) = %v, want %v", in, got, want)
		}
	}
}
