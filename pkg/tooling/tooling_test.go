package tooling

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
)

func TestFormat(t *testing.T) {
	cases := []struct{ src, expected string }{
		{"server 8080", "server 8080\n"},
		{"class A:\n\tm(): 1   \n", "class A:\n  m(): 1\n"},
		{"func f(): 1\r\n\r\n\r\n", "func f(): 1\n"},
		{" \n\t\n", ""},
		{"a\n\n\nb\n", "a\n\n\nb\n"},
	}
	for _, tc := range cases {
		if got := Format(tc.src); got != tc.expected {
			t.Fatalf("Format(%q) = %q, expected %q", tc.src, got, tc.expected)
		}
	}
	formatted := Format("class A:\n\tm(): 1 \n")
	if issues := Lint(formatted); len(issues) != 0 {
		t.Fatalf("formatted source should lint clean, got %v", issues)
	}
}

func TestLint(t *testing.T) {
	src := "server 8080\n\tfunc f(): 1\nendpoint GET \"/\": \"x\"  \n" + strings.Repeat("a", MaxLineLength+1) + "\n"
	var rules []string
	for _, issue := range Lint(src) {
		rules = append(rules, issue.Rule)
	}
	expected := []string{"no-tabs", "trailing-whitespace", "line-length"}
	if !reflect.DeepEqual(rules, expected) {
		t.Fatalf("unexpected rules %v", rules)
	}
	issues := Lint(src)
	if issues[0].Line != 2 || issues[0].Column != 1 {
		t.Fatalf("unexpected tab position %s", issues[0])
	}
	if issues[1].Line != 3 || issues[1].Column != 22 {
		t.Fatalf("unexpected trailing whitespace position %s", issues[1])
	}
	if issues[2].Line != 4 {
		t.Fatalf("unexpected long line position %s", issues[2])
	}
}

func TestWriteLockfile(t *testing.T) {
	dir := t.TempDir()
	entry := filepath.Join(dir, "main.svcl")
	if err := os.WriteFile(filepath.Join(dir, "lib.svcl"), []byte("func add(a, b): a + b\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(entry, []byte("import \"lib.svcl\"\nendpoint GET \"/\": add(1, 2)\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, LockfileName)
	first, err := WriteLockfile(path, entry, "prod")
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	read, err := ReadLockfile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if read.SHA256 != first.SHA256 || read.BuildID != first.BuildID || read.Env != "prod" || read.Version != LockfileVersion {
		t.Fatalf("unexpected lockfile %#v", read)
	}
	if !reflect.DeepEqual(read.Files, []string{"lib.svcl", "main.svcl"}) {
		t.Fatalf("unexpected files %v", read.Files)
	}
	if len(read.SHA256) != 64 || read.GeneratedAt.IsZero() {
		t.Fatalf("unexpected digest or timestamp %#v", read)
	}

	second, err := WriteLockfile(path, entry, "prod")
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if second.SHA256 != first.SHA256 || second.BuildID == first.BuildID {
		t.Fatal("same sources must hash the same under a new build id")
	}
	if err := os.WriteFile(filepath.Join(dir, "lib.svcl"), []byte("func add(a, b): a - b\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	third, err := WriteLockfile(path, entry, "prod")
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if third.SHA256 == first.SHA256 {
		t.Fatal("changing an imported file must change the digest")
	}
}

func TestWriteLockfileConcurrent(t *testing.T) {
	dir := t.TempDir()
	entry := filepath.Join(dir, "main.svcl")
	if err := os.WriteFile(entry, []byte("endpoint GET \"/\": 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, LockfileName)
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := WriteLockfile(path, entry, "dev"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent write: %v", err)
	}
	if _, err := ReadLockfile(path); err != nil {
		t.Fatalf("lockfile corrupted: %v", err)
	}
}

func TestWriteLockfileMissingEntry(t *testing.T) {
	if _, err := WriteLockfile(filepath.Join(t.TempDir(), LockfileName), "does-not-exist.svcl", "dev"); err == nil {
		t.Fatal("expected error for missing entry")
	}
}
