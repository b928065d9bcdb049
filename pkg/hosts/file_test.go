// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package hosts

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	proxyerrors "github.com/sowndev0106/domain-router/pkg/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestFile returns an editor for a hosts file holding content.
func newTestFile(t *testing.T, content string) *File {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	f := New(path, filepath.Join(dir, "backup"), false, testLogger())
	f.elevate = func(name string, args ...string) error {
		t.Fatalf("unexpected elevated command %s %v", name, args)
		return nil
	}
	return f
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestFileLifecycle(t *testing.T) {
	f := newTestFile(t, system)

	if err := f.Add("app.example.com"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := f.Add("api.example.com"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	want := system + "\n" + block("127.0.0.1 app.example.com", "127.0.0.1 api.example.com")
	if got := readFile(t, f.Path); got != want {
		t.Fatalf("after Add:\n%s", got)
	}

	if err := f.Toggle("app.example.com", false); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	entries, err := f.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Enabled || !entries[1].Enabled {
		t.Errorf("entries after disable = %+v", entries)
	}

	if err := f.Toggle("app.example.com", true); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if err := f.Remove("api.example.com"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	want = system + "\n" + block("127.0.0.1 app.example.com")
	if got := readFile(t, f.Path); got != want {
		t.Errorf("after Remove:\n%s", got)
	}

	info, err := os.Stat(f.Path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o644 {
		t.Errorf("hosts file mode = %o, want 644", perm)
	}
}

func TestFileBacksUpBeforeWriting(t *testing.T) {
	f := newTestFile(t, system)

	if err := f.Add("app.example.com"); err != nil {
		t.Fatal(err)
	}
	backup := filepath.Join(f.BackupDir, BackupName)
	if got := readFile(t, backup); got != system {
		t.Errorf("backup = %q, want the previous contents", got)
	}

	// An unchanged file is neither backed up nor rewritten.
	if err := os.Remove(backup); err != nil {
		t.Fatal(err)
	}
	if err := f.Add("app.example.com"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(backup); !os.IsNotExist(err) {
		t.Errorf("backup written for a no-op edit: %v", err)
	}
}

func TestFileMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts")
	f := New(path, "", false, testLogger())

	entries, err := f.Entries()
	if err != nil || len(entries) != 0 {
		t.Fatalf("Entries of missing file = %v, %v", entries, err)
	}
	if err := f.Add("app.example.com"); err != nil {
		t.Fatal(err)
	}
	if got := readFile(t, path); got != block("127.0.0.1 app.example.com") {
		t.Errorf("created file:\n%s", got)
	}
}

func TestFileRejectsInvalidDomain(t *testing.T) {
	f := newTestFile(t, system)

	for _, domain := range []string{"", "nodot", "evil.com\n0.0.0.0 bank.com", "../x.com"} {
		if err := f.Add(domain); !errors.Is(err, proxyerrors.ErrHosts) {
			t.Errorf("Add(%q) = %v, want ErrHosts", domain, err)
		}
	}
	if got := readFile(t, f.Path); got != system {
		t.Errorf("hosts file modified:\n%s", got)
	}
}

func TestFileUnterminatedBlock(t *testing.T) {
	content := system + MarkerStart + "\n127.0.0.1 app.example.com\n"
	f := newTestFile(t, content)

	if err := f.Remove("app.example.com"); !errors.Is(err, proxyerrors.ErrHosts) {
		t.Errorf("Remove = %v, want ErrHosts", err)
	}
	if _, err := f.Entries(); !errors.Is(err, proxyerrors.ErrHosts) {
		t.Errorf("Entries = %v, want ErrHosts", err)
	}
	if got := readFile(t, f.Path); got != content {
		t.Error("malformed hosts file must not be rewritten")
	}
}

var errDenied = &fs.PathError{Op: "open", Path: "/etc/.hosts", Err: fs.ErrPermission}

func TestFileElevatedWrite(t *testing.T) {
	f := newTestFile(t, system)
	f.Elevate = true
	f.writeFile = func(string, []byte) error { return errDenied }

	var calls [][]string
	f.elevate = func(name string, args ...string) error {
		calls = append(calls, append([]string{name}, args...))
		if name != "cp" || len(args) != 2 {
			t.Fatalf("unexpected elevated command %s %v", name, args)
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		return os.WriteFile(args[1], data, 0o644)
	}

	if err := f.Add("app.example.com"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(calls) != 1 || calls[0][2] != f.Path {
		t.Fatalf("elevated calls = %v", calls)
	}
	if !strings.HasPrefix(calls[0][1], f.BackupDir) {
		t.Errorf("staging file %s not in %s", calls[0][1], f.BackupDir)
	}
	if _, err := os.Stat(calls[0][1]); !os.IsNotExist(err) {
		t.Error("staging file not removed")
	}
	if got := readFile(t, f.Path); !strings.Contains(got, "127.0.0.1 app.example.com") {
		t.Errorf("hosts file:\n%s", got)
	}
}

func TestFileElevationErrors(t *testing.T) {
	f := newTestFile(t, system)
	f.writeFile = func(string, []byte) error { return errDenied }

	err := f.Add("app.example.com")
	if !errors.Is(err, proxyerrors.ErrHosts) || !errors.Is(err, fs.ErrPermission) {
		t.Errorf("without elevation: %v, want ErrHosts wrapping a permission error", err)
	}

	f.Elevate = true
	f.elevate = func(string, ...string) error { return errors.New("dismissed") }
	err = f.Add("app.example.com")
	if !errors.Is(err, proxyerrors.ErrHosts) || !errors.Is(err, proxyerrors.ErrPrivilege) {
		t.Errorf("failed elevation: %v, want ErrHosts and ErrPrivilege", err)
	}

	if got := readFile(t, f.Path); got != system {
		t.Errorf("hosts file modified:\n%s", got)
	}
}

func TestWriteAtomicKeepsMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts")
	if err := os.WriteFile(path, []byte("old\n"), 0o640); err != nil {
		t.Fatal(err)
	}
	if err := writeAtomic(path, []byte("new\n")); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o640 {
		t.Errorf("mode = %o, want 640", perm)
	}
	if got := readFile(t, path); got != "new\n" {
		t.Errorf("content = %q", got)
	}
	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(path), ".hosts.*"))
	if len(matches) != 0 {
		t.Errorf("temp files left behind: %v", matches)
	}
}
