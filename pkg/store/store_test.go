// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	proxyerrors "github.com/sowndev0106/domain-router/pkg/errors"
	"github.com/sowndev0106/domain-router/pkg/routes"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "config", FileName), testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestOpenMissingFile(t *testing.T) {
	s := openTemp(t)
	if got := s.List(); len(got) != 0 {
		t.Errorf("List() = %v, want empty", got)
	}
	if _, err := os.Stat(s.Path()); !os.IsNotExist(err) {
		t.Errorf("file must not be created on open")
	}
}

func TestAddPersists(t *testing.T) {
	s := openTemp(t)
	pm := routes.NewPortMapping(8080, 3000, false)
	d := routes.NewDomain("app.example.com", 5173, true)

	for _, r := range []routes.Route{pm, d} {
		if err := s.Add(r); err != nil {
			t.Fatalf("Add(%s): %v", r.Name(), err)
		}
	}

	info, err := os.Stat(s.Path())
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %o, want 600", perm)
	}

	reopened, err := Open(s.Path(), testLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got := reopened.List()
	if len(got) != 2 || got[0].ID != pm.ID || got[1].ID != d.ID {
		t.Fatalf("reopened routes = %+v", got)
	}
	if got[1].Name() != "app.example.com" || !got[1].SSLEnabled {
		t.Errorf("domain route not round-tripped: %+v", got[1])
	}
}

func TestAddRejectsInvalidAndDuplicate(t *testing.T) {
	s := openTemp(t)

	bad := routes.NewDomain("not a domain", 3000, false)
	if err := s.Add(bad); !errors.Is(err, proxyerrors.ErrConfigValidation) {
		t.Errorf("expected validation error, got %v", err)
	}

	r := routes.NewPortMapping(8080, 3000, false)
	if err := s.Add(r); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(r); err == nil {
		t.Error("expected duplicate id to be rejected")
	}
	if len(s.List()) != 1 {
		t.Errorf("List() len = %d, want 1", len(s.List()))
	}
}

func TestToggleReplaceRemove(t *testing.T) {
	s := openTemp(t)
	r := routes.NewPortMapping(8080, 3000, false)
	if err := s.Add(r); err != nil {
		t.Fatal(err)
	}

	if err := s.Toggle(r.ID, false); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	got, _ := s.Get(r.ID)
	if got.Enabled {
		t.Error("route must be disabled")
	}

	r.Kind = routes.PortMapping{SourcePort: 8080, TargetHost: "10.0.0.5", TargetPort: 4000}
	if err := s.Replace(r); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	got, _ = s.Get(r.ID)
	if host, port := got.Kind.Target(); host != "10.0.0.5" || port != 4000 {
		t.Errorf("target = %s:%d, want 10.0.0.5:4000", host, port)
	}

	if err := s.Remove(r.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(s.List()) != 0 {
		t.Error("route not removed")
	}

	for name, err := range map[string]error{
		"toggle":  s.Toggle("missing", true),
		"remove":  s.Remove("missing"),
		"replace": s.Replace(routes.NewPortMapping(9000, 3000, false)),
	} {
		if !errors.Is(err, proxyerrors.ErrNotFound) {
			t.Errorf("%s: expected ErrNotFound, got %v", name, err)
		}
	}
}

func TestListReturnsCopy(t *testing.T) {
	s := openTemp(t)
	if err := s.Add(routes.NewPortMapping(8080, 3000, true)); err != nil {
		t.Fatal(err)
	}
	rs := s.List()
	rs[0].Enabled = false
	if !s.List()[0].Enabled {
		t.Error("List must return a copy")
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	content := `version: 1
routes:
  - id: a
    type: portmapping
    source_port: 3000
    target_host: localhost
    target_port: 3000
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path, testLogger()); !errors.Is(err, proxyerrors.ErrConfigValidation) {
		t.Errorf("expected validation error for a loop, got %v", err)
	}

	if err := os.WriteFile(path, []byte("version: 9\nroutes: []\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "unsupported version") {
		t.Errorf("expected version error, got %v", err)
	}
}

func TestWatcherReloads(t *testing.T) {
	s := openTemp(t)
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}

	changes := make(chan []routes.Route, 4)
	w := NewWatcher(s, 50*time.Millisecond, testLogger(), func(rs []routes.Route) {
		changes <- rs
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(200 * time.Millisecond)

	editor, err := Open(s.Path(), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	r := routes.NewPortMapping(8080, 3000, false)
	if err := editor.Add(r); err != nil {
		t.Fatal(err)
	}

	select {
	case rs := <-changes:
		if len(rs) != 1 || rs[0].ID != r.ID {
			t.Errorf("reloaded routes = %+v", rs)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not report the change")
	}
	if len(s.List()) != 1 {
		t.Error("store not reloaded")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatcherKeepsPreviousSetOnBadFile(t *testing.T) {
	s := openTemp(t)
	r := routes.NewPortMapping(8080, 3000, false)
	if err := s.Add(r); err != nil {
		t.Fatal(err)
	}

	called := false
	w := NewWatcher(s, 0, testLogger(), func([]routes.Route) { called = true })

	if err := os.WriteFile(s.Path(), []byte("routes: [this is: not valid"), 0o600); err != nil {
		t.Fatal(err)
	}
	w.reload()

	if called {
		t.Error("callback must not run for an unreadable file")
	}
	if got := s.List(); len(got) != 1 || got[0].ID != r.ID {
		t.Errorf("previous routes lost: %+v", got)
	}
}
