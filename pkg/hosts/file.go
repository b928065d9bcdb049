// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package hosts

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	proxyerrors "github.com/sowndev0106/domain-router/pkg/errors"
	"github.com/sowndev0106/domain-router/pkg/privilege"
	"github.com/sowndev0106/domain-router/pkg/routes"
)

// BackupName is the backup file written to the backup directory before
// every update.
const BackupName = "hosts.backup"

// DefaultPath returns the system hosts file.
func DefaultPath() string {
	if runtime.GOOS == "windows" {
		return `C:\Windows\System32\drivers\etc\hosts`
	}
	return "/etc/hosts"
}

// File edits the managed block of one hosts file. It is safe for
// concurrent use.
type File struct {
	// Path of the hosts file
	Path string

	// BackupDir receives BackupName and the staging file of elevated
	// writes. Backups are skipped when empty.
	BackupDir string

	// Elevate replaces a file the process may not write through
	// privilege.RunElevated.
	Elevate bool

	// Logger for hosts file updates
	Logger *slog.Logger

	mu        sync.Mutex
	writeFile func(path string, data []byte) error
	elevate   func(name string, args ...string) error
}

// New creates an editor for the hosts file at path. An empty path selects
// DefaultPath.
func New(path, backupDir string, elevate bool, logger *slog.Logger) *File {
	if path == "" {
		path = DefaultPath()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &File{
		Path:      path,
		BackupDir: backupDir,
		Elevate:   elevate,
		Logger:    logger,
		writeFile: writeAtomic,
		elevate:   privilege.RunElevated,
	}
}

// Add points domain at Address, uncommenting an existing entry.
func (f *File) Add(domain string) error {
	return f.edit("add", domain, func(d *document) { d.add(domain) })
}

// Remove deletes every managed entry of domain.
func (f *File) Remove(domain string) error {
	return f.edit("remove", domain, func(d *document) { d.remove(domain) })
}

// Toggle comments the entry of domain out when enabled is false and back in
// when it is true.
func (f *File) Toggle(domain string, enabled bool) error {
	return f.edit("toggle", domain, func(d *document) { d.toggle(domain, enabled) })
}

// Entries returns the entries of the managed block in file order.
func (f *File) Entries() ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	current, err := f.read()
	if err != nil {
		return nil, err
	}
	doc, err := parse(current)
	if err != nil {
		return nil, proxyerrors.Kind(proxyerrors.ErrHosts, fmt.Errorf("%s: %w", f.Path, err))
	}
	return doc.entries(), nil
}

func (f *File) edit(op, domain string, change func(*document)) error {
	if !routes.ValidDomain(domain) {
		return proxyerrors.Kind(proxyerrors.ErrHosts, fmt.Errorf("invalid domain %q", domain))
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	current, err := f.read()
	if err != nil {
		return err
	}
	doc, err := parse(current)
	if err != nil {
		return proxyerrors.Kind(proxyerrors.ErrHosts, fmt.Errorf("%s: %w", f.Path, err))
	}

	change(doc)
	next := doc.String()
	if next == current {
		f.Logger.Debug("hosts file unchanged", slog.String("op", op), slog.String("domain", domain))
		return nil
	}

	if err := f.backup(current); err != nil {
		return proxyerrors.Kind(proxyerrors.ErrHosts, err)
	}
	if err := f.write([]byte(next)); err != nil {
		return err
	}

	f.Logger.Info("hosts file updated",
		slog.String("op", op),
		slog.String("domain", domain),
		slog.String("path", f.Path))
	return nil
}

// read returns the file contents. A missing file reads as empty.
func (f *File) read() (string, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", proxyerrors.Kind(proxyerrors.ErrHosts, fmt.Errorf("failed to read hosts file: %w", err))
	}
	return string(data), nil
}

func (f *File) backup(content string) error {
	if f.BackupDir == "" || content == "" {
		return nil
	}
	if err := os.MkdirAll(f.BackupDir, 0o700); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(f.BackupDir, BackupName), []byte(content), 0o600); err != nil {
		return fmt.Errorf("failed to back up hosts file: %w", err)
	}
	return nil
}

func (f *File) write(data []byte) error {
	err := f.writeFile(f.Path, data)
	if err == nil {
		return nil
	}
	if !f.Elevate || !errors.Is(err, fs.ErrPermission) {
		return proxyerrors.Kind(proxyerrors.ErrHosts, err)
	}

	f.Logger.Info("hosts file is not writable, requesting elevation", slog.String("path", f.Path))
	return f.writeElevated(data)
}

// writeElevated stages data in a temporary file and copies it over the
// hosts file as root.
func (f *File) writeElevated(data []byte) error {
	dir := f.BackupDir
	if dir == "" {
		dir = os.TempDir()
	} else if err := os.MkdirAll(dir, 0o700); err != nil {
		return proxyerrors.Kind(proxyerrors.ErrHosts, fmt.Errorf("failed to create staging directory: %w", err))
	}

	tmp, err := os.CreateTemp(dir, "hosts.*.tmp")
	if err != nil {
		return proxyerrors.Kind(proxyerrors.ErrHosts, fmt.Errorf("failed to create staging file: %w", err))
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return proxyerrors.Kind(proxyerrors.ErrHosts, fmt.Errorf("failed to stage hosts file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return proxyerrors.Kind(proxyerrors.ErrHosts, fmt.Errorf("failed to stage hosts file: %w", err))
	}

	if err := f.elevate("cp", tmp.Name(), f.Path); err != nil {
		return proxyerrors.Kind(proxyerrors.ErrHosts,
			proxyerrors.Kind(proxyerrors.ErrPrivilege, fmt.Errorf("elevated copy to %s failed: %w", f.Path, err)))
	}
	return nil
}

// writeAtomic replaces path with data through a temporary file in the same
// directory, keeping the permissions of the existing file.
func writeAtomic(path string, data []byte) error {
	mode := fs.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write hosts file: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set hosts file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write hosts file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		// A bind-mounted hosts file cannot be replaced, only rewritten.
		if werr := os.WriteFile(path, data, mode); werr != nil {
			return fmt.Errorf("failed to replace hosts file: %w", err)
		}
	}
	return nil
}
