// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package privilege

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"

	proxyerrors "github.com/sowndev0106/domain-router/pkg/errors"
)

// PrivilegedPortLimit is the first port any user may bind.
const PrivilegedPortLimit = 1024

// Broker ensures the process may bind the given ports.
type Broker interface {
	EnsurePrivilege(ports []uint16) error
}

// BrokerFunc adapts a function to Broker.
type BrokerFunc func(ports []uint16) error

// EnsurePrivilege calls f(ports).
func (f BrokerFunc) EnsurePrivilege(ports []uint16) error {
	return f(ports)
}

// Noop grants every request.
var Noop Broker = BrokerFunc(func([]uint16) error { return nil })

// NeedsPrivilege reports whether binding any of ports requires privilege.
// Windows never does.
func NeedsPrivilege(ports []uint16) bool {
	if runtime.GOOS == "windows" {
		return false
	}
	for _, p := range ports {
		if p < PrivilegedPortLimit {
			return true
		}
	}
	return false
}

// CapabilityBroker checks for CAP_NET_BIND_SERVICE and, when Request is set,
// grants it to the executable with pkexec setcap.
type CapabilityBroker struct {
	// Executable is the binary to grant the capability to. Default: os.Executable().
	Executable string

	// Request enables the interactive pkexec fallback.
	Request bool

	// Logger for broker events
	Logger *slog.Logger

	hasCapability func() bool
	run           func(name string, args ...string) error
}

// NewCapabilityBroker creates a broker for the running executable.
func NewCapabilityBroker(request bool, logger *slog.Logger) *CapabilityBroker {
	if logger == nil {
		logger = slog.Default()
	}
	return &CapabilityBroker{
		Request:       request,
		Logger:        logger,
		hasCapability: hasBindCapability,
		run:           runCommand,
	}
}

// EnsurePrivilege returns nil when ports need no privilege or the process
// already holds it. Otherwise it requests the capability if allowed and
// returns an error matching errors.ErrPrivilege with remediation steps.
func (b *CapabilityBroker) EnsurePrivilege(ports []uint16) error {
	if !NeedsPrivilege(ports) {
		b.Logger.Debug("no privileged ports requested", slog.Any("ports", ports))
		return nil
	}

	b.Logger.Info("privileged ports requested", slog.Any("ports", ports))
	if b.hasCapability() {
		b.Logger.Info("process may bind privileged ports")
		return nil
	}

	exe, err := b.executable()
	if err != nil {
		return proxyerrors.Kind(proxyerrors.ErrPrivilege, err)
	}

	if !b.Request {
		return remediation(exe, nil)
	}

	b.Logger.Info("requesting CAP_NET_BIND_SERVICE", slog.String("executable", exe))
	if err := b.run(ElevatedCommand, "setcap", "cap_net_bind_service=+ep", exe); err != nil {
		b.Logger.Error("failed to grant capability", slog.String("error", err.Error()))
		return remediation(exe, err)
	}

	// File capabilities apply from the next exec of the binary.
	if !b.hasCapability() {
		return proxyerrors.Kind(proxyerrors.ErrPrivilege,
			fmt.Errorf("capability granted to %s; restart domain-router to apply it", exe))
	}
	return nil
}

func (b *CapabilityBroker) executable() (string, error) {
	if b.Executable != "" {
		return b.Executable, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}
	return exe, nil
}

func remediation(exe string, cause error) error {
	msg := fmt.Sprintf("failed to obtain permission to bind to ports 80/443. You can either:\n"+
		"1. Run this command manually: sudo setcap 'cap_net_bind_service=+ep' %s\n"+
		"2. Or run the application with sudo", exe)
	if cause != nil {
		return fmt.Errorf("%w: %s: %w", proxyerrors.ErrPrivilege, msg, cause)
	}
	return fmt.Errorf("%w: %s", proxyerrors.ErrPrivilege, msg)
}

func runCommand(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
