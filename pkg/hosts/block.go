// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package hosts

import (
	"errors"
	"net"
	"slices"
	"strings"
)

const (
	// MarkerStart opens the managed block.
	MarkerStart = "# === Domain Router START ==="

	// MarkerEnd closes the managed block.
	MarkerEnd = "# === Domain Router END ==="

	// Address is the address managed domains resolve to.
	Address = "127.0.0.1"
)

var errUnterminated = errors.New("managed block has no end marker")

// Entry is an address line of the managed block.
type Entry struct {
	Address string `json:"address"`
	Domain  string `json:"domain"`
	Enabled bool   `json:"enabled"`
}

// document is a hosts file split around the managed block.
type document struct {
	before  []string
	block   []string
	after   []string
	managed bool
}

func parse(content string) (*document, error) {
	var lines []string
	if content != "" {
		lines = strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	}

	start := slices.IndexFunc(lines, isLine(MarkerStart))
	if start < 0 {
		return &document{before: lines}, nil
	}
	end := slices.IndexFunc(lines[start+1:], isLine(MarkerEnd))
	if end < 0 {
		return nil, errUnterminated
	}
	end += start + 1

	return &document{
		before:  slices.Clone(lines[:start]),
		block:   slices.Clone(lines[start+1 : end]),
		after:   slices.Clone(lines[end+1:]),
		managed: true,
	}, nil
}

func isLine(marker string) func(string) bool {
	return func(line string) bool {
		return strings.TrimSpace(line) == marker
	}
}

func (d *document) String() string {
	var b strings.Builder
	write := func(lines ...string) {
		for _, l := range lines {
			b.WriteString(l)
			b.WriteByte('\n')
		}
	}

	write(d.before...)
	if d.managed {
		write(MarkerStart)
		write(d.block...)
		write(MarkerEnd)
	}
	write(d.after...)
	return b.String()
}

// parseEntry reads an address line, commented out or not.
func parseEntry(line string) (Entry, bool) {
	s := strings.TrimSpace(line)
	enabled := !strings.HasPrefix(s, "#")
	fields := strings.Fields(strings.TrimLeft(s, "#"))
	if len(fields) < 2 || net.ParseIP(fields[0]) == nil {
		return Entry{}, false
	}
	return Entry{Address: fields[0], Domain: fields[1], Enabled: enabled}, true
}

func hasDomain(line, domain string) bool {
	e, ok := parseEntry(line)
	return ok && e.Domain == domain
}

// add enables domain, appending it to the block when absent. Duplicate
// lines for domain are dropped.
func (d *document) add(domain string) {
	if !d.managed {
		if n := len(d.before); n > 0 && strings.TrimSpace(d.before[n-1]) != "" {
			d.before = append(d.before, "")
		}
		d.managed = true
	}

	line := Address + " " + domain
	found := false
	block := make([]string, 0, len(d.block)+1)
	for _, l := range d.block {
		if !hasDomain(l, domain) {
			block = append(block, l)
			continue
		}
		if !found {
			block = append(block, line)
			found = true
		}
	}
	if !found {
		block = append(block, line)
	}
	d.block = block
}

func (d *document) remove(domain string) {
	d.block = slices.DeleteFunc(d.block, func(l string) bool { return hasDomain(l, domain) })
}

// toggle comments domain out or back in. Enabling a domain missing from
// the block adds it; disabling one is a no-op.
func (d *document) toggle(domain string, enabled bool) {
	found := false
	for i, l := range d.block {
		if !hasDomain(l, domain) {
			continue
		}
		found = true
		s := strings.TrimSpace(l)
		switch {
		case enabled:
			d.block[i] = strings.TrimSpace(strings.TrimLeft(s, "#"))
		case !strings.HasPrefix(s, "#"):
			d.block[i] = "# " + s
		}
	}
	if !found && enabled {
		d.add(domain)
	}
}

func (d *document) entries() []Entry {
	var entries []Entry
	for _, l := range d.block {
		if e, ok := parseEntry(l); ok {
			entries = append(entries, e)
		}
	}
	return entries
}
