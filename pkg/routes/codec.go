// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package routes

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// document is the flattened file representation of a Route: the kind's
// fields sit next to the route's own, selected by the "type" tag.
type document struct {
	ID          string      `json:"id" yaml:"id"`
	Type        string      `json:"type" yaml:"type"`
	Domain      string      `json:"domain,omitempty" yaml:"domain,omitempty"`
	SourcePort  uint16      `json:"source_port,omitempty" yaml:"source_port,omitempty"`
	TargetHost  string      `json:"target_host,omitempty" yaml:"target_host,omitempty"`
	TargetPort  uint16      `json:"target_port" yaml:"target_port"`
	SSLEnabled  bool        `json:"ssl_enabled" yaml:"ssl_enabled"`
	SSLMode     SSLModeKind `json:"ssl_mode,omitempty" yaml:"ssl_mode,omitempty"`
	SSLCertPath string      `json:"ssl_cert_path,omitempty" yaml:"ssl_cert_path,omitempty"`
	SSLKeyPath  string      `json:"ssl_key_path,omitempty" yaml:"ssl_key_path,omitempty"`
	Enabled     *bool       `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	CreatedAt   time.Time   `json:"created_at" yaml:"created_at"`
}

func (r Route) document() document {
	enabled := r.Enabled
	doc := document{
		ID:          r.ID,
		SSLEnabled:  r.SSLEnabled,
		SSLMode:     r.SSLMode.Kind,
		SSLCertPath: r.SSLMode.CertPath,
		SSLKeyPath:  r.SSLMode.KeyPath,
		Enabled:     &enabled,
		CreatedAt:   r.CreatedAt,
	}
	switch k := r.Kind.(type) {
	case Domain:
		doc.Type = TypeDomain
		doc.Domain = k.Domain
		doc.TargetHost = k.TargetHost
		doc.TargetPort = k.TargetPort
	case PortMapping:
		doc.Type = TypePortMapping
		doc.SourcePort = k.SourcePort
		doc.TargetHost = k.TargetHost
		doc.TargetPort = k.TargetPort
	}
	return doc
}

func (d document) route() (Route, error) {
	host := d.TargetHost
	if host == "" {
		host = DefaultTargetHost
	}
	r := Route{
		ID:         d.ID,
		SSLEnabled: d.SSLEnabled,
		SSLMode: SSLMode{
			Kind:     d.SSLMode,
			CertPath: d.SSLCertPath,
			KeyPath:  d.SSLKeyPath,
		},
		Enabled:   d.Enabled == nil || *d.Enabled,
		CreatedAt: d.CreatedAt,
	}
	if r.SSLMode.Kind == "" {
		r.SSLMode.Kind = SSLSelfSigned
	}
	switch d.Type {
	case TypeDomain:
		r.Kind = Domain{Domain: d.Domain, TargetHost: host, TargetPort: d.TargetPort}
	case TypePortMapping:
		r.Kind = PortMapping{SourcePort: d.SourcePort, TargetHost: host, TargetPort: d.TargetPort}
	default:
		return Route{}, fmt.Errorf("unknown route type %q", d.Type)
	}
	return r, nil
}

// MarshalJSON implements json.Marshaler.
func (r Route) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.document())
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Route) UnmarshalJSON(data []byte) error {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	route, err := doc.route()
	if err != nil {
		return err
	}
	*r = route
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (r Route) MarshalYAML() (interface{}, error) {
	return r.document(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *Route) UnmarshalYAML(value *yaml.Node) error {
	var doc document
	if err := value.Decode(&doc); err != nil {
		return err
	}
	route, err := doc.route()
	if err != nil {
		return err
	}
	*r = route
	return nil
}
