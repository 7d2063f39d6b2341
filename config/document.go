package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"proxywaf/waf"

	"gopkg.in/yaml.v3"
)

// Document is the YAML form of one config source.
type Document struct {
	Firewalls []waf.RouteFirewallConfig `yaml:"firewalls"`
	Routes    []waf.Route               `yaml:"routes"`
	GeoIP     *waf.GeoIPExtension       `yaml:"geoip"`
}

// ParseDocument decodes a YAML document. Unknown fields are rejected. An empty document is valid.
func ParseDocument(data []byte) (doc Document, err error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err = dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			err = nil
			return
		}
		err = fmt.Errorf("invalid config document: %w", err)
	}
	return
}

// Extensions returns the extension side-table described by the document.
func (d Document) Extensions() waf.Extensions {
	e := make(waf.Extensions)
	if d.GeoIP != nil {
		waf.SetExtension(e, *d.GeoIP)
	}
	return e
}

// Snapshot packages the document as an immutable ConfigSnapshot.
func (d Document) Snapshot(token waf.ChangeToken) waf.ConfigSnapshot {
	return waf.ConfigSnapshot{
		RouteFirewalls: d.Firewalls,
		Extensions:     d.Extensions(),
		ChangeToken:    token,
	}
}
