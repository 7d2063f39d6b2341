package waf

import (
	"reflect"
)

// ChangeToken signals that a previously returned snapshot is stale.
type ChangeToken interface {
	// Changed returns a channel that is closed once the snapshot is stale.
	// A nil channel means the source cannot push notifications and has to be polled.
	Changed() <-chan struct{}
}

// ConfigSnapshot is an immutable view of one config source.
type ConfigSnapshot struct {
	RouteFirewalls []RouteFirewallConfig
	Extensions     Extensions
	ChangeToken    ChangeToken
}

// ConfigProvider is a source of firewall configuration.
type ConfigProvider interface {
	GetConfig() (ConfigSnapshot, error)
}

// Route is a proxied endpoint that a firewall configuration attaches to.
type Route struct {
	ID       string `yaml:"routeId" json:"routeId"`
	Path     string `yaml:"path" json:"path"`
	Upstream string `yaml:"upstream" json:"upstream"`
}

// RouteSource provides the current proxy route table.
type RouteSource interface {
	Routes() ([]Route, ChangeToken)
}

// Extensions is a side-table of config extension values keyed by their type.
type Extensions map[reflect.Type]interface{}

// SetExtension stores v under its own type.
func SetExtension[T any](e Extensions, v T) {
	e[reflect.TypeOf((*T)(nil)).Elem()] = v
}

// GetExtension returns the value stored under type T.
func GetExtension[T any](e Extensions) (v T, ok bool) {
	if e == nil {
		return
	}
	raw, found := e[reflect.TypeOf((*T)(nil)).Elem()]
	if !found {
		return
	}
	v, ok = raw.(T)
	return
}
