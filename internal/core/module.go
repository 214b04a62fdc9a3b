package core

import "strings"

// ModuleID is a dotted, namespaced module identifier such as
// "channel.telegram" or "backend.openai".
type ModuleID string

// Namespace returns the part of the ID before the first dot.
func (id ModuleID) Namespace() string {
	ns, _, _ := strings.Cut(string(id), ".")
	return ns
}

// Name returns the part of the ID after the namespace, or the whole ID
// when it has none. Channels use it as the value of InboundMessage.Channel.
func (id ModuleID) Name() string {
	if _, name, ok := strings.Cut(string(id), "."); ok {
		return name
	}
	return string(id)
}

// ModuleInfo describes a registered module.
type ModuleInfo struct {
	ID  ModuleID
	New func() Module
}

// Module is implemented by every pluggable component.
type Module interface {
	ModuleInfo() ModuleInfo
}
