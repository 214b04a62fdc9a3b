package access

import (
	"fmt"
	"strings"
)

// Capability names one privileged action.
type Capability string

// The closed capability vocabulary.
const (
	CapBroadcast    Capability = "broadcast"
	CapImpersonate  Capability = "impersonate"
	CapManagePerms  Capability = "manage_perms"
	CapStats        Capability = "stats"
	CapMute         Capability = "mute"
	CapExport       Capability = "export"
	CapAdminChat    Capability = "admin_chat"
	CapPrivateReply Capability = "private_reply"
)

var allCapabilities = []Capability{
	CapBroadcast,
	CapImpersonate,
	CapManagePerms,
	CapStats,
	CapMute,
	CapExport,
	CapAdminChat,
	CapPrivateReply,
}

// AllCapabilities returns the vocabulary in display order.
func AllCapabilities() []Capability {
	out := make([]Capability, len(allCapabilities))
	copy(out, allCapabilities)
	return out
}

// Valid reports whether c belongs to the vocabulary.
func (c Capability) Valid() bool {
	for _, known := range allCapabilities {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCapability converts a user-supplied name into a Capability.
func ParseCapability(name string) (Capability, error) {
	c := Capability(strings.ToLower(strings.TrimSpace(name)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCapability, name)
	}
	return c, nil
}
