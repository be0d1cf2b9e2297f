// Package terminal drives agent terminal panes through multiplexer CLIs.
//
// The daemon never talks to an agent's model provider. Keystroke injection
// into the pane running the agent CLI is the whole control surface: approvals,
// rejections, interrupts, mesh messages, and spawned sessions all go through
// tmux, kitty, wezterm, or zellij.
package terminal

import (
	"encoding/json"
	"errors"
)

// Multiplexer kinds.
const (
	MuxTmux    = "tmux"
	MuxKitty   = "kitty"
	MuxWezterm = "wezterm"
	MuxZellij  = "zellij"
)

var (
	// ErrNoTerminal means the session has no pane handle on record.
	ErrNoTerminal = errors.New("no terminal data")
	// ErrInvalidTerminal means the stored handle is not valid JSON.
	ErrInvalidTerminal = errors.New("invalid terminal data")
)

// Handle identifies an agent's terminal pane. Only the fields for the handle's
// multiplexer are populated; the rest stay empty and are omitted from JSON.
type Handle struct {
	Multiplexer   string `json:"multiplexer,omitempty"`
	TmuxSocket    string `json:"tmux_socket,omitempty"`
	TmuxPane      string `json:"tmux_pane,omitempty"`
	KittyWindowID string `json:"kitty_window_id,omitempty"`
	KittySocket   string `json:"kitty_socket,omitempty"`
	WeztermPane   string `json:"wezterm_pane,omitempty"`
	WeztermSocket string `json:"wezterm_socket,omitempty"`
	ZellijSession string `json:"zellij_session,omitempty"`
}

// IsZero reports whether the handle carries no pane information.
func (h *Handle) IsZero() bool {
	return h == nil || *h == Handle{}
}

// PaneID returns the multiplexer-native pane identifier. Zellij addresses the
// focused pane of a session, so the session name stands in for a pane ID.
func (h *Handle) PaneID() string {
	switch h.Multiplexer {
	case MuxTmux:
		return h.TmuxPane
	case MuxKitty:
		return h.KittyWindowID
	case MuxWezterm:
		return h.WeztermPane
	case MuxZellij:
		return h.ZellijSession
	}
	return ""
}

// Encode serializes the handle for storage. A nil or empty handle encodes as
// '{}', the store's "no terminal" marker.
func (h *Handle) Encode() string {
	if h.IsZero() {
		return "{}"
	}
	raw, err := json.Marshal(h)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// ParseHandle decodes a stored pane handle. Returns ErrNoTerminal for the
// empty handle and ErrInvalidTerminal for malformed JSON.
func ParseHandle(raw string) (*Handle, error) {
	if raw == "" || raw == "{}" {
		return nil, ErrNoTerminal
	}
	var h Handle
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		return nil, ErrInvalidTerminal
	}
	if h.IsZero() {
		return nil, ErrNoTerminal
	}
	return &h, nil
}
