package wire

import (
	"encoding/json"
	"fmt"
)

// Command tags (host to surface).
const (
	CmdRender = "render"
	CmdTheme  = "theme"
	CmdScroll = "scroll"
)

// Theme values accepted by theme commands.
const (
	ThemeLight = "light"
	ThemeDark  = "dark"
)

// Signal tags (surface to host).
const (
	SigReady        = "ready"
	SigSize         = "size"
	SigRuntimeError = "runtime-error"
)

// Command is one host-to-surface instruction. The Type tag selects which
// fields are meaningful; everything else stays at its zero value.
type Command struct {
	Type        string         `json:"type"`
	Code        string         `json:"code,omitempty"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
	Value       string         `json:"value,omitempty"`
	Ratio       float64        `json:"ratio,omitempty"`
}

// RenderCommand replaces the surface's document with a compiled program.
func RenderCommand(code string, frontmatter map[string]any) Command {
	return Command{Type: CmdRender, Code: code, Frontmatter: frontmatter}
}

// ThemeCommand switches the surface theme.
func ThemeCommand(value string) Command {
	return Command{Type: CmdTheme, Value: value}
}

// ScrollCommand moves the surface viewport to a normalized ratio in [0,1].
func ScrollCommand(ratio float64) Command {
	return Command{Type: CmdScroll, Ratio: ratio}
}

// Validate checks the command against its tag's structural shape. Unknown
// tags fail with ErrUnknownTag so receivers can drop them silently.
func (c Command) Validate() error {
	switch c.Type {
	case CmdRender:
		return nil
	case CmdTheme:
		if c.Value != ThemeLight && c.Value != ThemeDark {
			return fmt.Errorf("%w: theme %q", ErrBadPayload, c.Value)
		}
		return nil
	case CmdScroll:
		if c.Ratio < 0 || c.Ratio > 1 {
			return fmt.Errorf("%w: scroll ratio %v", ErrBadPayload, c.Ratio)
		}
		return nil
	default:
		return fmt.Errorf("%w: command %q", ErrUnknownTag, c.Type)
	}
}

// ParseCommand decodes and validates one command frame.
func ParseCommand(data []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(data, &c); err != nil {
		return Command{}, fmt.Errorf("wire: decode command: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Command{}, err
	}
	return c, nil
}

// Signal is one surface-to-host notification. Session carries the token
// issued to the surface at spawn; the host drops frames whose token does
// not match the live surface.
type Signal struct {
	Type           string `json:"type"`
	Session        string `json:"session,omitempty"`
	Height         int    `json:"height,omitempty"`
	Message        string `json:"message,omitempty"`
	ComponentStack string `json:"componentStack,omitempty"`
}

// ReadySignal announces that the surface finished initializing.
func ReadySignal(session string) Signal {
	return Signal{Type: SigReady, Session: session}
}

// SizeSignal reports the surface's rendered content height in pixels.
func SizeSignal(session string, height int) Signal {
	return Signal{Type: SigSize, Session: session, Height: height}
}

// RuntimeErrorSignal reports a failure inside the surface without tearing
// it down.
func RuntimeErrorSignal(session, message, componentStack string) Signal {
	return Signal{Type: SigRuntimeError, Session: session, Message: message, ComponentStack: componentStack}
}

// Validate checks the signal against its tag's structural shape.
func (s Signal) Validate() error {
	switch s.Type {
	case SigReady:
		return nil
	case SigSize:
		if s.Height < 0 {
			return fmt.Errorf("%w: height %d", ErrBadPayload, s.Height)
		}
		return nil
	case SigRuntimeError:
		if s.Message == "" {
			return fmt.Errorf("%w: runtime-error without message", ErrBadPayload)
		}
		return nil
	default:
		return fmt.Errorf("%w: signal %q", ErrUnknownTag, s.Type)
	}
}

// ParseSignal decodes and validates one signal frame.
func ParseSignal(data []byte) (Signal, error) {
	var s Signal
	if err := json.Unmarshal(data, &s); err != nil {
		return Signal{}, fmt.Errorf("wire: decode signal: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Signal{}, err
	}
	return s, nil
}
