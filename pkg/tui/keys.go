package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the viewer key bindings.
type KeyMap struct {
	Quit    key.Binding
	Skip    key.Binding
	Details key.Binding
}

// DefaultKeyMap returns the default key map.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c", "esc"),
			key.WithHelp("q", "quit"),
		),
		Skip: key.NewBinding(
			key.WithKeys("s", "enter"),
			key.WithHelp("s", "skip to end"),
		),
		Details: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "toggle findings"),
		),
	}
}

func (k KeyMap) helpLine() string {
	out := ""
	for i, b := range []key.Binding{k.Skip, k.Details, k.Quit} {
		if i > 0 {
			out += "  "
		}
		h := b.Help()
		out += h.Key + " " + h.Desc
	}
	return out
}
