package cmd

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func press(m *menuModel, keys ...tea.KeyMsg) tea.Cmd {
	var cmd tea.Cmd
	for _, k := range keys {
		_, cmd = m.Update(k)
	}
	return cmd
}

func TestMenuModel(t *testing.T) {
	down := tea.KeyMsg{Type: tea.KeyDown}
	up := tea.KeyMsg{Type: tea.KeyUp}
	enter := tea.KeyMsg{Type: tea.KeyEnter}

	tests := []struct {
		name      string
		keys      []tea.KeyMsg
		want      action
		cancelled bool
	}{
		{name: "enter picks first", keys: []tea.KeyMsg{enter}, want: actionDownload},
		{name: "down then enter", keys: []tea.KeyMsg{down, enter}, want: actionUpload},
		{name: "cursor stops at bottom", keys: []tea.KeyMsg{down, down, down, down, enter}, want: actionRun},
		{name: "cursor stops at top", keys: []tea.KeyMsg{up, up, enter}, want: actionDownload},
		{name: "digit shortcut", keys: []tea.KeyMsg{{Type: tea.KeyRunes, Runes: []rune{'3'}}}, want: actionRun},
		{name: "vim keys", keys: []tea.KeyMsg{{Type: tea.KeyRunes, Runes: []rune{'j'}}, enter}, want: actionUpload},
		{name: "quit", keys: []tea.KeyMsg{{Type: tea.KeyRunes, Runes: []rune{'q'}}}, cancelled: true},
		{name: "escape", keys: []tea.KeyMsg{down, {Type: tea.KeyEsc}}, cancelled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &menuModel{}
			if cmd := press(m, tt.keys...); cmd == nil {
				t.Fatal("expected the final key to quit the program")
			}
			if m.cancelled != tt.cancelled {
				t.Fatalf("cancelled = %v, want %v", m.cancelled, tt.cancelled)
			}
			if tt.cancelled {
				if m.chosen != nil {
					t.Errorf("expected no choice, got %v", m.chosen.action)
				}
				return
			}
			if m.chosen == nil || m.chosen.action != tt.want {
				t.Errorf("chosen = %+v, want %s", m.chosen, tt.want)
			}
			if m.View() != "" {
				t.Error("view should be empty once a choice is made")
			}
		})
	}
}

func TestMenuViewHighlightsCursor(t *testing.T) {
	m := &menuModel{}
	press(m, tea.KeyMsg{Type: tea.KeyDown})
	view := m.View()
	for _, c := range menuChoices {
		if !strings.Contains(view, c.label) {
			t.Errorf("view missing %q:\n%s", c.label, view)
		}
	}
	if !strings.Contains(view, "> 2. "+menuChoices[1].label) {
		t.Errorf("cursor not on second entry:\n%s", view)
	}
}
