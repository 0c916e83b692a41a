package cmd

import (
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var errMenuAborted = errors.New("no action chosen")

type menuChoice struct {
	action action
	label  string
}

var menuChoices = []menuChoice{
	{actionDownload, "Download and package mods"},
	{actionUpload, "Upload packaged mods"},
	{actionRun, "Run all (download, package and upload)"},
}

var (
	menuTitleStyle    = lipgloss.NewStyle().Bold(true).MarginBottom(1)
	menuSelectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	menuHintStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).MarginTop(1)
)

// menuModel is a single-select list of actions.
type menuModel struct {
	cursor    int
	chosen    *menuChoice
	cancelled bool
}

// Init implements tea.Model.
func (m *menuModel) Init() tea.Cmd { return nil }

// Update implements tea.Model.
func (m *menuModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "ctrl+c", "esc", "q":
		m.cancelled = true
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(menuChoices)-1 {
			m.cursor++
		}
	case "1", "2", "3":
		m.cursor = int(key.Runes[0] - '1')
		fallthrough
	case "enter", " ":
		c := menuChoices[m.cursor]
		m.chosen = &c
		return m, tea.Quit
	}
	return m, nil
}

// View implements tea.Model.
func (m *menuModel) View() string {
	if m.chosen != nil || m.cancelled {
		return ""
	}
	var b strings.Builder
	b.WriteString(menuTitleStyle.Render("Select an action:"))
	b.WriteString("\n")
	for i, c := range menuChoices {
		line := fmt.Sprintf("%d. %s", i+1, c.label)
		if i == m.cursor {
			b.WriteString(menuSelectedStyle.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}
	b.WriteString(menuHintStyle.Render("up/down to move, enter to choose, q to quit"))
	return b.String()
}

func newMenuCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "menu",
		Short: "Choose an action interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := tea.NewProgram(&menuModel{}, tea.WithContext(cmd.Context()),
				tea.WithInput(cmd.InOrStdin()), tea.WithOutput(cmd.ErrOrStderr()))
			final, err := p.Run()
			if err != nil {
				return fmt.Errorf("menu: %w", err)
			}
			m := final.(*menuModel)
			if m.cancelled || m.chosen == nil {
				fmt.Fprintln(cmd.ErrOrStderr(), errMenuAborted)
				return nil
			}
			return a.runAction(cmd.Context(), cmd.OutOrStdout(), m.chosen.action, actionFlags{})
		},
	}
}
