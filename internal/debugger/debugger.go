// Package debugger provides an interactive single-step TUI over a
// running hart, built with bubbletea and lipgloss the way the teacher's
// own debugger model renders CPU state and steps on a keypress.
package debugger

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/davecgh/go-spew/spew"

	"rv32hart/internal/decoder"
	"rv32hart/internal/hart"
	"rv32hart/internal/mmu"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	faultStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

type model struct {
	h       *hart.Hart
	steps   int
	lastErr error
	done    bool
}

// Init performs no command; the hart is already loaded by the caller.
func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ", "n":
			if m.done {
				return m, nil
			}
			if !m.h.Step() {
				m.done = true
			}
			m.steps++
		}
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render(fmt.Sprintf("step %d  pc=0x%08x  retired=%d", m.steps, m.h.PC, m.h.Retired)))
	b.WriteString("\n\n")

	if m.done {
		b.WriteString(faultStyle.Render("run terminated — press q to exit"))
		b.WriteString("\n\n")
	}

	word, ok, err := m.h.Mem.ReadWord(m.h.PC, mmu.AccessExecute)
	if err == nil && ok {
		if action, _, derr := decoder.Decode(word); derr == nil {
			b.WriteString(fmt.Sprintf("next: %s\n\n", decoder.Disassemble(action)))
		}
	}

	b.WriteString(spew.Sdump(m.h.GPR))
	b.WriteString("\nspace/n: step   q: quit\n")
	return b.String()
}

// Run starts the interactive debugger over h, calling Step once per
// keypress (one instruction, or a whole cached block) until the user
// quits.
func Run(h *hart.Hart) error {
	_, err := tea.NewProgram(model{h: h}).Run()
	return err
}
