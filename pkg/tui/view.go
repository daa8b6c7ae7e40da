package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/codeGROOVE-dev/pr-bro/pkg/output"
)

// Lines used by everything except the list: title, tabs, status, footer.
const chromeHeight = 4

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	activeTab     = lipgloss.NewStyle().Bold(true).Reverse(true).Padding(0, 1)
	inactiveTab   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Padding(0, 1)
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	modalStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("39")).Padding(0, 1)
	emptyMessages = [2]string{"No PRs to review", "Nothing snoozed"}
)

// View implements tea.Model.
func (m Model) View() string {
	if m.width > 0 && (m.width < 30 || m.height < 6) {
		return "Terminal too small"
	}

	var body string
	switch m.mode {
	case modeSnooze:
		body = m.modal(m.input.View() + "\n\n" + mutedStyle.Render("enter to confirm · esc to cancel"))
	case modeBreakdown:
		body = m.modal(m.breakdownView())
	case modeHelp:
		body = m.modal(helpText)
	default:
		body = m.listView()
	}
	return lipgloss.JoinVertical(lipgloss.Left, m.titleView(), m.tabsView(), body, m.statusView(), m.footerView())
}

func (m Model) titleView() string {
	left := titleStyle.Render("PR Bro")
	if m.result == nil || m.result.RateLimitRemaining < 0 {
		return left
	}
	right := mutedStyle.Render(fmt.Sprintf("API: %d remaining", m.result.RateLimitRemaining))
	gap := max(m.width-lipgloss.Width(left)-lipgloss.Width(right), 1)
	return left + strings.Repeat(" ", gap) + right
}

func (m Model) tabsView() string {
	labels := [2]string{
		fmt.Sprintf("Active (%d)", len(m.lists[viewActive].Items())),
		fmt.Sprintf("Snoozed (%d)", len(m.lists[viewSnoozed].Items())),
	}
	tabs := make([]string, len(labels))
	for i, l := range labels {
		if view(i) == m.view {
			tabs[i] = activeTab.Render(l)
		} else {
			tabs[i] = inactiveTab.Render(l)
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (m Model) listView() string {
	l := m.lists[m.view]
	if len(l.Items()) == 0 {
		msg := emptyMessages[m.view]
		if m.result == nil && m.loading {
			msg = "Loading..."
		}
		return lipgloss.Place(max(m.width, len(msg)), max(m.height-chromeHeight, 1), lipgloss.Center, lipgloss.Center, msg)
	}
	return l.View()
}

func (m Model) modal(content string) string {
	box := modalStyle.Render(content)
	if m.width == 0 {
		return box
	}
	return lipgloss.Place(m.width, max(m.height-chromeHeight, lipgloss.Height(box)), lipgloss.Center, lipgloss.Center, box)
}

func (m Model) breakdownView() string {
	it, ok := m.selected()
	if !ok {
		return "No pull request selected"
	}
	return strings.Trim(output.Explain(&it.item, m.cfg.Now()), "\n")
}

func (m Model) statusView() string {
	switch {
	case m.authErr != nil:
		return errStyle.Render(m.flash)
	case m.loading:
		return mutedStyle.Render("Refreshing...")
	case m.flash != "":
		return warnStyle.Render(m.flash)
	case m.result != nil && len(m.result.Warnings) > 0:
		w := m.result.Warnings[0]
		if n := len(m.result.Warnings) - 1; n > 0 {
			w = fmt.Sprintf("%s (+%d more)", w, n)
		}
		return warnStyle.Render(w)
	case m.result != nil:
		return mutedStyle.Render("Updated " + m.result.FetchedAt.Format("15:04:05"))
	}
	return ""
}

func (m Model) footerView() string {
	switch m.mode {
	case modeSnooze, modeBreakdown, modeHelp:
		return mutedStyle.Render("esc to close")
	}
	if m.view == viewSnoozed {
		return mutedStyle.Render("↑/↓ move · u unsnooze · z undo · tab active · r refresh · ? help · q quit")
	}
	return mutedStyle.Render("↑/↓ move · o open · b breakdown · s snooze · z undo · tab snoozed · r refresh · ? help · q quit")
}

const helpText = `Keys

  j/k, ↑/↓   move
  o, enter   open in browser
  b          score breakdown
  s          snooze (active view)
  u          unsnooze (snoozed view)
  z          undo last snooze change
  tab        switch active/snoozed
  r          refresh now, bypassing the in-memory cache
  q          quit

The list refreshes on its own while you are idle.`
