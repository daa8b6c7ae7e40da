// Package tui is the interactive browser for the ranked review list.
package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/codeGROOVE-dev/pr-bro/pkg/effect"
	"github.com/codeGROOVE-dev/pr-bro/pkg/fetch"
	"github.com/codeGROOVE-dev/pr-bro/pkg/github"
	"github.com/codeGROOVE-dev/pr-bro/pkg/snooze"
)

type view int

const (
	viewActive view = iota
	viewSnoozed
)

type mode int

const (
	modeNormal mode = iota
	modeSnooze
	modeBreakdown
	modeHelp
)

const (
	// Automatic refreshes wait until the user has been idle this long.
	interactionGrace = 10 * time.Second
	maxUndo          = 20
)

// SnoozeStore persists snoozes.
type SnoozeStore interface {
	Snooze(ctx context.Context, url string, d time.Duration) (snooze.Entry, error)
	Unsnooze(ctx context.Context, url string) (bool, error)
	Snapshot(ctx context.Context) (snooze.Set, error)
}

// Config wires the browser to the rest of the program.
type Config struct {
	// Refresh runs one refresh. Manual refreshes bypass the in-process cache.
	Refresh func(ctx context.Context, manual bool) (*fetch.Result, error)
	Snoozes SnoozeStore
	// Open shows a pull request in the browser.
	Open func(url string) error
	// Triggers, when set, requests an automatic refresh per value received.
	Triggers    <-chan string
	Now         func() time.Time
	AutoRefresh time.Duration // zero disables the timer
}

type refreshedMsg struct {
	err     error
	res     *fetch.Result
	snoozes snooze.Set
}

type autoTickMsg struct{}

type retryMsg struct{}

type triggerMsg struct{ url string }

// Model is the bubbletea model.
type Model struct {
	ctx             context.Context
	lastInteraction time.Time
	authErr         error
	result          *fetch.Result
	snoozes         snooze.Set
	cfg             Config
	flash           string
	undo            []undoAction
	lists           [2]list.Model
	input           textinput.Model
	width           int
	height          int
	view            view
	mode            mode
	loading         bool
	pendingManual   bool
	pendingAuto     bool
	retryArmed      bool
}

// New creates the model. The first refresh starts from Init.
func New(ctx context.Context, cfg Config) Model {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	input := textinput.New()
	input.Placeholder = "e.g. 2h, 3d, 1w (empty = indefinite)"
	input.Prompt = "Snooze for: "
	input.CharLimit = 16

	m := Model{
		ctx:     ctx,
		cfg:     cfg,
		input:   input,
		snoozes: snooze.Set{},
		loading: true,
	}
	for i := range m.lists {
		delegate := list.NewDefaultDelegate()
		delegate.ShowDescription = true
		l := list.New(nil, delegate, 0, 0)
		l.SetShowTitle(false)
		l.SetShowStatusBar(false)
		l.SetShowHelp(false)
		l.SetFilteringEnabled(false)
		l.KeyMap.Quit.SetEnabled(false)
		m.lists[i] = l
	}
	return m
}

// Init starts the first refresh, the auto-refresh timer and the event watcher.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refreshCmd(false), m.scheduleAuto(), m.waitTrigger())
}

func (m Model) refreshCmd(manual bool) tea.Cmd {
	ctx, refresh, store := m.ctx, m.cfg.Refresh, m.cfg.Snoozes
	return func() tea.Msg {
		res, err := refresh(ctx, manual)
		if err != nil {
			return refreshedMsg{err: err}
		}
		set := snooze.Set{}
		if store != nil {
			if set, err = store.Snapshot(ctx); err != nil {
				slog.Warn("Failed to read snoozes", "component", "tui", "error", err)
				set = snooze.Set{}
			}
		}
		return refreshedMsg{res: res, snoozes: set}
	}
}

func (m Model) scheduleAuto() tea.Cmd {
	if m.cfg.AutoRefresh <= 0 {
		return nil
	}
	return tea.Tick(m.cfg.AutoRefresh, func(time.Time) tea.Msg { return autoTickMsg{} })
}

func (m Model) waitTrigger() tea.Cmd {
	ch := m.cfg.Triggers
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		url, ok := <-ch
		if !ok {
			return nil
		}
		return triggerMsg{url: url}
	}
}

// startRefresh begins a refresh, or queues a manual one behind the running one.
func (m *Model) startRefresh(manual bool) tea.Cmd {
	if m.loading {
		if manual {
			m.pendingManual = true
		}
		return nil
	}
	m.loading = true
	m.pendingAuto = false
	return m.refreshCmd(manual)
}

// requestAuto runs an automatic refresh unless the user is busy, in which
// case it is retried once they are idle.
func (m *Model) requestAuto() tea.Cmd {
	idle := m.cfg.Now().Sub(m.lastInteraction) >= interactionGrace
	if !m.loading && m.mode == modeNormal && idle {
		return m.startRefresh(false)
	}
	m.pendingAuto = true
	if m.retryArmed {
		return nil
	}
	m.retryArmed = true
	return tea.Tick(interactionGrace, func(time.Time) tea.Msg { return retryMsg{} })
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		h := max(msg.Height-chromeHeight, 4)
		for i := range m.lists {
			m.lists[i].SetSize(msg.Width, h)
		}
		return m, nil

	case refreshedMsg:
		m.loading = false
		m.applyRefresh(msg)
		if m.pendingManual {
			m.pendingManual = false
			cmd := m.startRefresh(true)
			return m, cmd
		}
		if m.pendingAuto {
			cmd := m.requestAuto()
			return m, cmd
		}
		return m, nil

	case autoTickMsg:
		cmd := m.requestAuto()
		return m, tea.Batch(cmd, m.scheduleAuto())

	case retryMsg:
		m.retryArmed = false
		if m.pendingAuto {
			cmd := m.requestAuto()
			return m, cmd
		}
		return m, nil

	case triggerMsg:
		slog.Debug("Live update", "component", "tui", "url", msg.url)
		cmd := m.requestAuto()
		return m, tea.Batch(cmd, m.waitTrigger())

	case tea.KeyMsg:
		m.lastInteraction = m.cfg.Now()
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.mode {
		case modeSnooze:
			return m.updateSnoozeInput(msg)
		case modeBreakdown:
			return m.updateBreakdown(msg)
		case modeHelp:
			m.mode = modeNormal
			return m, nil
		default:
			return m.updateNormal(msg)
		}
	}
	return m, nil
}

func (m *Model) applyRefresh(msg refreshedMsg) {
	if msg.err != nil {
		var ae *github.AuthError
		if errors.As(msg.err, &ae) {
			m.authErr = msg.err
			m.flash = "GitHub rejected the token. Set PR_BRO_GH_TOKEN and restart pr-bro."
		} else {
			m.flash = "Refresh failed: " + msg.err.Error()
		}
		slog.Warn("Refresh failed", "component", "tui", "error", msg.err)
		return
	}
	m.authErr = nil
	m.result = msg.res
	m.snoozes = msg.snoozes
	if m.snoozes == nil {
		m.snoozes = snooze.Set{}
	}
	if msg.res.TimedOut {
		m.flash = "Refresh timed out; showing what finished."
	} else {
		m.flash = ""
	}
	m.rebuild()
}

// rebuild splits the last result into the two lists, keeping the selection
// on the same pull request where possible.
func (m *Model) rebuild() {
	if m.result == nil {
		return
	}
	now := m.cfg.Now()
	active, held := m.result.Split(func(url string) bool { return m.snoozes.IsSnoozed(url, now) })

	for v, items := range [2][]fetch.Item{active, held} {
		selected := m.selectedURL(view(v))
		listItems := make([]list.Item, len(items))
		pos := 0
		for i, it := range items {
			pi := prItem{item: it, rank: i + 1, now: now}
			if view(v) == viewSnoozed {
				pi.note = m.snoozes[it.PR.URL].Remaining(now)
			}
			if it.PR.URL == selected {
				pos = i
			}
			listItems[i] = pi
		}
		m.lists[v].SetItems(listItems)
		if len(listItems) > 0 {
			m.lists[v].Select(min(pos, len(listItems)-1))
		}
	}
}

func (m *Model) selectedURL(v view) string {
	if it, ok := m.lists[v].SelectedItem().(prItem); ok {
		return it.item.PR.URL
	}
	return ""
}

func (m *Model) selected() (prItem, bool) {
	it, ok := m.lists[m.view].SelectedItem().(prItem)
	return it, ok
}

func (m Model) updateNormal(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "r":
		m.flash = "Refreshing (fresh data)..."
		cmd := m.startRefresh(true)
		return m, cmd
	case "tab":
		m.view = 1 - m.view
		return m, nil
	case "s":
		if _, ok := m.selected(); ok && m.view == viewActive {
			m.mode = modeSnooze
			m.input.Reset()
			cmd := m.input.Focus()
			return m, cmd
		}
		return m, nil
	case "u":
		m.unsnoozeSelected()
		return m, nil
	case "z":
		m.undoLast()
		return m, nil
	case "b":
		if _, ok := m.selected(); ok {
			m.mode = modeBreakdown
		}
		return m, nil
	case "?":
		m.mode = modeHelp
		return m, nil
	case "o", "enter":
		m.openSelected()
		return m, nil
	}
	var cmd tea.Cmd
	m.lists[m.view], cmd = m.lists[m.view].Update(msg)
	return m, cmd
}

func (m Model) updateSnoozeInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.input.Blur()
		return m.closeModal()
	case "enter":
		m.confirmSnooze(m.input.Value())
		m.input.Blur()
		return m.closeModal()
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) updateBreakdown(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "b", "q":
		return m.closeModal()
	case "j", "k", "up", "down":
		var cmd tea.Cmd
		m.lists[m.view], cmd = m.lists[m.view].Update(msg)
		return m, cmd
	}
	return m, nil
}

// closeModal returns to the list and runs any automatic refresh that was
// held back while the modal was open.
func (m Model) closeModal() (tea.Model, tea.Cmd) {
	m.mode = modeNormal
	if m.pendingAuto {
		cmd := m.requestAuto()
		return m, cmd
	}
	return m, nil
}

func (m *Model) confirmSnooze(text string) {
	it, ok := m.selected()
	if !ok || m.cfg.Snoozes == nil {
		return
	}
	var d time.Duration
	if text = strings.TrimSpace(text); text != "" {
		parsed, err := effect.ParseDuration(text)
		if err != nil || parsed <= 0 {
			m.flash = fmt.Sprintf("Invalid duration: %q", text)
			return
		}
		d = parsed
	}
	e, err := m.cfg.Snoozes.Snooze(m.ctx, it.item.PR.URL, d)
	if err != nil {
		m.flash = "Failed to save snooze: " + err.Error()
		return
	}
	m.snoozes[e.URL] = e
	m.pushUndo(undoAction{url: e.URL, title: it.item.PR.Title, snoozed: true})
	m.rebuild()
	m.flash = fmt.Sprintf("Snoozed: %s (z to undo)", it.item.PR.Title)
}

func (m *Model) unsnoozeSelected() {
	it, ok := m.selected()
	if !ok || m.view != viewSnoozed || m.cfg.Snoozes == nil {
		return
	}
	url := it.item.PR.URL
	prev := m.snoozes[url]
	if _, err := m.cfg.Snoozes.Unsnooze(m.ctx, url); err != nil {
		m.flash = "Failed to save snooze: " + err.Error()
		return
	}
	delete(m.snoozes, url)
	m.pushUndo(undoAction{url: url, title: it.item.PR.Title, prev: prev})
	m.rebuild()
	m.flash = fmt.Sprintf("Unsnoozed: %s (z to undo)", it.item.PR.Title)
}

func (m *Model) pushUndo(a undoAction) {
	m.undo = append(m.undo, a)
	if len(m.undo) > maxUndo {
		m.undo = m.undo[len(m.undo)-maxUndo:]
	}
}

func (m *Model) undoLast() {
	if len(m.undo) == 0 || m.cfg.Snoozes == nil {
		m.flash = "Nothing to undo"
		return
	}
	a := m.undo[len(m.undo)-1]
	m.undo = m.undo[:len(m.undo)-1]

	if a.snoozed {
		if _, err := m.cfg.Snoozes.Unsnooze(m.ctx, a.url); err != nil {
			m.flash = "Failed to save snooze: " + err.Error()
			return
		}
		delete(m.snoozes, a.url)
		m.flash = "Undid snooze: " + a.title
	} else {
		var d time.Duration
		if !a.prev.Indefinite() {
			d = max(a.prev.Until.Sub(m.cfg.Now()), time.Minute)
		}
		e, err := m.cfg.Snoozes.Snooze(m.ctx, a.url, d)
		if err != nil {
			m.flash = "Failed to save snooze: " + err.Error()
			return
		}
		m.snoozes[a.url] = e
		m.flash = "Undid unsnooze: " + a.title
	}
	m.rebuild()
}

func (m *Model) openSelected() {
	it, ok := m.selected()
	if !ok || m.cfg.Open == nil {
		return
	}
	if err := m.cfg.Open(it.item.PR.URL); err != nil {
		m.flash = "Failed to open browser: " + err.Error()
		return
	}
	m.flash = "Opened " + it.item.PR.ShortRef()
}

// Run starts the program and blocks until the user quits.
func Run(ctx context.Context, cfg Config) error {
	p := tea.NewProgram(New(ctx, cfg), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("run tui: %w", err)
	}
	return nil
}
