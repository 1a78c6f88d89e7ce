package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/hotline-go/xfercore/transfer"
)

// runTransferMsg wraps one progress event surfaced from the transfer
// client; transferDoneMsg is sent once with the client's final result.
type runTransferMsg transfer.Event

type transferDoneMsg struct {
	err error
}

// transferModel is a single-task bubbletea program: it owns one progress
// bar animated from transfer.Event samples, following the task-progress
// pattern (one progress.Model per in-flight task, SetPercent driving a
// FrameMsg animation) the teacher client used for its multi-task screen,
// narrowed to exactly the one task this CLI invocation runs.
type transferModel struct {
	label    string
	prog     progress.Model
	events   <-chan transfer.Event
	done     <-chan error
	result   string
	err      error
	finished bool
	lastSent int64
	lastRate float64
	hasRate  bool
}

func newTransferModel(label string, events <-chan transfer.Event, done <-chan error) transferModel {
	p := progress.New(progress.WithDefaultGradient())
	p.Width = 40
	return transferModel{label: label, prog: p, events: events, done: done}
}

func (m transferModel) Init() tea.Cmd {
	return m.waitForEvent()
}

func (m transferModel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		e, ok := <-m.events
		if !ok {
			return transferDoneMsg{err: <-m.done}
		}
		return runTransferMsg(e)
	}
}

func (m transferModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
		return m, nil

	case runTransferMsg:
		switch transfer.Event(msg).Kind {
		case transfer.EventTransfer:
			m.lastSent = msg.TotalSent
			if msg.HasBytesPerSecond {
				m.lastRate = msg.BytesPerSecond
				m.hasRate = true
			}
			var percent float64
			if msg.TransferTotal > 0 {
				percent = float64(msg.TotalSent) / float64(msg.TransferTotal)
			}
			cmd := m.prog.SetPercent(percent)
			return m, tea.Batch(cmd, m.waitForEvent())
		case transfer.EventCompleted:
			m.result = msg.LocalURL
		}
		return m, m.waitForEvent()

	case transferDoneMsg:
		m.finished = true
		m.err = msg.err
		return m, tea.Quit

	case progress.FrameMsg:
		newModel, cmd := m.prog.Update(msg)
		m.prog = newModel.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m transferModel) View() string {
	if m.finished {
		if m.err != nil {
			return failedStyle.Render(fmt.Sprintf("%s failed: %v\n", m.label, m.err))
		}
		msg := completedStyle.Render(fmt.Sprintf("%s complete", m.label))
		if m.result != "" {
			msg += "\n" + m.result
		}
		return msg + "\n"
	}

	rate := "measuring..."
	if m.hasRate {
		rate = humanize.Bytes(uint64(m.lastRate)) + "/s"
	}
	header := labelStyle.Render(m.label) + fmt.Sprintf("  %s sent, %s", humanize.Bytes(uint64(m.lastSent)), rate)
	return boxStyle.Render(header + "\n" + m.prog.View())
}

// runWithProgress drives transferModel to completion against a context that
// is cancelled if the bubbletea program exits early (ctrl+c/q).
func runWithProgress(ctx context.Context, cancel context.CancelFunc, label string, events <-chan transfer.Event, done <-chan error) error {
	defer cancel()
	m := newTransferModel(label, events, done)
	p := tea.NewProgram(m)
	final, err := p.Run()
	if err != nil {
		return err
	}
	if fm, ok := final.(transferModel); ok {
		return fm.err
	}
	return nil
}
