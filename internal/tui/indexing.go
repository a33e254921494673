package tui

import (
	"context"
	"fmt"
	"path/filepath"

	"filechat/internal/index"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// RunFunc performs the actual indexing, reporting through the callback.
type RunFunc func(ctx context.Context, onProgress index.ProgressFunc) (*index.Stats, error)

type progressMsg index.Progress

type doneMsg struct {
	stats *index.Stats
	err   error
}

type indexingModel struct {
	spinner spinner.Model
	bar     progress.Model
	cancel  context.CancelFunc

	current int
	total   int
	file    string
	status  index.Status
	skipped int
	failed  int

	done  bool
	stats *index.Stats
	err   error
}

func newIndexingModel(cancel context.CancelFunc) indexingModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle
	return indexingModel{
		spinner: sp,
		bar:     progress.New(progress.WithDefaultGradient()),
		cancel:  cancel,
	}
}

// RunIndexing drives an index run behind a progress screen. The run itself
// happens in runFn on a background goroutine; q or ctrl+c cancels it.
func RunIndexing(ctx context.Context, runFn RunFunc) (*index.Stats, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newIndexingModel(cancel))

	go func() {
		stats, err := runFn(ctx, func(ev index.Progress) {
			p.Send(progressMsg(ev))
		})
		p.Send(doneMsg{stats: stats, err: err})
	}()

	final, err := p.Run()
	if err != nil {
		return nil, err
	}
	m := final.(indexingModel)
	return m.stats, m.err
}

func (m indexingModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m indexingModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.done {
				return m, tea.Quit
			}
			m.cancel()
			return m, nil
		case "enter":
			if m.done {
				return m, tea.Quit
			}
		}
		return m, nil

	case progressMsg:
		m.current = msg.Current
		m.total = msg.Total
		if msg.File != "" {
			m.file = msg.File
		}
		m.status = msg.Status
		switch msg.Status {
		case index.StatusSkip:
			m.skipped++
		case index.StatusError:
			if msg.File != "" {
				m.failed++
			}
		}
		return m, nil

	case doneMsg:
		m.done = true
		m.stats = msg.stats
		m.err = msg.err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m indexingModel) View() string {
	s := "\n"
	s += titleStyle.Render("  Indexing") + "\n\n"

	if m.done {
		if m.err != nil {
			s += errorStyle.Render(fmt.Sprintf("  Error: %v", m.err)) + "\n"
			return s
		}
		s += successStyle.Render("  ✓ Indexing complete") + "\n\n"
		if m.stats != nil {
			s += fmt.Sprintf("  Files: %d total, %d indexed, %d skipped, %d failed\n",
				m.stats.FilesTotal, m.stats.FilesIndexed, m.stats.FilesSkipped, m.stats.FilesFailed)
			if m.stats.FilesMissing > 0 {
				s += warnStyle.Render(fmt.Sprintf("  Missing: %d (run prune to remove)", m.stats.FilesMissing)) + "\n"
			}
			s += fmt.Sprintf("  Chunks: %d\n", m.stats.ChunksTotal)
		}
		return s
	}

	label := statusLabel(m.status)
	name := m.file
	if name != "" {
		name = filepath.Base(name)
	}
	s += fmt.Sprintf("  %s %s %s\n", m.spinner.View(), label, name)
	if m.total > 0 {
		s += "  " + m.bar.ViewAs(float64(m.current)/float64(m.total)) + "\n"
		s += dimStyle.Render(fmt.Sprintf("  %d / %d files", m.current, m.total)) + "\n"
	}
	s += "\n"
	s += dimStyle.Render("  Press q to cancel") + "\n"
	return s
}

func statusLabel(status index.Status) string {
	switch status {
	case index.StatusExtract:
		return "Extracting"
	case index.StatusEmbed:
		return "Embedding"
	case index.StatusSkip:
		return "Skipping"
	case index.StatusMissing:
		return "Missing"
	case index.StatusError:
		return "Failed"
	default:
		return "Indexing"
	}
}
