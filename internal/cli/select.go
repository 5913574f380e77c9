package cli

import (
	"fmt"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/ebi-metagenomics/cratepack/pkg/source"
)

var listDimStyle = lipgloss.NewStyle().Foreground(colorDim)

// =============================================================================
// SourceListModel - Interactive archive selection
// =============================================================================

// SourceListModel is the bubbletea model for picking which located archives
// a batch run should package.
type SourceListModel struct {
	Sources  []string
	Chosen   map[int]bool
	Cursor   int
	Height   int
	Offset   int
	Done     bool // confirmed with enter
	Canceled bool
}

// NewSourceListModel creates a model with every source chosen.
func NewSourceListModel(sources []string) SourceListModel {
	chosen := make(map[int]bool, len(sources))
	for i := range sources {
		chosen[i] = true
	}
	return SourceListModel{
		Sources: sources,
		Chosen:  chosen,
		Height:  15,
	}
}

// Selected returns the chosen sources in locator order.
func (m SourceListModel) Selected() []string {
	var out []string
	for i, src := range m.Sources {
		if m.Chosen[i] {
			out = append(out, src)
		}
	}
	return out
}

func (m SourceListModel) Init() tea.Cmd {
	return nil
}

func (m SourceListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.Canceled = true
			return m, tea.Quit
		case "up", "k":
			if m.Cursor > 0 {
				m.Cursor--
				if m.Cursor < m.Offset {
					m.Offset = m.Cursor
				}
			}
		case "down", "j":
			if m.Cursor < len(m.Sources)-1 {
				m.Cursor++
				if m.Cursor >= m.Offset+m.Height {
					m.Offset = m.Cursor - m.Height + 1
				}
			}
		case " ", "x":
			if len(m.Sources) > 0 {
				m.Chosen[m.Cursor] = !m.Chosen[m.Cursor]
			}
		case "a":
			all := len(m.Selected()) == len(m.Sources)
			for i := range m.Sources {
				m.Chosen[i] = !all
			}
		case "enter":
			m.Done = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.Height = msg.Height - 6
		if m.Height < 5 {
			m.Height = 5
		}
	}
	return m, nil
}

func (m SourceListModel) View() string {
	var b strings.Builder

	b.WriteString(StyleTitle.Render("Select Archives"))
	b.WriteString("\n")
	b.WriteString(listDimStyle.Render("↑/↓ navigate  space toggle  a all  ⏎ pack  q quit"))
	b.WriteString("\n\n")

	end := min(m.Offset+m.Height, len(m.Sources))

	rows := [][]string{}
	for i := m.Offset; i < end; i++ {
		src := m.Sources[i]

		cursor := "  "
		if i == m.Cursor {
			cursor = "▸ "
		}
		mark := "[ ]"
		if m.Chosen[i] {
			mark = "[x]"
		}
		where := "local"
		if source.IsRemote(src) {
			where = "remote"
		}
		rows = append(rows, []string{cursor + mark, source.JobID(src), where, src})
	}

	headerStyle := lipgloss.NewStyle().Foreground(colorGray).Bold(true)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers("", "Run", "Where", "Source").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			idx := m.Offset + row
			base := lipgloss.NewStyle()
			if col == 3 {
				base = base.Foreground(colorDim)
			}
			switch {
			case idx == m.Cursor && m.Chosen[idx]:
				return base.Foreground(colorGreen).Bold(true)
			case idx == m.Cursor:
				return base.Bold(true)
			case m.Chosen[idx] && col != 3:
				return base.Foreground(colorGreen)
			}
			return base
		})

	b.WriteString(t.Render())
	b.WriteString("\n\n")
	b.WriteString(listDimStyle.Render(fmt.Sprintf("  %d of %d selected", len(m.Selected()), len(m.Sources))))

	return b.String()
}

// selectSources runs the picker on in/out and returns the chosen sources.
// A canceled picker returns nil.
func selectSources(sources []string, in io.Reader, out io.Writer) ([]string, error) {
	p := tea.NewProgram(NewSourceListModel(sources), tea.WithInput(in), tea.WithOutput(out))
	final, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("select archives: %w", err)
	}
	m := final.(SourceListModel)
	if m.Canceled || !m.Done {
		return nil, nil
	}
	return m.Selected(), nil
}
