package tui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type Screen string

const (
	ScreenCollections Screen = "collections"
	ScreenRecords     Screen = "records"
	ScreenDetail      Screen = "detail"
)

// Collection is one catalog collection as shown in the browser.
type Collection struct {
	Name     string
	KeyField string
	Count    int64
}

// Record is one row of a collection listing. Preview is a single-line
// rendering of the document, already truncated for display.
type Record struct {
	ID      string
	Preview string
}

// Browser is the read-only store surface the model runs against.
type Browser interface {
	Collections(ctx context.Context) ([]Collection, error)
	Records(ctx context.Context, collection string) ([]Record, error)
	Document(ctx context.Context, collection, id string) (string, error)
}

type Options struct {
	Browser Browser
	IsTTY   func() bool
}

var (
	helpStyle   = lipgloss.NewStyle().Faint(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	detailTitle = lipgloss.NewStyle().Bold(true)
	detailFrame = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)
)

type Model struct {
	browser Browser

	screen Screen
	err    string

	collectionsList list.Model
	recordsList     list.Model

	selectedCollection string
	selectedRecordID   string
	detail             string
}

type collectionsMsg struct {
	collections []Collection
	err         error
}

type recordsMsg struct {
	collection string
	records    []Record
	err        error
}

type documentMsg struct {
	collection string
	id         string
	doc        string
	err        error
}

func Run(opts Options) error {
	if opts.IsTTY != nil && !opts.IsTTY() {
		return fmt.Errorf("tui: requires a tty")
	}
	_, err := tea.NewProgram(NewModel(opts)).Run()
	return err
}

func NewModel(opts Options) Model {
	delegate := list.NewDefaultDelegate()

	collectionsList := list.New([]list.Item{}, delegate, 0, 0)
	collectionsList.Title = "Collections"
	collectionsList.SetShowStatusBar(false)
	collectionsList.SetFilteringEnabled(true)
	collectionsList.SetShowHelp(false)
	collectionsList.SetSize(80, 20)

	recordsList := list.New([]list.Item{}, delegate, 0, 0)
	recordsList.Title = "Records"
	recordsList.SetShowStatusBar(false)
	recordsList.SetFilteringEnabled(true)
	recordsList.SetShowHelp(false)
	recordsList.SetSize(80, 20)

	return Model{
		browser:         opts.Browser,
		screen:          ScreenCollections,
		collectionsList: collectionsList,
		recordsList:     recordsList,
	}
}

func (m Model) Init() tea.Cmd {
	if m.browser == nil {
		return nil
	}
	return m.loadCollectionsCmd()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.KeyMsg:
		if !m.filtering() {
			switch typed.String() {
			case "ctrl+c", "q":
				return m, tea.Quit
			}
		}
	case tea.WindowSizeMsg:
		height := typed.Height - 4
		if height < 1 {
			height = 1
		}
		m.collectionsList.SetSize(typed.Width, height)
		m.recordsList.SetSize(typed.Width, height)
	case collectionsMsg:
		if typed.err != nil {
			m.err = typed.err.Error()
			return m, nil
		}
		m.err = ""
		m.populateCollections(typed.collections)
		return m, nil
	case recordsMsg:
		if typed.err != nil {
			m.err = typed.err.Error()
			return m, nil
		}
		m.err = ""
		m.selectedCollection = typed.collection
		m.populateRecords(typed.collection, typed.records)
		m.screen = ScreenRecords
		return m, nil
	case documentMsg:
		if typed.err != nil {
			m.err = typed.err.Error()
			return m, nil
		}
		m.err = ""
		m.selectedCollection = typed.collection
		m.selectedRecordID = typed.id
		m.detail = typed.doc
		m.screen = ScreenDetail
		return m, nil
	}

	switch m.screen {
	case ScreenRecords:
		return m.updateRecords(msg)
	case ScreenDetail:
		return m.updateDetail(msg)
	default:
		return m.updateCollections(msg)
	}
}

func (m Model) View() string {
	help := helpStyle.Render("[enter] Open  [esc] Back  [r] Reload  [/] Filter  [q] Quit")
	header := help + "\n"
	if m.err != "" {
		header += errorStyle.Render("Error: "+m.err) + "\n"
	}

	switch m.screen {
	case ScreenRecords:
		if len(m.recordsList.Items()) == 0 {
			return header + "\n" + renderEmptyState(
				fmt.Sprintf("No records in %s yet.", m.selectedCollection),
				"Add one with `coffer records put ...`",
			)
		}
		return header + "\n" + m.recordsList.View()
	case ScreenDetail:
		title := detailTitle.Render(m.selectedCollection + "/" + m.selectedRecordID)
		return header + "\n" + title + "\n" + detailFrame.Render(m.detail)
	default:
		if len(m.collectionsList.Items()) == 0 {
			return header + "\n" + renderEmptyState(
				"No collections declared.",
				"Declare them in the catalog file and run `coffer init`.",
			)
		}
		return header + "\n" + m.collectionsList.View()
	}
}

func renderEmptyState(title, guidance string) string {
	return title + "\n" + helpStyle.Render(guidance)
}

func (m Model) updateCollections(msg tea.Msg) (tea.Model, tea.Cmd) {
	if typed, ok := msg.(tea.KeyMsg); ok && !m.filtering() {
		switch typed.String() {
		case "enter":
			item, ok := m.collectionsList.SelectedItem().(collectionItem)
			if !ok {
				return m, nil
			}
			return m, m.loadRecordsCmd(item.name)
		case "r":
			return m, m.loadCollectionsCmd()
		}
	}

	var cmd tea.Cmd
	m.collectionsList, cmd = m.collectionsList.Update(msg)
	return m, cmd
}

func (m Model) updateRecords(msg tea.Msg) (tea.Model, tea.Cmd) {
	if typed, ok := msg.(tea.KeyMsg); ok && !m.filtering() {
		switch typed.String() {
		case "enter":
			item, ok := m.recordsList.SelectedItem().(recordItem)
			if !ok {
				return m, nil
			}
			return m, m.loadDocumentCmd(m.selectedCollection, item.id)
		case "r":
			return m, m.loadRecordsCmd(m.selectedCollection)
		case "esc":
			m.screen = ScreenCollections
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.recordsList, cmd = m.recordsList.Update(msg)
	return m, cmd
}

func (m Model) updateDetail(msg tea.Msg) (tea.Model, tea.Cmd) {
	if typed, ok := msg.(tea.KeyMsg); ok {
		switch typed.String() {
		case "esc", "backspace":
			m.detail = ""
			m.screen = ScreenRecords
			return m, nil
		}
	}
	return m, nil
}

func (m Model) filtering() bool {
	switch m.screen {
	case ScreenRecords:
		return m.recordsList.FilterState() == list.Filtering
	case ScreenDetail:
		return false
	default:
		return m.collectionsList.FilterState() == list.Filtering
	}
}

func (m Model) loadCollectionsCmd() tea.Cmd {
	return func() tea.Msg {
		collections, err := m.browser.Collections(context.Background())
		return collectionsMsg{collections: collections, err: err}
	}
}

func (m Model) loadRecordsCmd(collection string) tea.Cmd {
	return func() tea.Msg {
		records, err := m.browser.Records(context.Background(), collection)
		return recordsMsg{collection: collection, records: records, err: err}
	}
}

func (m Model) loadDocumentCmd(collection, id string) tea.Cmd {
	return func() tea.Msg {
		doc, err := m.browser.Document(context.Background(), collection, id)
		return documentMsg{collection: collection, id: id, doc: doc, err: err}
	}
}

func (m *Model) populateCollections(collections []Collection) {
	items := make([]list.Item, 0, len(collections))
	for _, col := range collections {
		items = append(items, collectionItem{
			name:        col.Name,
			description: fmt.Sprintf("%d records, key=%s", col.Count, col.KeyField),
		})
	}
	m.collectionsList.SetItems(items)
	m.collectionsList.NewStatusMessage("Collections loaded")
}

func (m *Model) populateRecords(collection string, records []Record) {
	items := make([]list.Item, 0, len(records))
	for _, record := range records {
		items = append(items, recordItem{
			id:      record.ID,
			preview: record.Preview,
		})
	}
	m.recordsList.Title = collection
	m.recordsList.SetItems(items)
	m.recordsList.ResetSelected()
	m.recordsList.NewStatusMessage("Records loaded")
}

type collectionItem struct {
	name        string
	description string
}

func (i collectionItem) Title() string       { return i.name }
func (i collectionItem) Description() string { return i.description }
func (i collectionItem) FilterValue() string { return i.name }

type recordItem struct {
	id      string
	preview string
}

func (i recordItem) Title() string       { return i.id }
func (i recordItem) Description() string { return i.preview }
func (i recordItem) FilterValue() string { return i.id + " " + i.preview }
