package tui

import "github.com/charmbracelet/lipgloss"

// Styles contains all the lipgloss styles for the TUI.
type Styles struct {
	App lipgloss.Style

	Title    lipgloss.Style
	TitleBar lipgloss.Style

	// Device list
	Item         lipgloss.Style
	ItemSelected lipgloss.Style
	ItemDim      lipgloss.Style

	// Status bar
	StatusBar     lipgloss.Style
	StatusOnline  lipgloss.Style
	StatusOffline lipgloss.Style

	// Content
	Label     lipgloss.Style
	Value     lipgloss.Style
	Highlight lipgloss.Style
	Muted     lipgloss.Style
	Error     lipgloss.Style
	Warning   lipgloss.Style
	Notice    lipgloss.Style

	Help lipgloss.Style
}

// DefaultStyles returns the default color scheme.
func DefaultStyles() Styles {
	subtle := lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight := lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special := lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	return Styles{
		App: lipgloss.NewStyle().
			Padding(1, 2),

		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(highlight).
			Padding(0, 1),
		TitleBar: lipgloss.NewStyle().
			MarginBottom(1),

		Item: lipgloss.NewStyle().
			PaddingLeft(2),
		ItemSelected: lipgloss.NewStyle().
			PaddingLeft(1).
			Foreground(highlight).
			Bold(true),
		ItemDim: lipgloss.NewStyle().
			PaddingLeft(2).
			Foreground(subtle),

		StatusBar: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#343433", Dark: "#C1C6B2"}).
			MarginTop(1),
		StatusOnline: lipgloss.NewStyle().
			Foreground(special).
			Bold(true),
		StatusOffline: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B")).
			Bold(true),

		Label: lipgloss.NewStyle().
			Width(16).
			Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#999999"}),
		Value: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#333333", Dark: "#EEEEEE"}),
		Highlight: lipgloss.NewStyle().
			Foreground(highlight).
			Bold(true),
		Muted: lipgloss.NewStyle().
			Foreground(subtle),
		Error: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B")),
		Warning: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFCC00")),
		Notice: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#FFCC00")).
			Padding(0, 1).
			MarginTop(1),

		Help: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#B2B2B2", Dark: "#4A4A4A"}).
			MarginTop(1),
	}
}
