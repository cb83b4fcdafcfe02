package rigscope

const WindowTitle = "Waste Heat Recovery System"

// Describes one plot and its place in the 2-column grid.
type ViewOptions struct {
	Title  string
	XLabel string
	YLabel string
	Row    int
	Col    int
	// Sample labels plotted on this view besides its own title.
	Sources []string `json:",omitempty"`
}

type ViewMetadata struct {
	ID int
	ViewOptions
}

type ConsoleLayout struct {
	Row     int
	Col     int
	ColSpan int
}

type Metadata struct {
	WindowTitle     string
	WindowSize      int
	LogCapacity     int
	TickPeriod      float64 // seconds
	Views           []ViewMetadata
	Console         ConsoleLayout
	DurationOptions []string
}

// The four plots of the rig dashboard.
func DefaultViews() []ViewOptions {
	return []ViewOptions{
		{Title: "RPM", XLabel: "X-axis", YLabel: "Y-axis", Row: 0, Col: 0},
		{Title: "Water Vs Ambient Temperature", XLabel: "Time", YLabel: "Value", Row: 0, Col: 1, Sources: []string{"Temp sensor 0", "Temp sensor 1"}},
		{Title: "Voltage", XLabel: "Time", YLabel: "Value", Row: 1, Col: 0},
		{Title: "Current", XLabel: "Time", YLabel: "Value", Row: 1, Col: 1},
	}
}

func DefaultConsoleLayout() ConsoleLayout {
	return ConsoleLayout{Row: 3, Col: 0, ColSpan: 2}
}
