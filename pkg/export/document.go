package export

// Document is a flattened, section-grouped view of a filled form ready for
// rendering. Values are already resolved to display strings.
type Document struct {
	Title    string
	Subtitle string
	Sections []DocumentSection
}

// DocumentSection groups label/value items and optional tables under a heading.
type DocumentSection struct {
	Title  string
	Items  []DocumentItem
	Tables []DocumentTable
}

// DocumentItem is one field resolved to a display string.
type DocumentItem struct {
	Label string
	Value string
}

// DocumentTable holds a table-typed field flattened to rows of cells.
type DocumentTable struct {
	Label   string
	Headers []string
	Rows    [][]string
}
