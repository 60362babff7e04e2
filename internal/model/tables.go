package model

// KeywordRule is one entry of the keyword rule set. A message matches the
// rule when any of its patterns occurs as a substring of the body,
// case-folded unless CaseSensitive is set.
type KeywordRule struct {
	// Category is the rule's label, unique within the rule set.
	Category string `json:"category"`

	// Patterns are evaluated in order; the list must be non-empty.
	Patterns []string `json:"patterns"`

	CaseSensitive bool `json:"case_sensitive"`
}

// AliasEntry maps a set of free-text aliases to a canonical display name.
// Company and incident-code tables share this shape.
type AliasEntry struct {
	// Key uniquely identifies the entry within its table.
	Key string `json:"key"`

	// DisplayName is the normalized value written into the report.
	DisplayName string `json:"display_name"`

	// Aliases are the literal spellings scanned for in message bodies.
	Aliases []string `json:"aliases"`
}

// AliasTable is an ordered list of alias entries. Declaration order is
// significant: equal-length alias matches resolve to the earliest entry.
type AliasTable []AliasEntry

// FieldMapping maps logical record fields to column headers on a named
// sheet of the report workbook. It is immutable for the lifetime of a
// pipeline run; changing it requires a restart.
type FieldMapping struct {
	Sheet   string           `json:"sheet"`
	Columns map[Field]string `json:"columns"`
}

// Column returns the mapped column header for a logical field.
func (m FieldMapping) Column(f Field) (string, bool) {
	col, ok := m.Columns[f]
	return col, ok
}
