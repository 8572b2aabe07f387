package model

// Entry is one unit of work: a file on a node. Skipped entries keep their
// position but are not dispatched.
type Entry struct {
	Node string `json:"host" yaml:"host"`
	Path string `json:"file" yaml:"file"`
	Skip bool   `json:"skip" yaml:"skip"`
}

// MapFile is an immutable, ordered manifest of entries.
type MapFile struct {
	name    string
	version int
	entries []Entry
}

// NewMapFile copies entries into a new MapFile.
func NewMapFile(name string, entries []Entry) *MapFile {
	copied := make([]Entry, len(entries))
	copy(copied, entries)
	return &MapFile{name: name, version: 1, entries: copied}
}

func (m *MapFile) Name() string { return m.name }

// Version distinguishes successive MapFiles published under one name.
func (m *MapFile) Version() int { return m.version }

// WithVersion returns a copy of m carrying version v.
func (m *MapFile) WithVersion(v int) *MapFile {
	return &MapFile{name: m.name, version: v, entries: m.entries}
}

func (m *MapFile) Len() int { return len(m.entries) }

// Entry returns the i-th entry.
func (m *MapFile) Entry(i int) Entry { return m.entries[i] }

// Entries returns a copy of all entries.
func (m *MapFile) Entries() []Entry {
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Nodes returns the distinct nodes in first-seen order.
func (m *MapFile) Nodes() []string {
	seen := make(map[string]bool)
	var nodes []string
	for _, e := range m.entries {
		if !seen[e.Node] {
			seen[e.Node] = true
			nodes = append(nodes, e.Node)
		}
	}
	return nodes
}

// Handle identifies a published MapFile.
type Handle struct {
	Name    string
	Version int
	// Path is where the listing was persisted, empty for in-memory only.
	Path string
}
