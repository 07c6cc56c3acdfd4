package apimap

import "sort"

// Map associates api symbol names with the absolute path of their loader's
// implementation. A Map is built wholesale and never mutated after it is
// published by a Session.
type Map map[string]string

// Lookup returns the path for name.
func (m Map) Lookup(name string) (string, bool) {
	path, ok := m[name]
	return path, ok
}

// Len reports the number of entries.
func (m Map) Len() int { return len(m) }

// Names returns the api names in sorted order.
func (m Map) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
