package media

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Catalog is a read-only mapping from ID to Descriptor.
type Catalog struct {
	entries map[ID]Descriptor
}

type catalogFile struct {
	Media map[ID]Descriptor `yaml:"media"`
}

// NewCatalog builds a catalog from entries, validating each one.
func NewCatalog(entries map[ID]Descriptor) (*Catalog, error) {
	c := &Catalog{entries: make(map[ID]Descriptor, len(entries))}
	for id, d := range entries {
		if d.ContentType == "" || d.URL == "" {
			return nil, fmt.Errorf("%w: %s", ErrInvalidDescriptor, id)
		}
		c.entries[id] = d
	}
	return c, nil
}

// ParseCatalog decodes a YAML document of the form
//
//	media:
//	  <id>:
//	    content_type: ...
//	    url: ...
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return NewCatalog(f.Media)
}

// LoadCatalog reads the catalog at path. An empty path selects the built-in
// test media catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return ParseCatalog(defaultCatalog)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// Lookup returns the descriptor for id.
func (c *Catalog) Lookup(id ID) (Descriptor, error) {
	d, ok := c.entries[id]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownMedia, id)
	}
	return d, nil
}

// IDs returns all catalog identifiers in sorted order.
func (c *Catalog) IDs() []ID {
	ids := make([]ID, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
