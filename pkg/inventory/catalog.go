// Package inventory serves the placement references a workorder may name:
// resource pools, IP pools, VM folders and datacenters.
//
// The references come from a YAML catalog maintained alongside the
// virtualization platform. Workorders store the ids verbatim; nothing here
// checks that a stored id still exists.
package inventory

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Item is one placement reference.
type Item struct {
	ID         string `yaml:"id" json:"id" validate:"required"`
	Name       string `yaml:"name" json:"name" validate:"required"`
	Datacenter string `yaml:"datacenter,omitempty" json:"datacenter,omitempty"`
}

// Section names, also used as the catalog's YAML keys.
const (
	ResourcePools = "resource_pools"
	IPPools       = "ip_pools"
	Folders       = "folders"
	Datacenters   = "datacenters"
)

// document is the on-disk catalog layout.
type document struct {
	ResourcePools []Item `yaml:"resource_pools" validate:"dive"`
	IPPools       []Item `yaml:"ip_pools" validate:"dive"`
	Folders       []Item `yaml:"folders" validate:"dive"`
	Datacenters   []Item `yaml:"datacenters" validate:"dive"`
}

func (d *document) sections() map[string][]Item {
	return map[string][]Item{
		ResourcePools: d.ResourcePools,
		IPPools:       d.IPPools,
		Folders:       d.Folders,
		Datacenters:   d.Datacenters,
	}
}

// Catalog holds the current placement references. It is safe for
// concurrent use; Reload swaps the contents atomically.
type Catalog struct {
	mu       sync.RWMutex
	sections map[string][]Item
	path     string
	logger   zerolog.Logger
	validate *validator.Validate
}

// NewCatalog returns an empty catalog.
func NewCatalog(logger zerolog.Logger) *Catalog {
	return &Catalog{
		sections: (&document{}).sections(),
		logger:   logger.With().Str("component", "inventory").Logger(),
		validate: validator.New(),
	}
}

// LoadFromFile reads a catalog file. An empty path gives an empty catalog.
func LoadFromFile(path string, logger zerolog.Logger) (*Catalog, error) {
	c := NewCatalog(logger)
	if path == "" {
		return c, nil
	}
	c.path = path
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads the catalog file. On error the previous contents stay.
func (c *Catalog) Reload() error {
	if c.path == "" {
		return nil
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("failed to read inventory catalog: %w", err)
	}
	return c.LoadBytes(data)
}

// LoadBytes replaces the catalog with the YAML document in data.
func (c *Catalog) LoadBytes(data []byte) error {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse inventory catalog: %w", err)
	}
	if err := c.validate.Struct(&doc); err != nil {
		return fmt.Errorf("invalid inventory catalog: %w", err)
	}

	sections := doc.sections()
	for name, items := range sections {
		seen := make(map[string]bool, len(items))
		for _, it := range items {
			if seen[it.ID] {
				return fmt.Errorf("invalid inventory catalog: duplicate id %q in %s", it.ID, name)
			}
			seen[it.ID] = true
		}
		sorted := append([]Item(nil), items...)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
		sections[name] = sorted
	}

	c.mu.Lock()
	c.sections = sections
	c.mu.Unlock()

	c.logger.Info().
		Int(ResourcePools, len(doc.ResourcePools)).
		Int(IPPools, len(doc.IPPools)).
		Int(Folders, len(doc.Folders)).
		Int(Datacenters, len(doc.Datacenters)).
		Msg("inventory catalog loaded")
	return nil
}

// List returns the items of one section sorted by name. Unknown sections
// return an error.
func (c *Catalog) List(section string) ([]Item, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	items, ok := c.sections[section]
	if !ok {
		return nil, fmt.Errorf("unknown inventory section: %s", section)
	}
	out := make([]Item, len(items))
	copy(out, items)
	return out, nil
}

// Lookup finds an item by id within a section.
func (c *Catalog) Lookup(section, id string) (Item, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, it := range c.sections[section] {
		if it.ID == id {
			return it, true
		}
	}
	return Item{}, false
}
