package skins

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/coneflip-overlay/server/internal/domain"
)

// Catalog is an immutable, ordered view of the configured skins. A reload
// builds a whole new Catalog and swaps it in atomically; nothing mutates one
// after construction.
type Catalog struct {
	skins []domain.SkinDefinition
	index map[string]domain.SkinDefinition
}

// NewCatalog builds a catalog from skin definitions, preserving their order.
// Later duplicates of a name win in the index, matching a keyed replace.
func NewCatalog(skins []domain.SkinDefinition) *Catalog {
	c := &Catalog{
		skins: make([]domain.SkinDefinition, len(skins)),
		index: make(map[string]domain.SkinDefinition, len(skins)),
	}
	copy(c.skins, skins)
	for _, s := range c.skins {
		c.index[s.Name] = s
	}
	return c
}

// LoadCatalog reads skin definitions from the JSON config file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading skin config: %w", err)
	}
	var skins []domain.SkinDefinition
	if err := json.Unmarshal(data, &skins); err != nil {
		return nil, fmt.Errorf("parsing skin config: %w", err)
	}
	return NewCatalog(skins), nil
}

// All returns every skin definition in config order.
func (c *Catalog) All() []domain.SkinDefinition {
	return c.skins
}

// Get looks up a skin definition by name.
func (c *Catalog) Get(name string) (domain.SkinDefinition, bool) {
	s, ok := c.index[name]
	return s, ok
}

// Contains reports whether the named skin is in the catalog.
func (c *Catalog) Contains(name string) bool {
	_, ok := c.index[name]
	return ok
}

// Unboxable returns the drawable entries in config order.
func (c *Catalog) Unboxable() []domain.SkinDefinition {
	var out []domain.SkinDefinition
	for _, s := range c.skins {
		if s.CanUnbox {
			out = append(out, s)
		}
	}
	return out
}
