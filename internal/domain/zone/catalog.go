// Package zone holds the static encounter catalog and resolves validated
// uploads to the zone that produced them.
package zone

import (
	_ "embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/okian/raidsync/internal/domain/model"
)

//go:embed zones.yaml
var defaultCatalog []byte

// Catalog is an immutable set of zones indexed by id and boss NPC id.
type Catalog struct {
	zones  map[int]*model.Zone
	bosses map[uint32]*model.Zone
}

type catalogFile struct {
	Zones []model.Zone `yaml:"zones"`
}

// Default returns the catalog compiled into the binary.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic("zone: embedded catalog: " + err.Error())
	}
	return c
}

// Parse builds a catalog from YAML.
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalog, err)
	}
	return New(f.Zones)
}

// New builds a catalog from zones. Zone ids and boss ids must be unique.
func New(zones []model.Zone) (*Catalog, error) {
	c := &Catalog{
		zones:  make(map[int]*model.Zone, len(zones)),
		bosses: make(map[uint32]*model.Zone),
	}
	for i := range zones {
		z := zones[i]
		if !z.Type.Valid() {
			return nil, fmt.Errorf("%w: zone %d has unknown type %q", ErrCatalog, z.ID, z.Type)
		}
		if len(z.Bosses) == 0 {
			return nil, fmt.Errorf("%w: zone %d has no bosses", ErrCatalog, z.ID)
		}
		if z.MinPlayers < 1 || z.MaxPlayers < z.MinPlayers {
			return nil, fmt.Errorf("%w: zone %d has invalid player bounds", ErrCatalog, z.ID)
		}
		if _, dup := c.zones[z.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate zone id %d", ErrCatalog, z.ID)
		}
		zp := &z
		c.zones[z.ID] = zp
		for _, b := range z.Bosses {
			if other, dup := c.bosses[b]; dup {
				return nil, fmt.Errorf("%w: boss %d in zones %d and %d", ErrCatalog, b, other.ID, z.ID)
			}
			c.bosses[b] = zp
		}
	}
	return c, nil
}

// Lookup returns the zone a boss belongs to.
func (c *Catalog) Lookup(bossID uint32) (*model.Zone, bool) {
	z, ok := c.bosses[bossID]
	return z, ok
}

// Get returns a zone by id.
func (c *Catalog) Get(id int) (*model.Zone, bool) {
	z, ok := c.zones[id]
	return z, ok
}

// Zones returns every zone ordered by id.
func (c *Catalog) Zones() []model.Zone {
	out := make([]model.Zone, 0, len(c.zones))
	for _, z := range c.zones {
		out = append(out, *z)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
