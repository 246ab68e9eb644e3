package model

// ZoneType groups zones by how much of the fight a single client sees.
type ZoneType string

// Zone types. Guardian fights have one boss and every client observes the
// whole fight, so the first upload is already complete.
const (
	ZoneGuardian ZoneType = "GUARDIAN"
	ZoneAbyss    ZoneType = "ABYSS"
	ZoneLegion   ZoneType = "LEGION"
)

// Valid reports whether t is a known zone type.
func (t ZoneType) Valid() bool {
	switch t {
	case ZoneGuardian, ZoneAbyss, ZoneLegion:
		return true
	}
	return false
}

// Zone is a static catalog entry describing one boss fight.
type Zone struct {
	ID         int      `yaml:"id" json:"id"`
	Name       string   `yaml:"name" json:"name"`
	Type       ZoneType `yaml:"type" json:"type"`
	Enabled    bool     `yaml:"enabled" json:"enabled"`
	Bosses     []uint32 `yaml:"bosses" json:"bosses"`
	MinPlayers int      `yaml:"min_players" json:"minPlayers"`
	MaxPlayers int      `yaml:"max_players" json:"maxPlayers"`
}

// HasBoss reports whether npcID belongs to the zone's boss catalog.
func (z *Zone) HasBoss(npcID uint32) bool {
	for _, id := range z.Bosses {
		if id == npcID {
			return true
		}
	}
	return false
}

// RetainsUploads reports whether uploads after the first are kept for
// reconciliation.
func (z *Zone) RetainsUploads() bool {
	return z.Type != ZoneGuardian
}
