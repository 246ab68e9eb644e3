package zone

import (
	"fmt"

	"github.com/okian/raidsync/internal/domain/model"
)

// MinPlayerSkills is the number of skill records a player needs to count as
// a participant. Fewer means the player joined late or only watched.
const MinPlayerSkills = 8

// Resolution is a resolved zone with the entities that survived pruning.
type Resolution struct {
	Zone     model.Zone
	Entities []model.Entity
}

// Resolver maps validated uploads to catalog zones.
type Resolver struct {
	catalog *Catalog
}

// NewResolver creates a resolver over catalog.
func NewResolver(catalog *Catalog) *Resolver {
	return &Resolver{catalog: catalog}
}

// Resolve picks the zone of the most recently updated known boss, prunes
// entities that do not belong to the encounter and checks the zone's
// participant rules. The input slice is not modified.
func (r *Resolver) Resolve(entities []model.Entity) (Resolution, error) {
	zone, err := r.pickZone(entities)
	if err != nil {
		return Resolution{}, err
	}

	kept := make([]model.Entity, 0, len(entities))
	players, bosses := 0, 0
	for i := range entities {
		e := entities[i]
		switch e.Kind() {
		case model.KindNone:
			continue
		case model.KindPlayer:
			if len(e.Skills) < MinPlayerSkills {
				continue
			}
			players++
		case model.KindBoss:
			if !zone.HasBoss(e.NpcID) {
				continue
			}
			e.Skills = nil
			bosses++
		}
		kept = append(kept, e)
	}

	if players < zone.MinPlayers || players > zone.MaxPlayers {
		return Resolution{}, fmt.Errorf("%w: %d players outside [%d, %d] for zone %d",
			ErrUnsupported, players, zone.MinPlayers, zone.MaxPlayers, zone.ID)
	}
	if players > 1 {
		for i := range kept {
			if kept[i].IsPlayer && kept[i].PartyID == nil {
				return Resolution{}, fmt.Errorf("%w: player %s has no party id", ErrUnsupported, kept[i].ID)
			}
		}
	}
	if bosses > len(zone.Bosses) {
		return Resolution{}, fmt.Errorf("%w: %d bosses exceeds %d for zone %d",
			ErrUnsupported, bosses, len(zone.Bosses), zone.ID)
	}
	if !zone.Enabled {
		return Resolution{}, fmt.Errorf("%w: zone %d is disabled", ErrUnsupported, zone.ID)
	}

	return Resolution{Zone: *zone, Entities: kept}, nil
}

// pickZone returns the zone of the boss with the latest LastUpdate. Ties keep
// the first boss encountered.
func (r *Resolver) pickZone(entities []model.Entity) (*model.Zone, error) {
	var (
		best       *model.Zone
		bestUpdate int64
	)
	for i := range entities {
		e := &entities[i]
		if !e.IsBoss || e.IsPlayer {
			continue
		}
		z, ok := r.catalog.Lookup(e.NpcID)
		if !ok {
			continue
		}
		if best == nil || e.LastUpdate > bestUpdate {
			best = z
			bestUpdate = e.LastUpdate
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: no known boss", ErrUnsupported)
	}
	return best, nil
}
