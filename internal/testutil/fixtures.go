// Package testutil builds realistic uploads for tests and the load tool.
package testutil

import (
	"fmt"

	"github.com/okian/raidsync/internal/domain/model"
)

// Fixture defaults.
const (
	DefaultStartedOn = int64(1_700_000_000_000)
	DefaultBossHP    = int64(10_000_000)
	DefaultGearScore = 1500.0
	DefaultSkills    = 8
)

// Player returns a participating player with a party and enough skills to
// survive zone pruning.
func Player(id string, party int) model.Entity {
	p := party
	e := model.Entity{
		ID:         id,
		Name:       "player-" + id,
		ClassID:    102,
		GearScore:  DefaultGearScore,
		IsPlayer:   true,
		PartyID:    &p,
		CurrentHP:  100_000,
		MaxHP:      100_000,
		LastUpdate: DefaultStartedOn + 60_000,
		Damage: model.EntityDamage{
			DamageDealt: 1_000_000,
			DamageTaken: 50_000,
		},
	}
	e.Skills = Skills(DefaultSkills)
	return e
}

// Boss returns a boss entity with the given npc id and last update.
func Boss(id string, npcID uint32, lastUpdate int64) model.Entity {
	return model.Entity{
		ID:         id,
		NpcID:      npcID,
		Name:       fmt.Sprintf("boss-%d", npcID),
		IsBoss:     true,
		CurrentHP:  0,
		MaxHP:      DefaultBossHP,
		LastUpdate: lastUpdate,
		Skills:     Skills(3),
	}
}

// Esther returns an esther entity.
func Esther(id string) model.Entity {
	return model.Entity{
		ID:         id,
		Name:       "esther-" + id,
		IsEsther:   true,
		LastUpdate: DefaultStartedOn + 30_000,
		Damage:     model.EntityDamage{DamageDealt: 200_000},
		Skills:     Skills(1),
	}
}

// Summon returns an entity with no role flags.
func Summon(id string) model.Entity {
	return model.Entity{ID: id, Name: "summon-" + id, LastUpdate: DefaultStartedOn + 1_000}
}

// Skills returns n skills with distinct ids.
func Skills(n int) []model.Skill {
	skills := make([]model.Skill, n)
	for i := range skills {
		skills[i] = model.Skill{
			ID:          uint32(16000 + i),
			Name:        fmt.Sprintf("skill-%d", i),
			Casts:       10,
			Hits:        12,
			Crits:       4,
			TotalDamage: 10_000,
			MaxDamage:   2_000,
		}
	}
	return skills
}

// Upload wraps entities in a raw upload seen from localPlayer.
func Upload(localPlayer string, entities ...model.Entity) *model.RawUpload {
	raw := &model.RawUpload{
		StartedOn:        DefaultStartedOn,
		FightStart:       DefaultStartedOn + 500,
		LastCombatPacket: DefaultStartedOn + 120_000,
		LocalPlayer:      localPlayer,
		Entities:         entities,
	}
	for i := range entities {
		if entities[i].IsPlayer || entities[i].IsEsther {
			raw.DamageStats.TotalDamageDealt += entities[i].Damage.DamageDealt
			if d := entities[i].Damage.DamageDealt; d > raw.DamageStats.TopDamageDealt {
				raw.DamageStats.TopDamageDealt = d
			}
		}
	}
	return raw
}

// GuardianUpload is a valid single-player upload against the Sonavel zone.
func GuardianUpload(localPlayer string) *model.RawUpload {
	return Upload(localPlayer,
		Player(localPlayer, 1),
		Boss("b1", 509006, DefaultStartedOn+100_000),
	)
}

// AbyssUpload is a valid four-player upload against the Aira's Oculus gate.
// Every call with the same player ids derives the same association.
func AbyssUpload(localPlayer string, players ...string) *model.RawUpload {
	entities := make([]model.Entity, 0, len(players)+2)
	for _, id := range players {
		entities = append(entities, Player(id, 1))
	}
	entities = append(entities,
		Boss("b1", 620010, DefaultStartedOn+90_000),
		Boss("b2", 620011, DefaultStartedOn+100_000),
	)
	return Upload(localPlayer, entities...)
}
