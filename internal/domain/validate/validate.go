// Package validate performs structural and plausibility checks on raw
// uploads before any zone resolution happens.
package validate

import (
	"fmt"

	"github.com/okian/raidsync/internal/domain/model"
)

// Structural bounds.
const (
	maxIDLength   = 32
	maxNameLength = 64

	minPlayerGearScore = 1
	minOtherGearScore  = 0
	maxGearScore       = 2000

	maxSkillsNone   = 55
	maxSkillsPlayer = 55
	maxSkillsEsther = 55
	maxSkillsBoss   = 100
)

// Aggregate entity bounds applied before any zone is known.
const (
	MinPlayers = 1
	MaxPlayers = 16
	MinBosses  = 1
	MaxBosses  = 64
	MaxEsthers = 8
)

// DamageTolerance scales the summed boss HP into the damage ceiling.
const DamageTolerance = 5.05

// Validate checks raw against every structural and plausibility rule and
// returns the first violation. Errors wrap ErrMalformed or ErrImplausible.
func Validate(raw *model.RawUpload) error {
	if raw == nil {
		return fmt.Errorf("%w: empty upload", ErrMalformed)
	}
	if err := checkSchema(raw); err != nil {
		return err
	}
	for i := range raw.Entities {
		if err := checkEntity(&raw.Entities[i]); err != nil {
			return err
		}
	}
	for i := range raw.Entities {
		if err := checkSkillCount(&raw.Entities[i]); err != nil {
			return err
		}
	}
	return checkAggregate(raw)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

func implausible(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrImplausible, fmt.Sprintf(format, args...))
}

func checkSchema(raw *model.RawUpload) error {
	switch {
	case raw.StartedOn <= 0:
		return malformed("startedOn must be positive")
	case raw.FightStart <= 0:
		return malformed("fightStart must be positive")
	case raw.LastCombatPacket <= 0:
		return malformed("lastCombatPacket must be positive")
	case raw.LastCombatPacket < raw.StartedOn:
		return malformed("lastCombatPacket before startedOn")
	case raw.LocalPlayer == "" || len(raw.LocalPlayer) > maxIDLength:
		return malformed("localPlayer length out of range")
	case len(raw.Entities) == 0:
		return malformed("no entities")
	}

	ds := raw.DamageStats
	if ds.TotalDamageDealt < 0 || ds.TopDamageDealt < 0 || ds.TotalDamageTaken < 0 ||
		ds.TopDamageTaken < 0 || ds.TotalHealing < 0 || ds.TotalShielding < 0 {
		return malformed("negative damage stats")
	}

	for i := range raw.Entities {
		e := &raw.Entities[i]
		if e.ID == "" || len(e.ID) > maxIDLength {
			return malformed("entity %d: id length out of range", i)
		}
		if len(e.Name) > maxNameLength {
			return malformed("entity %s: name too long", e.ID)
		}
		if e.CurrentHP < 0 || e.MaxHP < 0 {
			return malformed("entity %s: negative hp", e.ID)
		}
		if e.LastUpdate < 0 || e.Deaths < 0 || e.DeathTime < 0 {
			return malformed("entity %s: negative counters", e.ID)
		}
		d := e.Damage
		if d.DamageDealt < 0 || d.DamageTaken < 0 || d.Healing < 0 ||
			d.ShieldsGiven < 0 || d.ShieldsTaken < 0 || d.DamageAbsorbed < 0 {
			return malformed("entity %s: negative damage", e.ID)
		}
		for j := range e.Skills {
			s := &e.Skills[j]
			if len(s.Name) > maxNameLength {
				return malformed("entity %s skill %d: name too long", e.ID, s.ID)
			}
			if s.Casts < 0 || s.Hits < 0 || s.Crits < 0 || s.TotalDamage < 0 || s.MaxDamage < 0 {
				return malformed("entity %s skill %d: negative numbers", e.ID, s.ID)
			}
		}
	}
	return nil
}

func checkEntity(e *model.Entity) error {
	if e.CurrentHP > e.MaxHP {
		return malformed("entity %s: currentHp %d exceeds maxHp %d", e.ID, e.CurrentHP, e.MaxHP)
	}
	if (e.Deaths > 0) != (e.DeathTime > 0) {
		return malformed("entity %s: deaths and deathTime disagree", e.ID)
	}
	minGear := float64(minOtherGearScore)
	if e.IsPlayer {
		minGear = minPlayerGearScore
	}
	if e.GearScore < minGear || e.GearScore > maxGearScore {
		return malformed("entity %s: gear score %.2f out of range", e.ID, e.GearScore)
	}
	return nil
}

func checkSkillCount(e *model.Entity) error {
	limit := maxSkillsNone
	switch e.Kind() {
	case model.KindPlayer:
		limit = maxSkillsPlayer
	case model.KindBoss:
		limit = maxSkillsBoss
	case model.KindEsther:
		limit = maxSkillsEsther
	}
	if len(e.Skills) > limit {
		return malformed("entity %s: %d skills exceeds %d", e.ID, len(e.Skills), limit)
	}
	return nil
}

func checkAggregate(raw *model.RawUpload) error {
	minEntities := MinPlayers + MinBosses
	maxEntities := MaxBosses + MaxPlayers + MaxEsthers
	if n := len(raw.Entities); n < minEntities || n > maxEntities {
		return implausible("entity count %d outside [%d, %d]", n, minEntities, maxEntities)
	}

	// Summed in float64 so large per-entity values cannot wrap past the ceiling.
	var bossHP, dealt float64
	for i := range raw.Entities {
		e := &raw.Entities[i]
		switch e.Kind() {
		case model.KindBoss:
			bossHP += float64(e.MaxHP)
		case model.KindPlayer, model.KindEsther:
			dealt += float64(e.Damage.DamageDealt)
		}
	}

	ceiling := bossHP * DamageTolerance
	if dealt > ceiling {
		return implausible("total damage %.0f exceeds ceiling %.0f", dealt, ceiling)
	}
	for i := range raw.Entities {
		e := &raw.Entities[i]
		switch e.Kind() {
		case model.KindBoss:
			if float64(e.MaxHP) > ceiling {
				return implausible("boss %s maxHp %d exceeds ceiling %.0f", e.ID, e.MaxHP, ceiling)
			}
		case model.KindPlayer, model.KindEsther:
			if float64(e.Damage.DamageDealt) > ceiling {
				return implausible("entity %s damage %d exceeds ceiling %.0f", e.ID, e.Damage.DamageDealt, ceiling)
			}
		}
	}
	return nil
}

// DamageCeiling returns the maximum total damage accepted for the given
// summed boss HP.
func DamageCeiling(bossHP int64) float64 {
	return float64(bossHP) * DamageTolerance
}
