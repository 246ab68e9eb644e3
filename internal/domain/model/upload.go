// Package model contains domain models passed between layers.
package model

// EntityKind classifies a combat participant by its role flags.
type EntityKind int

// Entity kinds. KindNone covers summons, objects and anything else that is
// neither a player, a boss nor an esther.
const (
	KindNone EntityKind = iota
	KindPlayer
	KindBoss
	KindEsther
)

// String returns the lowercase name of the kind.
func (k EntityKind) String() string {
	switch k {
	case KindPlayer:
		return "player"
	case KindBoss:
		return "boss"
	case KindEsther:
		return "esther"
	default:
		return "none"
	}
}

// RawUpload is the snapshot a game client submits at the end of a fight.
// It only lives for the duration of one request.
type RawUpload struct {
	StartedOn        int64       `json:"startedOn" msgpack:"started_on"`
	FightStart       int64       `json:"fightStart" msgpack:"fight_start"`
	LastCombatPacket int64       `json:"lastCombatPacket" msgpack:"last_combat_packet"`
	LocalPlayer      string      `json:"localPlayer" msgpack:"local_player"`
	Entities         []Entity    `json:"entities" msgpack:"entities"`
	DamageStats      DamageStats `json:"damageStats" msgpack:"damage_stats"`
}

// DamageStats aggregates encounter-wide damage numbers.
type DamageStats struct {
	TotalDamageDealt int64 `json:"totalDamageDealt" msgpack:"total_damage_dealt"`
	TopDamageDealt   int64 `json:"topDamageDealt" msgpack:"top_damage_dealt"`
	TotalDamageTaken int64 `json:"totalDamageTaken" msgpack:"total_damage_taken"`
	TopDamageTaken   int64 `json:"topDamageTaken" msgpack:"top_damage_taken"`
	TotalHealing     int64 `json:"totalHealing" msgpack:"total_healing"`
	TotalShielding   int64 `json:"totalShielding" msgpack:"total_shielding"`
}

// Entity is one combat participant. IDs are short session-scoped hex ids and
// are not unique across sessions.
type Entity struct {
	ID         string       `json:"id" msgpack:"id"`
	NpcID      uint32       `json:"npcId" msgpack:"npc_id"`
	Name       string       `json:"name" msgpack:"name"`
	ClassID    int          `json:"classId" msgpack:"class_id"`
	GearScore  float64      `json:"gearScore" msgpack:"gear_score"`
	IsPlayer   bool         `json:"isPlayer" msgpack:"is_player"`
	IsBoss     bool         `json:"isBoss" msgpack:"is_boss"`
	IsEsther   bool         `json:"isEsther" msgpack:"is_esther"`
	PartyID    *int         `json:"partyId" msgpack:"party_id"`
	CurrentHP  int64        `json:"currentHp" msgpack:"current_hp"`
	MaxHP      int64        `json:"maxHp" msgpack:"max_hp"`
	LastUpdate int64        `json:"lastUpdate" msgpack:"last_update"`
	Damage     EntityDamage `json:"damageStats" msgpack:"damage"`
	Deaths     int          `json:"deaths" msgpack:"deaths"`
	DeathTime  int64        `json:"deathTime" msgpack:"death_time"`
	Skills     []Skill      `json:"skills" msgpack:"skills"`
}

// EntityDamage holds the cumulative numbers for a single entity.
type EntityDamage struct {
	DamageDealt    int64 `json:"damageDealt" msgpack:"damage_dealt"`
	DamageTaken    int64 `json:"damageTaken" msgpack:"damage_taken"`
	Healing        int64 `json:"healing" msgpack:"healing"`
	ShieldsGiven   int64 `json:"shieldsGiven" msgpack:"shields_given"`
	ShieldsTaken   int64 `json:"shieldsReceived" msgpack:"shields_taken"`
	DamageAbsorbed int64 `json:"damageAbsorbed" msgpack:"damage_absorbed"`
}

// Skill is a per-skill breakdown for one entity.
type Skill struct {
	ID          uint32 `json:"id" msgpack:"id"`
	Name        string `json:"name" msgpack:"name"`
	Casts       int    `json:"casts" msgpack:"casts"`
	Hits        int    `json:"hits" msgpack:"hits"`
	Crits       int    `json:"crits" msgpack:"crits"`
	TotalDamage int64  `json:"totalDamage" msgpack:"total_damage"`
	MaxDamage   int64  `json:"maxDamage" msgpack:"max_damage"`
}

// Kind reports the entity classification. Player wins over boss and boss
// over esther when a client sets more than one flag.
func (e *Entity) Kind() EntityKind {
	switch {
	case e.IsPlayer:
		return KindPlayer
	case e.IsBoss:
		return KindBoss
	case e.IsEsther:
		return KindEsther
	default:
		return KindNone
	}
}
