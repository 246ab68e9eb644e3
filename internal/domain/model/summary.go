package model

import "time"

// Status is the lifecycle state of an encounter summary.
type Status string

// Summary statuses.
const (
	StatusProcessing Status = "PROCESSING"
	StatusSuccess    Status = "SUCCESS"
	StatusFailed     Status = "FAILED"
)

// Uploader attributes an upload to an identity and the entity that
// identity played in the encounter.
type Uploader struct {
	Identity    string `json:"identity" msgpack:"identity"`
	LocalPlayer string `json:"localPlayer" msgpack:"local_player"`
}

// Summary is the placeholder persisted as soon as a pending aggregation is
// created, so observers can reference the record id before finalization.
type Summary struct {
	ID          string      `json:"id" msgpack:"id"`
	Association Association `json:"association" msgpack:"association"`
	ZoneID      int         `json:"zoneId" msgpack:"zone_id"`
	Status      Status      `json:"status" msgpack:"status"`
	Error       string      `json:"error,omitempty" msgpack:"error"`
	Uploaders   []Uploader  `json:"uploaders" msgpack:"uploaders"`
	CreatedAt   time.Time   `json:"createdAt" msgpack:"created_at"`
	UpdatedAt   time.Time   `json:"updatedAt" msgpack:"updated_at"`
}

// Encounter is the permanent record written at finalization.
type Encounter struct {
	ID               string      `json:"id" msgpack:"id"`
	Association      Association `json:"association" msgpack:"association"`
	ZoneID           int         `json:"zoneId" msgpack:"zone_id"`
	StartedOn        int64       `json:"startedOn" msgpack:"started_on"`
	FightStart       int64       `json:"fightStart" msgpack:"fight_start"`
	LastCombatPacket int64       `json:"lastCombatPacket" msgpack:"last_combat_packet"`
	Entities         []Entity    `json:"entities" msgpack:"entities"`
	DamageStats      DamageStats `json:"damageStats" msgpack:"damage_stats"`
	Uploaders        []Uploader  `json:"uploaders" msgpack:"uploaders"`
	CreatedAt        time.Time   `json:"createdAt" msgpack:"created_at"`
}

// FinalizeJob asks a worker to finalize one pending aggregation. RecordID
// guards against finalizing a newer aggregation that reused the key.
type FinalizeJob struct {
	Association Association
	RecordID    string
}
