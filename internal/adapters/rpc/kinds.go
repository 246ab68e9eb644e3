package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/okian/raidsync/internal/domain/model"
)

// Kind identifies a message type on the channel. The set is closed.
type Kind int

// Message kinds.
const (
	KindIdentityDetails Kind = iota + 1
	KindSystemConfig
	KindPendingCreated
)

// String returns the snake_case kind name used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindIdentityDetails:
		return "identity_details"
	case KindSystemConfig:
		return "system_config"
	case KindPendingCreated:
		return "pending_created"
	default:
		return fmt.Sprintf("kind_%d", int(k))
	}
}

// IdentityDetailsRequest asks for the authoritative view of an identity.
type IdentityDetailsRequest struct {
	IdentityID string `json:"identityId"`
}

// SystemConfigRequest asks for the global ingestion configuration.
type SystemConfigRequest struct{}

// PendingCreatedNotice announces a new pending aggregation.
type PendingCreatedNotice struct {
	RecordID    string `json:"recordId"`
	Association string `json:"association"`
}

type decoder func(json.RawMessage) (any, error)

// decoders validates and decodes response payloads per kind.
var decoders = map[Kind]decoder{
	KindIdentityDetails: decodeIdentity,
	KindSystemConfig:    decodeSystemConfig,
	KindPendingCreated:  func(json.RawMessage) (any, error) { return nil, nil },
}

func decodeIdentity(raw json.RawMessage) (any, error) {
	var id model.Identity
	if err := json.Unmarshal(raw, &id); err != nil {
		return nil, fmt.Errorf("%w: identity: %v", ErrBadResponse, err)
	}
	if id.ID == "" {
		return nil, fmt.Errorf("%w: identity: missing id", ErrBadResponse)
	}
	return id, nil
}

type systemConfigWire struct {
	UploadsEnabled *bool  `json:"uploadsEnabled"`
	Initialized    *bool  `json:"initialized"`
	MaxEncounters  *int64 `json:"maxEncounters"`
}

func decodeSystemConfig(raw json.RawMessage) (any, error) {
	var w systemConfigWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: system config: %v", ErrBadResponse, err)
	}
	if w.UploadsEnabled == nil || w.Initialized == nil {
		return nil, fmt.Errorf("%w: system config: missing flags", ErrBadResponse)
	}
	cfg := model.SystemConfig{UploadsEnabled: *w.UploadsEnabled, Initialized: *w.Initialized}
	if w.MaxEncounters != nil {
		cfg.MaxEncounters = *w.MaxEncounters
	}
	return cfg, nil
}

// Decode validates a response payload for kind.
func Decode(kind Kind, raw json.RawMessage) (any, error) {
	dec, ok := decoders[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, int(kind))
	}
	return dec(raw)
}
