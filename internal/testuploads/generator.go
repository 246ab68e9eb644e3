package testuploads

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/okian/raidsync/internal/testutil"
	"github.com/okian/raidsync/pkg/logger"
)

// playerIDLength keeps generated ids well inside the accepted id length.
const playerIDLength = 16

// Generate builds n encounters. Every encounter has four players; the first
// uploaders of them each send their own view with entities shuffled, so the
// service only sees the same fight through the association key.
func Generate(ctx context.Context, n, uploaders int) ([]Encounter, error) {
	if uploaders < 1 || uploaders > PlayersPerEncounter {
		return nil, fmt.Errorf("uploaders must be between 1 and %d, got %d", PlayersPerEncounter, uploaders)
	}
	logger.Get().Info(ctx, "generating encounters",
		logger.Int("encounters", n),
		logger.Int("uploaders", uploaders))

	encounters := make([]Encounter, n)
	for i := range encounters {
		players := make([]string, PlayersPerEncounter)
		for j := range players {
			id, err := gonanoid.New(playerIDLength)
			if err != nil {
				return nil, fmt.Errorf("generate player id: %w", err)
			}
			players[j] = id
		}

		enc := Encounter{Players: players, Uploads: make([]Upload, 0, uploaders)}
		for _, local := range players[:uploaders] {
			raw := testutil.AbyssUpload(local, players...)
			rand.Shuffle(len(raw.Entities), func(a, b int) {
				raw.Entities[a], raw.Entities[b] = raw.Entities[b], raw.Entities[a]
			})
			body, err := json.Marshal(raw)
			if err != nil {
				return nil, fmt.Errorf("encode upload: %w", err)
			}
			enc.Uploads = append(enc.Uploads, Upload{Identity: local, Body: body})
		}
		encounters[i] = enc
	}
	return encounters, nil
}
