// Package association derives the key that lets independent uploads of the
// same encounter find each other.
package association

import (
	"sort"
	"strconv"
	"strings"

	"github.com/okian/raidsync/internal/domain/model"
)

// Separator joins the participant ids to the zone id.
const Separator = "::"

// Derive returns the association key for the players in entities and zone.
// Player ids are sorted so arrival order never changes the key.
func Derive(zone model.Zone, entities []model.Entity) model.Association {
	ids := make([]string, 0, len(entities))
	for i := range entities {
		if entities[i].IsPlayer {
			ids = append(ids, entities[i].ID)
		}
	}
	sort.Strings(ids)

	var b strings.Builder
	for _, id := range ids {
		b.WriteString(id)
	}
	b.WriteString(Separator)
	b.WriteString(strconv.Itoa(zone.ID))
	return model.Association(b.String())
}
