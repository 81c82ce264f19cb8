package model

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

// memberKey builds the deterministic de-duplication key for a set of
// member ids: sorted canonical strings joined by a separator that cannot
// appear inside a UUID.
func memberKey(ids []uuid.UUID) string {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	sort.Strings(strs)
	return strings.Join(strs, ",")
}
