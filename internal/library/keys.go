package library

import (
	"strings"

	"github.com/llehouerou/shelf/internal/search"
)

// SortKey derives the sortable form of a name. An explicit sort tag
// (TSOP, ARTISTSORT, ...) wins over the display name. The key keeps its
// case, since listings compare with COLLATE NOCASE, but diacritics are
// folded because NOCASE only folds ASCII.
func SortKey(name, explicit string) string {
	s := strings.TrimSpace(explicit)
	if s == "" {
		s = name
	}
	return strings.Join(strings.Fields(search.RemoveDiacritics(s)), " ")
}
