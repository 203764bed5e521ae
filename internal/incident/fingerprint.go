package incident

import (
	"slices"
	"strings"
)

const fingerprintSep = "|"

// Fingerprint derives the correlation key for a detection: the indicator
// followed by its technique tags in lexicographic order, joined by "|".
func Fingerprint(d *Detection) string {
	parts := make([]string, 0, len(d.TechniqueTags)+1)
	parts = append(parts, d.Indicator)
	tags := slices.Clone(d.TechniqueTags)
	slices.Sort(tags)
	parts = append(parts, tags...)
	return strings.Join(parts, fingerprintSep)
}
