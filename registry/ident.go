package registry

import "strings"

// Canonical folds a dash-separated identifier to camelCase: a run of
// dashes followed by a letter becomes the uppercased letter, scanning left
// to right. Dashes not followed by a letter pass through unchanged, as
// does everything else, so the function is idempotent. When camelCase is
// false the identifier is returned as is.
func Canonical(id string, camelCase bool) string {
	if !camelCase || !strings.Contains(id, "-") {
		return id
	}
	var b strings.Builder
	b.Grow(len(id))
	for i := 0; i < len(id); {
		if id[i] != '-' {
			b.WriteByte(id[i])
			i++
			continue
		}
		// Consume the whole dash run so the output never contains a dash
		// directly before a letter, which would fold again on a second pass.
		j := i
		for j < len(id) && id[j] == '-' {
			j++
		}
		if j < len(id) {
			switch c := id[j]; {
			case 'a' <= c && c <= 'z':
				b.WriteByte(c - 'a' + 'A')
				i = j + 1
				continue
			case 'A' <= c && c <= 'Z':
				b.WriteByte(c)
				i = j + 1
				continue
			}
		}
		b.WriteString(id[i:j])
		i = j
	}
	return b.String()
}
