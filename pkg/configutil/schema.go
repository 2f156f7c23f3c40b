package configutil

import (
	"sort"
	"strings"

	"github.com/harunnryd/sttstream/pkg/errorsx"
)

// Schema lists the keys a settings block accepts. Matching ignores case,
// underscores and hyphens, so "sample_rate_hertz" and "sampleRateHertz" agree.
type Schema struct {
	Required     []string
	Optional     []string
	AllowUnknown bool
}

func (s Schema) allows(key string) bool {
	if s.AllowUnknown {
		return true
	}
	for _, k := range s.Required {
		if normalizeKey(k) == key {
			return true
		}
	}
	for _, k := range s.Optional {
		if normalizeKey(k) == key {
			return true
		}
	}
	return false
}

// ValidateSettings reports missing required keys and keys outside the schema
// as a single config error.
func ValidateSettings(input map[string]any, schema Schema) error {
	present := make(map[string]any, len(input))
	var unknown []string
	for k, v := range input {
		nk := normalizeKey(k)
		present[nk] = v
		if !schema.allows(nk) {
			unknown = append(unknown, k)
		}
	}

	var missing []string
	for _, k := range schema.Required {
		v, ok := present[normalizeKey(k)]
		if !ok || blank(v) {
			missing = append(missing, k)
		}
	}

	if len(missing) == 0 && len(unknown) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(unknown)
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(missing, ", "))
	}
	if len(unknown) > 0 {
		parts = append(parts, "unknown: "+strings.Join(unknown, ", "))
	}
	return errorsx.New(errorsx.ReasonConfig, strings.Join(parts, "; "))
}

func blank(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	case []string:
		return len(val) == 0
	default:
		return false
	}
}
