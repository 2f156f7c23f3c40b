package configutil

import (
	"strings"

	"github.com/harunnryd/sttstream/pkg/errorsx"
	"github.com/mitchellh/mapstructure"
)

// DecodeSettings decodes a free-form settings map into a struct tagged with
// mapstructure. A nil or empty map leaves out untouched.
func DecodeSettings(input map[string]any, out any) error {
	if len(input) == 0 {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		MatchName: func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		},
	})
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonConfig)
	}
	if err := decoder.Decode(input); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonConfig)
	}
	return nil
}

// RequireString fails with a config error when value is blank.
func RequireString(value, path string) error {
	if strings.TrimSpace(value) == "" {
		return errorsx.Errorf(errorsx.ReasonConfig, "%s is required", path)
	}
	return nil
}

func normalizeKey(value string) string {
	return strings.NewReplacer("_", "", "-", "").Replace(strings.ToLower(value))
}
