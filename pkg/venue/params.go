package venue

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
)

// Params is the loosely-typed parameter set configured for one venue
// (account type, base URLs, sandbox flag, credentials). The node passes it
// through untouched; each factory decodes and validates what it needs.
type Params map[string]any

var validate = validator.New()

// Decode decodes the parameters into out (a pointer to a struct with
// mapstructure tags) and validates it with its `validate` tags.
func (p Params) Decode(out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to build params decoder: %w", err)
	}

	if err := decoder.Decode(map[string]any(p)); err != nil {
		return fmt.Errorf("failed to decode venue params: %w", err)
	}

	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("invalid venue params: %w", err)
	}

	return nil
}

// String returns a string parameter or def when absent.
func (p Params) String(key, def string) string {
	if v, ok := p[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return def
}

// Bool returns a boolean parameter or def when absent or not a bool.
func (p Params) Bool(key string, def bool) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return def
}

// Clone returns a shallow copy so a factory cannot mutate the node's config.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
