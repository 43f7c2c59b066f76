// Package config provides hierarchical, hot-reloadable configuration for
// the locality runtime-support server and the components/plugins it loads.
package config

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// Config is the contract every loadable configuration section satisfies.
// Sections are identified by name ("application", "plugin", "logger", …)
// and unmarshaled into the concrete type passed to LoadConfig.
type Config interface {
	GetName() string
	Validate() error
}

// Decode unmarshals a raw map (as produced by viper for a single config
// section, or by an INI-style components/plugins instance block) into a
// typed struct using "mapstructure" tags. Plugin and component factories
// use this to turn their instance's configuration map into a concrete
// config struct without each factory re-implementing map walking.
func Decode(v map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("config: build decoder: %w", err)
	}
	return dec.Decode(v)
}
