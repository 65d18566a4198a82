package options

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

// FlagSetter applies a single named flag. It is the engine side of
// option configuration.
type FlagSetter interface {
	SetFlag(name string, val interface{}) error
}

// ConfigError reports every flag that failed to apply during one
// configuration phase.
type ConfigError struct {
	Restriction Restriction
	Names       []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("failed to set %s options: %s", e.Restriction, strings.Join(e.Names, ", "))
}

// Configure applies every option value tagged with restriction r, skipping
// values tagged for other phases. It does not stop at the first failure:
// all failing option names are collected into a single ConfigError so one
// diagnostic covers the whole phase. Local options are never forwarded.
func Configure(s FlagSetter, ovs OptionValues, r Restriction) error {
	if r == Local {
		return nil
	}

	var (
		failed []string
		seen   map[string]bool
	)
	for _, ov := range ovs {
		if ov.Option.Restriction() != r {
			continue
		}
		name := ov.Option.Name()
		var err error
		if err = ov.Option.Validate(ov.Value); err == nil {
			err = s.SetFlag(name, ov.Value)
		}
		if err == nil {
			continue
		}

		if log.IsLevelEnabled(log.DebugLevel) {
			log.WithField("domain", "options").
				WithFields(log.Fields{"flag": name, "restriction": r.String()}).
				WithError(err).
				Debug("set flag")
		}
		if seen == nil {
			seen = make(map[string]bool)
		}
		if !seen[name] {
			seen[name] = true
			failed = append(failed, name)
		}
	}

	if len(failed) > 0 {
		return &ConfigError{Restriction: r, Names: failed}
	}
	return nil
}
