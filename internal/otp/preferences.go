package otp

import (
	"context"
	"regexp"
	"strings"

	"github.com/openfathom/scanward/internal/metrics"
)

// prefEntryPattern matches structured preference names of the shape
// "Plugin Name[entry_type]: entry name".
var prefEntryPattern = regexp.MustCompile(`^(.*)\[([^\]]+)\]:`)

// isSecretPreference reports whether a preference name denotes credential
// material. Secret values are parsed to keep the stream aligned but are
// never persisted, retained or logged.
func isSecretPreference(name string) bool {
	m := prefEntryPattern.FindStringSubmatch(name)
	if m == nil {
		return false
	}
	switch m[2] {
	case "password", "passphrase":
		return true
	}
	return strings.HasSuffix(strings.TrimSpace(m[1]), "Authorization")
}

// stepPreference consumes one field of the PREFERENCES block. Names and
// values alternate until an empty name ends the block. Values persist
// only during cache update sessions; a rebuild overwrites stored values,
// an update keeps them.
func (s *Session) stepPreference(ctx context.Context) error {
	switch s.state {
	case stPrefName:
		field, err := s.buf.TakeField(delimToken)
		if err != nil {
			return err
		}
		if field == "" {
			s.state = stTop
			return nil
		}
		s.prefName = field
		s.prefSecret = isSecretPreference(field)
		s.state = stPrefValue
		return nil

	default: // stPrefValue
		field, _, err := s.buf.TakeFieldAny()
		if err != nil {
			return err
		}
		name := s.prefName
		s.prefName = ""
		s.state = stPrefName

		if s.prefSecret {
			s.prefSecret = false
			s.logger.Debug("Suppressing secret preference", "session_id", s.id, "name", name)
			return nil
		}
		s.preferences[name] = field

		if !s.inCacheUpdate() {
			return nil
		}
		overwrite := s.cacheMode == CacheRebuild
		if err := s.stores.Preferences.UpsertPreference(ctx, name, field, overwrite); err != nil {
			s.logger.ErrorParser("Failed to store scanner preference", s.id, err, "name", name)
			return nil
		}
		metrics.Counter(metrics.MetricPreferencesStored, nil)
		return nil
	}
}
