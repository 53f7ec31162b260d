package otp

import (
	"context"

	"github.com/openfathom/scanward/internal/metrics"
)

// Placeholder literals the scanner sends for empty identifier lists.
const (
	placeholderNoCVE      = "NOCVE"
	placeholderNoBID      = "NOBID"
	placeholderNoXref     = "NOXREF"
	placeholderNoSignKeys = "NOSIGNKEYS"
)

// stepFeedVersion records the plugin feed version announced right after
// the handshake (PLUGINS_MD5 in the legacy grammar, NVT_INFO in the
// modern one).
func (s *Session) stepFeedVersion(ctx context.Context) error {
	field, _, err := s.buf.TakeFieldAny()
	if err != nil {
		return err
	}

	if err := s.stores.NVTs.SetFeedVersion(ctx, field); err != nil {
		s.logger.ErrorParser("Failed to store feed version", s.id, err, "version", field)
	}
	if s.phase.Done() {
		s.phase = PhaseGotFeedVersion
	}
	s.state = stTop
	s.logger.InfoParser("Scanner announced feed version", s.id, "version", field)
	return nil
}

// stepPlugin consumes one field of a PLUGIN_LIST record. Records
// accumulate until an empty OID terminates the list, then commit as one
// bulk operation. The legacy grammar carries two extra fields, a long
// description and signing-key fingerprints.
func (s *Session) stepPlugin(ctx context.Context) error {
	field, err := s.buf.TakeField(delimToken)
	if err != nil {
		return err
	}

	switch s.state {
	case stPluginOID:
		if field == "" {
			s.commitPlugins(ctx)
			return nil
		}
		s.plugin = &PluginRecord{OID: field}
		s.state = stPluginName
	case stPluginName:
		s.plugin.Name = field
		s.state = stPluginCategory
	case stPluginCategory:
		s.plugin.Category = atoiOrZero(field)
		s.state = stPluginCopyright
	case stPluginCopyright:
		s.plugin.Copyright = field
		if s.legacy {
			s.state = stPluginDescription
		} else {
			s.state = stPluginSummary
		}
	case stPluginDescription:
		s.plugin.Description = field
		s.state = stPluginSummary
	case stPluginSummary:
		s.plugin.Summary = field
		s.state = stPluginFamily
	case stPluginFamily:
		s.plugin.Family = field
		s.state = stPluginVersion
	case stPluginVersion:
		s.plugin.Version = field
		s.state = stPluginCVE
	case stPluginCVE:
		s.plugin.CVEs = splitPluginList(field, placeholderNoCVE)
		s.state = stPluginBID
	case stPluginBID:
		s.plugin.BIDs = splitPluginList(field, placeholderNoBID)
		s.state = stPluginXrefs
	case stPluginXrefs:
		s.plugin.XRefs = splitPluginList(field, placeholderNoXref)
		if s.legacy {
			s.state = stPluginFprs
		} else {
			s.state = stPluginTags
		}
	case stPluginFprs:
		s.plugin.SignKeyIDs = splitPluginList(field, placeholderNoSignKeys)
		s.state = stPluginTags
	default: // stPluginTags
		s.plugin.SetTags(field)
		s.plugins = append(s.plugins, s.plugin)
		s.plugin = nil
		s.state = stPluginOID
	}
	return nil
}

// commitPlugins flushes the accumulated plugin list to the NVT cache. A
// rebuild session replaces the cache; anything else merges into it.
func (s *Session) commitPlugins(ctx context.Context) {
	mode := ResyncIncremental
	if s.cacheMode == CacheRebuild {
		mode = ResyncFull
	}

	if err := s.stores.NVTs.BulkUpsert(ctx, s.plugins, mode); err != nil {
		s.logger.ErrorParser("Failed to commit plugin list", s.id, err,
			"plugins", len(s.plugins))
	} else {
		s.logger.InfoParser("Committed plugin list", s.id,
			"plugins", len(s.plugins), "full_resync", mode == ResyncFull)
	}
	metrics.IncrementPluginsCached(len(s.plugins))

	if s.phase == PhaseGotFeedVersion {
		s.phase = PhaseGotPlugins
	}
	s.plugins = nil
	s.state = stTop
}
