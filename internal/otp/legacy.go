package otp

// Legacy-only sub-grammars: RULES, CERTIFICATES and PLUGIN_DEPENDENCY.
// The records accumulate on the session; callers read them through the
// Rules, Certificates and Dependencies accessors.

// stepRule consumes one scanner rule. Rules are semicolon-delimited
// opaque tokens; the block's closing token delimiter ends the list.
func (s *Session) stepRule() error {
	field, which, err := s.buf.takeUntil(delimSemi, delimToken)
	if err != nil {
		return err
	}
	if field != "" {
		s.rules = append(s.rules, field)
	}
	if which == 1 {
		s.state = stTop
		s.logger.InfoParser("Scanner rules received", s.id, "rules", len(s.rules))
	}
	return nil
}

// stepCertificate consumes one field of the CERTIFICATES block. Each
// record is fingerprint, owner, trust marker, key length and the key
// itself; the key runs to the end of the line, everything else is
// token-delimited. An empty fingerprint ends the block.
func (s *Session) stepCertificate() error {
	delim := delimToken
	if s.state == stCertKey {
		delim = delimNewline
	}
	field, err := s.buf.TakeField(delim)
	if err != nil {
		return err
	}

	switch s.state {
	case stCertFingerprint:
		if field == "" {
			s.state = stTop
			s.logger.InfoParser("Scanner certificates received", s.id,
				"certificates", len(s.certificates))
			return nil
		}
		s.cert = &Certificate{Fingerprint: field}
		s.state = stCertOwner
	case stCertOwner:
		s.cert.Owner = field
		s.state = stCertTrust
	case stCertTrust:
		s.cert.Trusted = field == "trusted"
		s.state = stCertLength
	case stCertLength:
		// The announced key length is redundant with the delimited key
		// field and is discarded.
		s.state = stCertKey
	default: // stCertKey
		s.cert.PublicKey = field
		s.certificates = append(s.certificates, *s.cert)
		s.cert = nil
		s.state = stCertFingerprint
	}
	return nil
}

// stepDependency consumes one field of the PLUGIN_DEPENDENCY block. Each
// record is a plugin name followed by required plugin names; a newline
// before the next token delimiter ends the record, an empty name ends
// the block.
func (s *Session) stepDependency() error {
	switch s.state {
	case stDepName:
		field, err := s.buf.TakeField(delimToken)
		if err != nil {
			return err
		}
		if field == "" {
			s.state = stTop
			s.logger.InfoParser("Plugin dependencies received", s.id,
				"plugins", len(s.dependencies))
			return nil
		}
		s.dep = &PluginDependency{Name: field}
		s.state = stDepRequires
		return nil

	default: // stDepRequires
		field, endOfRecord, err := s.buf.TakeFieldAny()
		if err != nil {
			return err
		}
		if field != "" {
			s.dep.Requires = append(s.dep.Requires, field)
		}
		if endOfRecord {
			s.dependencies = append(s.dependencies, *s.dep)
			s.dep = nil
			s.state = stDepName
		}
		return nil
	}
}
