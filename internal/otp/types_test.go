package otp

import (
	"testing"
)

func TestParsePort(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		number   int
		protocol PortProtocol
	}{
		{"number and protocol", "80/tcp", 80, ProtocolTCP},
		{"udp protocol", "53/udp", 53, ProtocolUDP},
		{"named service wrapper", "www (80/tcp)", 80, ProtocolTCP},
		{"telnet wrapper", "telnet (23/tcp)", 23, ProtocolTCP},
		{"unknown protocol", "514/icmp", 514, ProtocolOther},
		{"bare number", "8080", 8080, ""},
		{"general channel", "general/tcp", 0, ""},
		{"host detail channel", "general/Host_Details", 0, ""},
		{"empty", "", 0, ""},
		{"garbage", "not a port", 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := parsePort(tt.raw)
			if p.Number != tt.number {
				t.Errorf("Expected port %d, got %d", tt.number, p.Number)
			}
			if p.Protocol != tt.protocol {
				t.Errorf("Expected protocol %q, got %q", tt.protocol, p.Protocol)
			}
			if p.Raw != tt.raw {
				t.Errorf("Raw field must be preserved, got %q", p.Raw)
			}
		})
	}
}

func TestSetTags(t *testing.T) {
	var p PluginRecord
	p.SetTags("cvss_base=7.5;risk_factor=High;summary=Checks for open telnet;solution=Disable it")

	if len(p.Tags) != 4 {
		t.Fatalf("Expected 4 tags, got %d", len(p.Tags))
	}
	if p.CVSSBase != "7.5" {
		t.Errorf("Expected extracted cvss_base 7.5, got %q", p.CVSSBase)
	}
	if p.RiskFactor != "High" {
		t.Errorf("Expected extracted risk_factor High, got %q", p.RiskFactor)
	}

	// Extraction keeps the pairs in the map as well.
	if p.Tags["cvss_base"] != "7.5" || p.Tags["risk_factor"] != "High" {
		t.Error("Extracted tags must remain in the tag map")
	}
}

func TestSetTagsValueContainingEquals(t *testing.T) {
	var p PluginRecord
	p.SetTags("cvss_base_vector=AV:N/AC:L/Au:N/C:P/I:P/A:P;note=a=b")

	if p.Tags["cvss_base_vector"] != "AV:N/AC:L/Au:N/C:P/I:P/A:P" {
		t.Errorf("Vector tag mangled: %q", p.Tags["cvss_base_vector"])
	}
	if p.Tags["note"] != "a=b" {
		t.Errorf("Only the first equals sign splits a pair, got %q", p.Tags["note"])
	}
	if p.CVSSBase != "" {
		t.Errorf("cvss_base_vector must not populate CVSSBase, got %q", p.CVSSBase)
	}
}

func TestSetTagsPlaceholders(t *testing.T) {
	for _, raw := range []string{"", "NOTAG"} {
		var p PluginRecord
		p.SetTags(raw)
		if len(p.Tags) != 0 {
			t.Errorf("Expected no tags for %q, got %v", raw, p.Tags)
		}
	}
}

func TestSplitPluginList(t *testing.T) {
	tests := []struct {
		raw         string
		placeholder string
		want        int
	}{
		{"CVE-2001-0414, CVE-2002-0083", "NOCVE", 2},
		{"NOCVE", "NOCVE", 0},
		{"", "NOCVE", 0},
		{"10881", "NOBID", 1},
		{"NOXREF", "NOXREF", 0},
	}

	for _, tt := range tests {
		got := splitPluginList(tt.raw, tt.placeholder)
		if len(got) != tt.want {
			t.Errorf("splitPluginList(%q): expected %d entries, got %v", tt.raw, tt.want, got)
		}
	}
}

func TestVerdictString(t *testing.T) {
	pairs := map[Verdict]string{
		VerdictContinue:       "continue",
		VerdictGoodbye:        "goodbye",
		VerdictBadLogin:       "bad_login",
		VerdictScannerLoading: "scanner_loading",
		Verdict(99):           "unknown",
	}
	for v, want := range pairs {
		if v.String() != want {
			t.Errorf("Verdict(%d).String() = %q, want %q", v, v.String(), want)
		}
	}
}

func TestIsSecretPreference(t *testing.T) {
	tests := []struct {
		name   string
		secret bool
	}{
		{"SSH Authorization[password]:SSH password:", true},
		{"SMB Authorization[passphrase]:Key passphrase", true},
		{"HTTP Login[entry]:Username:", false},
		{"Login configurations Authorization[entry]:Account", true},
		{"checks_read_timeout", false},
		{"plugins_folder", false},
	}

	for _, tt := range tests {
		if got := isSecretPreference(tt.name); got != tt.secret {
			t.Errorf("isSecretPreference(%q) = %v, want %v", tt.name, got, tt.secret)
		}
	}
}
