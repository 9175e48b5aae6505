package call

import (
	"strings"

	"siprec-bridge/pkg/session"
)

// Correlation header names consumed from inbound signaling.
const (
	HeaderSequenceID = "X-Sequence-ID"
	HeaderAgentDNIS  = "X-Agent-DNIS"
)

// ExtractCorrelation pulls the sequence and agent routing values out of raw
// header lines. Missing or malformed headers degrade to the "unknown"
// sentinel; extraction never fails.
func ExtractCorrelation(headers []string) (seqID, agentDNIS string) {
	seqID = session.Unknown
	agentDNIS = session.Unknown

	for _, header := range headers {
		switch {
		case hasHeaderName(header, HeaderSequenceID):
			if v := headerValue(header); v != "" {
				seqID = v
			}
		case hasHeaderName(header, HeaderAgentDNIS):
			if v := headerValue(header); v != "" {
				agentDNIS = v
			}
		}
	}
	return seqID, agentDNIS
}

func hasHeaderName(line, name string) bool {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(line[:idx]), name)
}

// headerValue splits a raw header line on the first colon and trims the
// remainder.
func headerValue(line string) string {
	_, value, found := strings.Cut(line, ":")
	if !found {
		return ""
	}
	return strings.TrimSpace(value)
}
