package session

import (
	"time"
)

// Status is the lifecycle state of a recorded call.
type Status string

const (
	StatusEstablishing Status = "establishing"
	StatusActive       Status = "active"
	StatusCompleted    Status = "completed"
)

// Unknown is the sentinel for correlation values whose signaling header was
// absent or unparsable.
const Unknown = "unknown"

// rank orders lifecycle states so transitions can only move forward.
func (s Status) rank() int {
	switch s {
	case StatusEstablishing:
		return 0
	case StatusActive:
		return 1
	case StatusCompleted:
		return 2
	}
	return -1
}

// CallSession holds everything known about one recording session. The
// registry owns the canonical copy; everything handed out of the registry
// is a clone.
type CallSession struct {
	CallID     string            `json:"call_id"`
	SeqID      string            `json:"seq_id"`
	AgentDNIS  string            `json:"agent_dnis"`
	StartTime  time.Time         `json:"start_time"`
	AudioPorts map[string]int    `json:"audio_ports"`
	CodecInfo  map[string]string `json:"codec_info"`
	Status     Status            `json:"status"`
}

// New creates a session in the establishing state. Empty correlation values
// fall back to the Unknown sentinel.
func New(callID, seqID, agentDNIS string) *CallSession {
	if seqID == "" {
		seqID = Unknown
	}
	if agentDNIS == "" {
		agentDNIS = Unknown
	}
	return &CallSession{
		CallID:     callID,
		SeqID:      seqID,
		AgentDNIS:  agentDNIS,
		StartTime:  time.Now(),
		AudioPorts: make(map[string]int),
		CodecInfo:  make(map[string]string),
		Status:     StatusEstablishing,
	}
}

// Clone returns a deep copy safe to hand to observers and HTTP callers.
func (c *CallSession) Clone() *CallSession {
	if c == nil {
		return nil
	}
	out := *c
	out.AudioPorts = make(map[string]int, len(c.AudioPorts))
	for k, v := range c.AudioPorts {
		out.AudioPorts[k] = v
	}
	out.CodecInfo = make(map[string]string, len(c.CodecInfo))
	for k, v := range c.CodecInfo {
		out.CodecInfo[k] = v
	}
	return &out
}

// AdvanceStatus moves the session forward along the lifecycle. Backward
// transitions are rejected and completed is absorbing. It reports whether
// the status actually changed.
func (c *CallSession) AdvanceStatus(next Status) bool {
	if next.rank() <= c.Status.rank() {
		return false
	}
	c.Status = next
	return true
}

// AddStream records a negotiated transport port for a media stream. Streams
// are never mutated once the session has completed.
func (c *CallSession) AddStream(streamID string, port int) bool {
	if c.Status == StatusCompleted {
		return false
	}
	c.AudioPorts[streamID] = port
	return true
}

// MergeCodecInfo merges codec attributes, last write wins per key. No-op
// once the session has completed.
func (c *CallSession) MergeCodecInfo(attrs map[string]string) bool {
	if c.Status == StatusCompleted {
		return false
	}
	for k, v := range attrs {
		c.CodecInfo[k] = v
	}
	return true
}
