package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	s := New("c1", "", "")
	assert.Equal(t, "c1", s.CallID)
	assert.Equal(t, Unknown, s.SeqID)
	assert.Equal(t, Unknown, s.AgentDNIS)
	assert.Equal(t, StatusEstablishing, s.Status)
	assert.NotNil(t, s.AudioPorts)
	assert.NotNil(t, s.CodecInfo)
	assert.False(t, s.StartTime.IsZero())
}

func TestStatusOnlyMovesForward(t *testing.T) {
	s := New("c1", "seq", "agent")

	require.True(t, s.AdvanceStatus(StatusActive))
	require.True(t, s.AdvanceStatus(StatusCompleted))

	// Completed is absorbing.
	assert.False(t, s.AdvanceStatus(StatusActive))
	assert.False(t, s.AdvanceStatus(StatusEstablishing))
	assert.False(t, s.AdvanceStatus(StatusCompleted))
	assert.Equal(t, StatusCompleted, s.Status)
}

func TestStatusSkipsIntermediate(t *testing.T) {
	s := New("c1", "seq", "agent")
	require.True(t, s.AdvanceStatus(StatusCompleted))
	assert.Equal(t, StatusCompleted, s.Status)
}

func TestNoMediaMutationAfterCompleted(t *testing.T) {
	s := New("c1", "seq", "agent")
	require.True(t, s.AddStream("stream_0", 4000))
	require.True(t, s.MergeCodecInfo(map[string]string{"name": "PCMU"}))

	s.AdvanceStatus(StatusCompleted)

	assert.False(t, s.AddStream("stream_1", 4002))
	assert.False(t, s.MergeCodecInfo(map[string]string{"name": "PCMA"}))
	assert.Equal(t, map[string]int{"stream_0": 4000}, s.AudioPorts)
	assert.Equal(t, "PCMU", s.CodecInfo["name"])
}

func TestCloneIsDeep(t *testing.T) {
	s := New("c1", "seq", "agent")
	s.AddStream("stream_0", 4000)
	s.MergeCodecInfo(map[string]string{"name": "PCMU"})

	clone := s.Clone()
	clone.AudioPorts["stream_1"] = 5000
	clone.CodecInfo["name"] = "PCMA"
	clone.Status = StatusCompleted

	assert.Equal(t, map[string]int{"stream_0": 4000}, s.AudioPorts)
	assert.Equal(t, "PCMU", s.CodecInfo["name"])
	assert.Equal(t, StatusEstablishing, s.Status)
}
