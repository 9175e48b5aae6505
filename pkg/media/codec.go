package media

import (
	"strconv"
	"strings"
)

// CodecInfo represents information about a codec
type CodecInfo struct {
	Name        string
	PayloadType byte
	SampleRate  int
	Channels    int
	Description string
}

// SupportedCodecs maps payload types to codec information
var SupportedCodecs = map[byte]CodecInfo{
	0:  {Name: "PCMU", PayloadType: 0, SampleRate: 8000, Channels: 1, Description: "G.711 μ-law"},
	8:  {Name: "PCMA", PayloadType: 8, SampleRate: 8000, Channels: 1, Description: "G.711 a-law"},
	9:  {Name: "G722", PayloadType: 9, SampleRate: 16000, Channels: 1, Description: "G.722 wideband"},
	18: {Name: "G729", PayloadType: 18, SampleRate: 8000, Channels: 1, Description: "G.729 CS-ACELP narrowband"},
	96: {Name: "OPUS", PayloadType: 96, SampleRate: 48000, Channels: 2, Description: "Opus codec"},
}

// DefaultCodec is the fixed codec offered in answer SDP when no negotiation
// takes place.
var DefaultCodec = SupportedCodecs[0]

// GetCodecInfo returns detailed information about a codec by payload type
func GetCodecInfo(payloadType byte) (CodecInfo, bool) {
	codec, exists := SupportedCodecs[payloadType]
	return codec, exists
}

// CodecByName resolves a codec from its rtpmap name, tolerating common
// aliases like "G.711U" or "pcmu".
func CodecByName(name string) (CodecInfo, bool) {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), ".", ""))
	switch normalized {
	case "G711U", "G711MU":
		normalized = "PCMU"
	case "G711A":
		normalized = "PCMA"
	}
	for _, codec := range SupportedCodecs {
		if codec.Name == normalized {
			return codec, true
		}
	}
	return CodecInfo{}, false
}

// ParseRtpmap extracts the codec from an SDP rtpmap attribute value such as
// "0 PCMU/8000" or "96 opus/48000/2". Unknown codecs still yield a usable
// CodecInfo carrying the advertised name, rate and channels.
func ParseRtpmap(value string) (CodecInfo, bool) {
	fields := strings.Fields(strings.TrimSpace(value))
	if len(fields) < 2 {
		return CodecInfo{}, false
	}

	pt, err := strconv.Atoi(fields[0])
	if err != nil || pt < 0 || pt > 127 {
		return CodecInfo{}, false
	}

	parts := strings.Split(fields[1], "/")
	info := CodecInfo{
		Name:        strings.ToUpper(parts[0]),
		PayloadType: byte(pt),
		SampleRate:  8000,
		Channels:    1,
	}
	if len(parts) > 1 {
		if rate, err := strconv.Atoi(parts[1]); err == nil && rate > 0 {
			info.SampleRate = rate
		}
	}
	if len(parts) > 2 {
		if channels, err := strconv.Atoi(parts[2]); err == nil && channels > 0 {
			info.Channels = channels
		}
	}

	if known, ok := CodecByName(info.Name); ok {
		info.Description = known.Description
	}
	return info, true
}

// Attributes flattens codec facts into the string map carried on a call
// session's codec_info.
func (c CodecInfo) Attributes() map[string]string {
	return map[string]string{
		"name":       c.Name,
		"clock_rate": strconv.Itoa(c.SampleRate),
		"channels":   strconv.Itoa(c.Channels),
	}
}
