package siprec

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"siprec-bridge/pkg/media"
)

// MetadataNamespace is the rs-metadata XML namespace.
const MetadataNamespace = "urn:ietf:params:xml:ns:recording"

// AssociateTimeLayout matches the associate-time format emitted by SBCs.
const AssociateTimeLayout = "2006-01-02T15:04:05"

// RSMetadata is the recording-session metadata document carried in the
// rs-metadata+xml part of a SIPREC response.
type RSMetadata struct {
	XMLName  xml.Name  `xml:"recording"`
	XMLNS    string    `xml:"xmlns,attr"`
	DataMode string    `xml:"datamode"`
	Session  RSSession `xml:"session"`
}

// RSSession associates the recording with a session identifier.
type RSSession struct {
	ID            string `xml:"id,attr"`
	AssociateTime string `xml:"associate-time"`
}

// NewMetadata builds a complete-mode recording metadata document for the
// given session identifier.
func NewMetadata(sessionID string, associateTime time.Time) *RSMetadata {
	return &RSMetadata{
		XMLNS:    MetadataNamespace,
		DataMode: "complete",
		Session: RSSession{
			ID:            sessionID,
			AssociateTime: associateTime.Format(AssociateTimeLayout),
		},
	}
}

// CreateMetadataResponse serializes the metadata document with an XML
// declaration, as SBCs expect.
func CreateMetadataResponse(m *RSMetadata) (string, error) {
	body, err := xml.MarshalIndent(m, "", "    ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal rs-metadata: %w", err)
	}
	return "<?xml version='1.0' encoding='UTF-8'?>\r\n" + string(body) + "\r\n", nil
}

// GenerateAnswerSDP produces the session-description part of the acceptance
// response: a single audio line accepting the default codec, receive-only.
func GenerateAnswerSDP(ip string, rtpPort int) string {
	if ip == "" {
		ip = "127.0.0.1"
	}
	if rtpPort <= 0 {
		rtpPort = 10000
	}

	timestamp := time.Now().Unix()
	codec := media.DefaultCodec

	var b strings.Builder
	fmt.Fprintf(&b, "v=0\r\n")
	fmt.Fprintf(&b, "o=- %d %d IN IP4 %s\r\n", timestamp, timestamp, ip)
	fmt.Fprintf(&b, "s=SIPREC Recording Session\r\n")
	fmt.Fprintf(&b, "c=IN IP4 %s\r\n", ip)
	fmt.Fprintf(&b, "t=0 0\r\n")
	fmt.Fprintf(&b, "m=audio %d RTP/AVP %d\r\n", rtpPort, codec.PayloadType)
	fmt.Fprintf(&b, "a=rtpmap:%d %s/%d\r\n", codec.PayloadType, codec.Name, codec.SampleRate)
	fmt.Fprintf(&b, "a=recvonly\r\n")
	return b.String()
}

// multipartBoundary separates the SDP and rs-metadata parts of an
// acceptance response.
const multipartBoundary = "unique-boundary-1"

// CreateMultipartResponse assembles the two-part acceptance body and returns
// the Content-Type header value along with the body itself.
func CreateMultipartResponse(sdp, metadataXML string) (string, string) {
	var b strings.Builder

	b.WriteString("--" + multipartBoundary + "\r\n")
	b.WriteString("Content-Type: application/sdp\r\n")
	b.WriteString("\r\n")
	b.WriteString(sdp)
	b.WriteString("\r\n")

	b.WriteString("--" + multipartBoundary + "\r\n")
	b.WriteString("Content-Type: application/rs-metadata+xml\r\n")
	b.WriteString("Content-Disposition: recording-session\r\n")
	b.WriteString("\r\n")
	b.WriteString(metadataXML)
	b.WriteString("\r\n")

	b.WriteString("--" + multipartBoundary + "--\r\n")

	contentType := fmt.Sprintf("multipart/mixed; boundary=%s", multipartBoundary)
	return contentType, b.String()
}
