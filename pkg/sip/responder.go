package sip

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"siprec-bridge/pkg/siprec"
)

// readBufferSize bounds a single inbound datagram.
const readBufferSize = 16384

// Responder is the minimal fallback UAS for environments without a full
// signaling engine. It answers INVITE datagrams with a multipart 200 OK and
// acknowledges anything else with a byte count. It is stateless across
// requests apart from remembering the last Call-ID for diagnostics.
type Responder struct {
	logger  *logrus.Logger
	mediaIP string
	rtpPort int

	conn    *net.UDPConn
	running atomic.Bool

	mu         sync.Mutex
	lastCallID string
}

// NewResponder creates an unbound responder.
func NewResponder(logger *logrus.Logger, mediaIP string, rtpPort int) *Responder {
	return &Responder{
		logger:  logger,
		mediaIP: mediaIP,
		rtpPort: rtpPort,
	}
}

// Listen binds the datagram endpoint. A bind failure is fatal at startup.
func (r *Responder) Listen(address string) error {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return fmt.Errorf("failed to resolve responder address %q: %w", address, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind responder endpoint %q: %w", address, err)
	}

	r.conn = conn
	r.logger.WithField("address", conn.LocalAddr().String()).Info("Fallback UAS listening")
	return nil
}

// LocalAddr returns the bound address, or nil before Listen.
func (r *Responder) LocalAddr() net.Addr {
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Serve reads datagrams until the connection is closed.
func (r *Responder) Serve() {
	r.running.Store(true)
	defer r.running.Store(false)

	buf := make([]byte, readBufferSize)
	for {
		n, addr, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			r.logger.WithError(err).Warn("Responder read failed")
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		if RequestMethod(data) == "INVITE" {
			r.handleInvite(data, addr)
			continue
		}

		// Diagnostic echo only, not protocol-significant.
		ack := fmt.Sprintf("Received %d bytes", n)
		if _, err := r.conn.WriteToUDP([]byte(ack), addr); err != nil {
			r.logger.WithError(err).Warn("Responder echo failed")
		}
	}
}

// Healthy reports whether the serve loop is live.
func (r *Responder) Healthy() bool {
	return r.running.Load()
}

// Close shuts the endpoint down, unblocking Serve.
func (r *Responder) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

// LastCallID returns the Call-ID of the most recent INVITE, for diagnostics.
func (r *Responder) LastCallID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastCallID
}

func (r *Responder) handleInvite(data []byte, addr *net.UDPAddr) {
	callID, cseq := ParseRequestFields(data)

	r.mu.Lock()
	r.lastCallID = callID
	r.mu.Unlock()

	response, err := r.buildAcceptance(callID, cseq)
	if err != nil {
		r.logger.WithError(err).Error("Failed to build SIPREC acceptance response")
		return
	}

	if _, err := r.conn.WriteToUDP([]byte(response), addr); err != nil {
		r.logger.WithError(err).WithField("call_id", callID).Error("Failed to send 200 OK")
		return
	}

	r.logger.WithFields(logrus.Fields{
		"call_id": callID,
		"source":  addr.String(),
	}).Info("Sent multipart 200 OK")
}

func (r *Responder) buildAcceptance(callID, cseq string) (string, error) {
	metadataXML, err := siprec.CreateMetadataResponse(siprec.NewMetadata(uuid.New().String(), time.Now()))
	if err != nil {
		return "", err
	}

	contentType, body := siprec.CreateMultipartResponse(
		siprec.GenerateAnswerSDP(r.mediaIP, r.rtpPort), metadataXML)
	return BuildOKResponse(callID, cseq, contentType, body), nil
}

// ParseRequestFields extracts Call-ID and CSeq from a raw request. Header
// names match case-insensitively; values are split on the first colon and
// trimmed. Missing fields are returned empty.
func ParseRequestFields(data []byte) (callID, cseq string) {
	for _, line := range strings.Split(string(data), "\r\n") {
		name, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "call-id":
			callID = strings.TrimSpace(value)
		case "cseq":
			cseq = strings.TrimSpace(value)
		}
	}
	return callID, cseq
}

// RequestMethod returns the leading method token of a raw request line.
func RequestMethod(data []byte) string {
	line := string(data)
	if idx := strings.IndexAny(line, "\r\n"); idx >= 0 {
		line = line[:idx]
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// BuildOKResponse renders the wire-format 200 OK. The inbound Call-ID and
// CSeq are echoed verbatim and Content-Length is the exact byte length of
// the multipart body.
func BuildOKResponse(callID, cseq, contentType, body string) string {
	var b strings.Builder
	b.WriteString("SIP/2.0 200 OK\r\n")
	b.WriteString("Via: SIP/2.0/UDP recorder.local;branch=z9hG4bK" + generateTag() + "\r\n")
	b.WriteString("To: <sip:recorder@recorder.local>;tag=" + generateTag() + "\r\n")
	b.WriteString("From: <sip:src@recorder.local>;tag=1928301774\r\n")
	b.WriteString("Call-ID: " + callID + "\r\n")
	b.WriteString("CSeq: " + cseq + "\r\n")
	b.WriteString("Contact: <sip:recorder@recorder.local>\r\n")
	b.WriteString("Content-Type: " + contentType + "\r\n")
	b.WriteString(fmt.Sprintf("Content-Length: %d\r\n", len(body)))
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.String()
}
