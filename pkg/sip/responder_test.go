package sip

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

const testInvite = "INVITE sip:recorder@domain.com SIP/2.0\r\n" +
	"Via: SIP/2.0/UDP sbc.domain.com;branch=z9hG4bK776asdhds\r\n" +
	"From: \"caller\" <sip:caller@domain.com>;tag=1928301774\r\n" +
	"To: <sip:recorder@domain.com>\r\n" +
	"Call-ID: abc123\r\n" +
	"CSeq: 1 INVITE\r\n" +
	"Content-Length: 0\r\n" +
	"\r\n"

func TestParseRequestFields(t *testing.T) {
	testCases := []struct {
		name       string
		request    string
		wantCallID string
		wantCSeq   string
	}{
		{
			name:       "well formed",
			request:    testInvite,
			wantCallID: "abc123",
			wantCSeq:   "1 INVITE",
		},
		{
			name:       "lowercase header names",
			request:    "INVITE sip:x SIP/2.0\r\ncall-id: xyz\r\ncseq: 7 INVITE\r\n\r\n",
			wantCallID: "xyz",
			wantCSeq:   "7 INVITE",
		},
		{
			name:       "extra whitespace",
			request:    "INVITE sip:x SIP/2.0\r\nCall-ID:   spaced-out  \r\nCSeq:  2 INVITE \r\n\r\n",
			wantCallID: "spaced-out",
			wantCSeq:   "2 INVITE",
		},
		{
			name:       "missing fields stay empty",
			request:    "INVITE sip:x SIP/2.0\r\nVia: SIP/2.0/UDP host\r\n\r\n",
			wantCallID: "",
			wantCSeq:   "",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			callID, cseq := ParseRequestFields([]byte(tc.request))
			assert.Equal(t, tc.wantCallID, callID)
			assert.Equal(t, tc.wantCSeq, cseq)
		})
	}
}

func TestRequestMethod(t *testing.T) {
	assert.Equal(t, "INVITE", RequestMethod([]byte(testInvite)))
	assert.Equal(t, "OPTIONS", RequestMethod([]byte("OPTIONS sip:x SIP/2.0\r\n\r\n")))
	assert.Equal(t, "", RequestMethod([]byte("")))
}

func TestBuildOKResponseEchoesCorrelationFields(t *testing.T) {
	body := "fake-multipart-body"
	resp := BuildOKResponse("abc123", "1 INVITE", "multipart/mixed; boundary=unique-boundary-1", body)

	require.True(t, strings.HasPrefix(resp, "SIP/2.0 200 OK\r\n"))

	headerBlock, gotBody, found := strings.Cut(resp, "\r\n\r\n")
	require.True(t, found)
	assert.Equal(t, body, gotBody)

	headers := map[string]string{}
	for _, line := range strings.Split(headerBlock, "\r\n")[1:] {
		name, value, ok := strings.Cut(line, ":")
		require.True(t, ok, "header line %q", line)
		headers[strings.ToLower(name)] = strings.TrimSpace(value)
	}

	assert.Equal(t, "abc123", headers["call-id"])
	assert.Equal(t, "1 INVITE", headers["cseq"])

	declared, err := strconv.Atoi(headers["content-length"])
	require.NoError(t, err)
	assert.Equal(t, len(body), declared, "Content-Length must be the exact body byte length")
}

func startResponder(t *testing.T) (*Responder, *net.UDPConn) {
	t.Helper()

	r := NewResponder(testLogger(), "127.0.0.1", 3456)
	require.NoError(t, r.Listen("127.0.0.1:0"))
	go r.Serve()
	t.Cleanup(func() { r.Close() })

	client, err := net.DialUDP("udp", nil, r.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return r, client
}

func readDatagram(t *testing.T, conn *net.UDPConn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 65535)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func TestResponderAnswersInvite(t *testing.T) {
	r, client := startResponder(t)

	_, err := client.Write([]byte(testInvite))
	require.NoError(t, err)

	resp := readDatagram(t, client)
	require.True(t, strings.HasPrefix(resp, "SIP/2.0 200 OK\r\n"))
	assert.Contains(t, resp, "Call-ID: abc123\r\n")
	assert.Contains(t, resp, "CSeq: 1 INVITE\r\n")
	assert.Contains(t, resp, "Content-Type: multipart/mixed; boundary=unique-boundary-1\r\n")
	assert.Contains(t, resp, "application/sdp")
	assert.Contains(t, resp, "application/rs-metadata+xml")
	assert.Contains(t, resp, "<datamode>complete</datamode>")

	// Declared Content-Length matches the delivered body exactly.
	_, body, found := strings.Cut(resp, "\r\n\r\n")
	require.True(t, found)
	assert.Contains(t, resp, fmt.Sprintf("Content-Length: %d\r\n", len(body)))

	assert.Equal(t, "abc123", r.LastCallID())
}

func TestResponderEchoesByteCount(t *testing.T) {
	_, client := startResponder(t)

	payload := []byte("not a sip request")
	_, err := client.Write(payload)
	require.NoError(t, err)

	assert.Equal(t, fmt.Sprintf("Received %d bytes", len(payload)), readDatagram(t, client))
}

func TestResponderCloseUnblocksServe(t *testing.T) {
	r := NewResponder(testLogger(), "127.0.0.1", 3456)
	require.NoError(t, r.Listen("127.0.0.1:0"))

	done := make(chan struct{})
	go func() {
		r.Serve()
		close(done)
	}()

	require.Eventually(t, r.Healthy, time.Second, 5*time.Millisecond)
	require.NoError(t, r.Close())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after Close")
	}
	assert.False(t, r.Healthy())
}

func TestResponderStatelessAcrossRequests(t *testing.T) {
	r, client := startResponder(t)

	first := strings.Replace(testInvite, "abc123", "call-one", 1)
	second := strings.Replace(testInvite, "abc123", "call-two", 1)

	_, err := client.Write([]byte(first))
	require.NoError(t, err)
	readDatagram(t, client)

	_, err = client.Write([]byte(second))
	require.NoError(t, err)
	readDatagram(t, client)

	assert.Equal(t, "call-two", r.LastCallID())
}
