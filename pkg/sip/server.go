package sip

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emiago/sipgo"
	sipparser "github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	"github.com/pion/sdp/v3"
	"github.com/sirupsen/logrus"

	"siprec-bridge/pkg/call"
	"siprec-bridge/pkg/media"
	"siprec-bridge/pkg/siprec"
)

// Server is the built-in signaling engine: a SIPREC-aware UAS that accepts
// recording dialogs over the sipgo transaction layer and drives the call
// lifecycle handler. It implements call.Answerer so the state machine
// controls when provisional and final responses go out.
type Server struct {
	logger  *logrus.Logger
	handler call.EventHandler
	mediaIP string
	rtpPort int

	ua        *sipgo.UserAgent
	sipServer *sipgo.Server

	mu      sync.RWMutex
	dialogs map[string]*dialog

	running atomic.Bool
}

// dialog holds just enough per-call transaction state to answer the INVITE
// and correlate the teardown. Dialog-layer correctness (retransmission,
// forking) stays in the transaction layer.
type dialog struct {
	callID       string
	localTag     string
	invite       *sipparser.Request
	tx           sipparser.ServerTransaction
	lastActivity time.Time
}

// NewServer builds the signaling engine. mediaIP and rtpPort describe the
// recorder's advertised media endpoint for answer SDP. The lifecycle handler
// is attached afterwards with SetHandler since the state machine needs the
// server as its answerer.
func NewServer(logger *logrus.Logger, mediaIP string, rtpPort int) (*Server, error) {
	s := &Server{
		logger:  logger,
		mediaIP: mediaIP,
		rtpPort: rtpPort,
		dialogs: make(map[string]*dialog),
	}

	ua, err := sipgo.NewUA()
	if err != nil {
		return nil, fmt.Errorf("failed to create SIP user agent: %w", err)
	}
	s.ua = ua

	server, err := sipgo.NewServer(ua)
	if err != nil {
		return nil, fmt.Errorf("failed to create SIP server: %w", err)
	}
	s.sipServer = server

	server.OnInvite(s.onInvite)
	server.OnAck(s.onAck)
	server.OnBye(s.onBye)
	server.OnCancel(s.onCancel)
	server.OnOptions(s.onOptions)
	server.OnNoRoute(func(req *sipparser.Request, tx sipparser.ServerTransaction) {
		s.logger.WithField("method", string(req.Method)).Warn("Received unsupported SIP method")
		s.respond(req, tx, 501, "Not Implemented", "", nil)
	})

	return s, nil
}

// SetHandler attaches the lifecycle state machine. Must be called before
// ListenAndServe.
func (s *Server) SetHandler(handler call.EventHandler) {
	s.handler = handler
}

// ListenAndServe binds the transport and serves until ctx is cancelled. A
// bind failure is returned immediately and is fatal at startup.
func (s *Server) ListenAndServe(ctx context.Context, transport, address string) error {
	s.logger.WithFields(logrus.Fields{
		"transport": transport,
		"address":   address,
	}).Info("SIP signaling engine listening")

	s.running.Store(true)
	defer s.running.Store(false)

	if err := s.sipServer.ListenAndServe(ctx, transport, address); err != nil {
		return fmt.Errorf("failed to serve SIP on %s/%s: %w", transport, address, err)
	}
	return nil
}

// Healthy reports whether the engine's worker is live.
func (s *Server) Healthy() bool {
	return s.running.Load()
}

// Shutdown tears down the transaction layer.
func (s *Server) Shutdown() error {
	s.running.Store(false)
	if s.ua != nil {
		return s.ua.Close()
	}
	return nil
}

// DialogCount reports how many dialogs are being tracked.
func (s *Server) DialogCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.dialogs)
}

func (s *Server) onInvite(req *sipparser.Request, tx sipparser.ServerTransaction) {
	callID := requestCallID(req)
	if callID == "" {
		s.logger.Warn("INVITE without Call-ID")
		s.respond(req, tx, 400, "Bad Request", "", nil)
		return
	}

	logger := s.logger.WithField("call_id", callID)
	logger.WithField("source", req.Source()).Info("Incoming SIPREC INVITE")

	dlg := &dialog{
		callID:       callID,
		localTag:     generateTag(),
		invite:       req,
		tx:           tx,
		lastActivity: time.Now(),
	}
	s.mu.Lock()
	s.dialogs[callID] = dlg
	s.mu.Unlock()

	// The state machine decides which responses to emit and when.
	s.handler.OnIncoming(callID, headerLines(req))
	s.handler.OnStateChange(callID, call.SignalEarly)
	s.handler.OnStateChange(callID, call.SignalConnecting)

	for _, stream := range offeredStreams(req, logger) {
		s.handler.OnStreamEstablished(callID, stream)
	}
}

func (s *Server) onAck(req *sipparser.Request, tx sipparser.ServerTransaction) {
	callID := requestCallID(req)
	if callID == "" {
		return
	}
	s.touch(callID)
	s.handler.OnStateChange(callID, call.SignalConfirmed)
}

func (s *Server) onBye(req *sipparser.Request, tx sipparser.ServerTransaction) {
	callID := requestCallID(req)
	s.respond(req, tx, 200, "OK", "", nil)
	if callID == "" {
		return
	}

	s.logger.WithField("call_id", callID).Info("Dialog terminated by BYE")
	s.handler.OnStateChange(callID, call.SignalDisconnected)

	s.mu.Lock()
	delete(s.dialogs, callID)
	s.mu.Unlock()
}

func (s *Server) onCancel(req *sipparser.Request, tx sipparser.ServerTransaction) {
	callID := requestCallID(req)
	s.respond(req, tx, 200, "OK", "", nil)
	if callID == "" {
		return
	}

	s.logger.WithField("call_id", callID).Info("Dialog cancelled before answer")
	s.handler.OnStateChange(callID, call.SignalDisconnected)

	s.mu.Lock()
	delete(s.dialogs, callID)
	s.mu.Unlock()
}

func (s *Server) onOptions(req *sipparser.Request, tx sipparser.ServerTransaction) {
	s.respond(req, tx, 200, "OK", "", nil)
}

// Answer implements call.Answerer over the stored INVITE transaction. The
// final 200 OK carries the multipart acceptance body.
func (s *Server) Answer(callID string, statusCode int) error {
	s.mu.RLock()
	dlg, exists := s.dialogs[callID]
	s.mu.RUnlock()
	if !exists {
		return fmt.Errorf("no dialog for call %s", callID)
	}

	var body []byte
	contentType := ""
	if statusCode == 200 {
		metadataXML, err := siprec.CreateMetadataResponse(siprec.NewMetadata(uuid.New().String(), time.Now()))
		if err != nil {
			return err
		}
		ct, multipartBody := siprec.CreateMultipartResponse(
			siprec.GenerateAnswerSDP(s.mediaIP, s.rtpPort), metadataXML)
		contentType = ct
		body = []byte(multipartBody)
	}

	resp := sipparser.NewResponseFromRequest(dlg.invite, statusCode, reasonPhrase(statusCode), body)
	if to := resp.To(); to != nil {
		if to.Params == nil {
			to.Params = sipparser.HeaderParams{}
		}
		to.Params.Add("tag", dlg.localTag)
	}
	if contentType != "" {
		resp.ReplaceHeader(sipparser.NewHeader("Content-Type", contentType))
	}

	if err := dlg.tx.Respond(resp); err != nil {
		return fmt.Errorf("failed to send %d on call %s: %w", statusCode, callID, err)
	}

	s.logger.WithFields(logrus.Fields{
		"call_id": callID,
		"status":  statusCode,
	}).Debug("Sent SIP response")
	return nil
}

func (s *Server) respond(req *sipparser.Request, tx sipparser.ServerTransaction, statusCode int, reason, contentType string, body []byte) {
	resp := sipparser.NewResponseFromRequest(req, statusCode, reason, body)
	if contentType != "" {
		resp.ReplaceHeader(sipparser.NewHeader("Content-Type", contentType))
	}
	if err := tx.Respond(resp); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"method": string(req.Method),
			"status": statusCode,
		}).Error("Failed to send SIP response")
	}
}

// PruneStaleDialogs drops dialogs with no signaling activity within maxAge
// and reports them disconnected, so calls whose BYE was lost in transit do
// not pin transaction state forever. Returns the number of dialogs pruned.
func (s *Server) PruneStaleDialogs(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	s.mu.Lock()
	var stale []string
	for callID, dlg := range s.dialogs {
		if dlg.lastActivity.Before(cutoff) {
			stale = append(stale, callID)
			delete(s.dialogs, callID)
		}
	}
	s.mu.Unlock()

	for _, callID := range stale {
		s.logger.WithField("call_id", callID).Warn("Pruning dialog with no signaling activity")
		s.handler.OnStateChange(callID, call.SignalDisconnected)
	}
	return len(stale)
}

func (s *Server) touch(callID string) {
	s.mu.Lock()
	if dlg, exists := s.dialogs[callID]; exists {
		dlg.lastActivity = time.Now()
	}
	s.mu.Unlock()
}

func requestCallID(req *sipparser.Request) string {
	if callID := req.CallID(); callID != nil {
		return callID.Value()
	}
	return ""
}

// headerLines renders the request headers back into raw "Name: value" lines
// for correlation extraction.
func headerLines(req *sipparser.Request) []string {
	headers := req.Headers()
	lines := make([]string, 0, len(headers))
	for _, h := range headers {
		lines = append(lines, h.Name()+": "+h.Value())
	}
	return lines
}

// offeredStreams extracts the audio streams from the INVITE body. SIPREC
// INVITEs carry the SDP inside a multipart document; plain INVITEs carry it
// directly.
func offeredStreams(req *sipparser.Request, logger *logrus.Entry) []call.StreamInfo {
	body := req.Body()
	if len(body) == 0 {
		return nil
	}

	contentType := ""
	if ct := req.ContentType(); ct != nil {
		contentType = ct.Value()
	}

	sdpData := body
	if strings.HasPrefix(strings.ToLower(contentType), "multipart/") {
		extracted, _ := ExtractMultipartContent(body, contentType, logger)
		if len(extracted) == 0 {
			logger.Warn("SIPREC INVITE multipart body missing SDP part")
			return nil
		}
		sdpData = extracted
	}

	var desc sdp.SessionDescription
	if err := desc.Unmarshal(sdpData); err != nil {
		logger.WithError(err).Warn("Failed to parse offered SDP")
		return nil
	}

	var streams []call.StreamInfo
	for i, md := range desc.MediaDescriptions {
		if md.MediaName.Media != "audio" {
			continue
		}

		info := call.StreamInfo{
			ID:        i,
			Port:      md.MediaName.Port.Value,
			CodecName: media.DefaultCodec.Name,
			ClockRate: media.DefaultCodec.SampleRate,
			Channels:  media.DefaultCodec.Channels,
		}
		for _, attr := range md.Attributes {
			if attr.Key != "rtpmap" {
				continue
			}
			codec, ok := media.ParseRtpmap(attr.Value)
			if !ok {
				continue
			}
			info.CodecName = codec.Name
			info.ClockRate = codec.SampleRate
			info.Channels = codec.Channels
			break
		}
		streams = append(streams, info)
	}
	return streams
}

func reasonPhrase(statusCode int) string {
	switch statusCode {
	case 100:
		return "Trying"
	case 180:
		return "Ringing"
	case 200:
		return "OK"
	case 400:
		return "Bad Request"
	case 481:
		return "Call/Transaction Does Not Exist"
	case 501:
		return "Not Implemented"
	}
	return "OK"
}

func generateTag() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:10]
}
