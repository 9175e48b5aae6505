package call

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"siprec-bridge/pkg/media"
	"siprec-bridge/pkg/metrics"
	"siprec-bridge/pkg/notify"
	"siprec-bridge/pkg/session"
)

// Policy selects how incoming dialogs are accepted.
type Policy int

const (
	// PolicyStaged walks the dialog through 100 Trying and 180 Ringing
	// before the final 200 OK.
	PolicyStaged Policy = iota

	// PolicyAutoAnswer sends 200 OK as soon as the dialog arrives.
	PolicyAutoAnswer
)

// ParsePolicy maps a config string onto a Policy, defaulting to staged.
func ParsePolicy(name string) Policy {
	if name == "auto" {
		return PolicyAutoAnswer
	}
	return PolicyStaged
}

// Handler is the call lifecycle state machine. The signaling engine invokes
// it on events; it mutates the registry, publishes through the broker, emits
// protocol responses through the answerer, and hands terminal sessions to
// the expiry scheduler.
type Handler struct {
	logger    *logrus.Logger
	registry  *session.Registry
	broker    *notify.Broker
	scheduler *session.ExpiryScheduler
	answerer  Answerer
	policy    Policy
	retention time.Duration

	// Final-answer idempotency guard. Confirmation events may be reported
	// more than once by the signaling engine.
	mu       sync.Mutex
	answered map[string]bool
}

// NewHandler wires the state machine to its collaborators. A nil answerer is
// valid when the signaling engine answers on its own.
func NewHandler(logger *logrus.Logger, registry *session.Registry, broker *notify.Broker,
	scheduler *session.ExpiryScheduler, answerer Answerer, policy Policy, retention time.Duration) *Handler {
	if retention <= 0 {
		retention = session.DefaultRetention
	}
	return &Handler{
		logger:    logger,
		registry:  registry,
		broker:    broker,
		scheduler: scheduler,
		answerer:  answerer,
		policy:    policy,
		retention: retention,
		answered:  make(map[string]bool),
	}
}

// OnIncoming creates and registers a session for a new dialog and publishes
// the first call update. Under the staged policy it emits 100 Trying; under
// auto-answer it finalizes the dialog immediately.
func (h *Handler) OnIncoming(callID string, headers []string) {
	metrics.SignalingEvents.WithLabelValues("incoming").Inc()

	if callID == "" {
		callID = uuid.New().String()
	}

	seqID, agentDNIS := ExtractCorrelation(headers)
	sess := session.New(callID, seqID, agentDNIS)

	logger := h.logger.WithFields(logrus.Fields{
		"call_id":    callID,
		"seq_id":     seqID,
		"agent_dnis": agentDNIS,
	})

	if err := h.registry.Register(sess); err != nil {
		logger.WithError(err).Warn("Failed to register incoming call session")
		return
	}
	logger.Info("Incoming call registered")

	h.broker.Publish(sess.Clone())

	switch h.policy {
	case PolicyAutoAnswer:
		h.finalAnswer(callID)
	default:
		h.answer(callID, 100)
	}
}

// OnStateChange maps dialog state transitions to session mutations and
// protocol responses. Errors are isolated per event.
func (h *Handler) OnStateChange(callID string, state SignalState) {
	metrics.SignalingEvents.WithLabelValues(state.String()).Inc()

	logger := h.logger.WithFields(logrus.Fields{
		"call_id": callID,
		"state":   state.String(),
	})
	logger.Debug("Dialog state change")

	switch state {
	case SignalIncoming:
		if h.policy == PolicyStaged {
			h.answer(callID, 100)
		}
	case SignalEarly:
		if h.policy == PolicyStaged {
			h.answer(callID, 180)
		}
	case SignalConnecting, SignalConfirmed:
		h.finalAnswer(callID)
	case SignalDisconnected:
		h.completeCall(callID)
	}
}

// OnStreamEstablished records the negotiated port and codec attributes for a
// media stream and publishes the updated session.
func (h *Handler) OnStreamEstablished(callID string, stream StreamInfo) {
	metrics.SignalingEvents.WithLabelValues("stream_established").Inc()

	streamID := fmt.Sprintf("stream_%d", stream.ID)

	attrs := map[string]string{
		"name":       stream.CodecName,
		"clock_rate": fmt.Sprintf("%d", stream.ClockRate),
		"channels":   fmt.Sprintf("%d", stream.Channels),
		"stream_id":  streamID,
		"direction":  "recording",
	}
	if known, ok := media.CodecByName(stream.CodecName); ok {
		attrs["name"] = known.Name
	}

	snapshot, err := h.registry.Update(callID, func(s *session.CallSession) {
		if !s.AddStream(streamID, stream.Port) {
			return
		}
		s.MergeCodecInfo(attrs)
	})
	if err != nil {
		h.logger.WithError(err).WithField("call_id", callID).
			Warn("Stream established for unknown call")
		return
	}

	h.logger.WithFields(logrus.Fields{
		"call_id":   callID,
		"stream_id": streamID,
		"port":      stream.Port,
		"codec":     attrs["name"],
	}).Info("Media stream established")

	h.broker.Publish(snapshot)
}

// finalAnswer sends the 200 OK exactly once per call and moves the session
// to active.
func (h *Handler) finalAnswer(callID string) {
	h.mu.Lock()
	already := h.answered[callID]
	h.answered[callID] = true
	h.mu.Unlock()

	if !already {
		h.answer(callID, 200)
	}

	snapshot, err := h.registry.Update(callID, func(s *session.CallSession) {
		s.AdvanceStatus(session.StatusActive)
	})
	if err != nil {
		h.logger.WithError(err).WithField("call_id", callID).
			Warn("Dialog confirmed for unknown call")
		return
	}

	if !already {
		h.logger.WithField("call_id", callID).Info("Call answered, recording active")
		h.broker.Publish(snapshot)
	}
}

// completeCall moves the session to its terminal state and schedules the
// deferred expiry so observers can still query final call state.
func (h *Handler) completeCall(callID string) {
	h.mu.Lock()
	delete(h.answered, callID)
	h.mu.Unlock()

	snapshot, err := h.registry.Update(callID, func(s *session.CallSession) {
		s.AdvanceStatus(session.StatusCompleted)
	})
	if err != nil {
		h.logger.WithError(err).WithField("call_id", callID).
			Warn("Disconnect for unknown call")
		return
	}

	h.logger.WithFields(logrus.Fields{
		"call_id":   callID,
		"retention": h.retention,
	}).Info("Call completed")

	h.broker.Publish(snapshot)
	h.scheduler.ScheduleExpiry(callID, h.retention)
}

func (h *Handler) answer(callID string, statusCode int) {
	if h.answerer == nil {
		return
	}
	if err := h.answerer.Answer(callID, statusCode); err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"call_id": callID,
			"status":  statusCode,
		}).Warn("Failed to send call answer")
	}
}
