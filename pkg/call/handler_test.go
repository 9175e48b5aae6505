package call

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siprec-bridge/pkg/notify"
	"siprec-bridge/pkg/session"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// fakeAnswerer records every status code sent per call.
type fakeAnswerer struct {
	mu    sync.Mutex
	codes map[string][]int
	err   error
}

func newFakeAnswerer() *fakeAnswerer {
	return &fakeAnswerer{codes: make(map[string][]int)}
}

func (a *fakeAnswerer) Answer(callID string, statusCode int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.codes[callID] = append(a.codes[callID], statusCode)
	return nil
}

func (a *fakeAnswerer) sent(callID string) []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int(nil), a.codes[callID]...)
}

type recordingObserver struct {
	events chan notify.Event
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{events: make(chan notify.Event, 32)}
}

func (o *recordingObserver) Send(evt notify.Event) error {
	o.events <- evt
	return nil
}

func (o *recordingObserver) next(t *testing.T) *session.CallSession {
	t.Helper()
	select {
	case evt := <-o.events:
		require.Equal(t, notify.EventCallUpdate, evt.Event)
		data, ok := evt.Data.(*session.CallSession)
		require.True(t, ok, "call_update data must be a session snapshot")
		return data
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for call update")
		return nil
	}
}

type fixture struct {
	registry  *session.Registry
	broker    *notify.Broker
	scheduler *session.ExpiryScheduler
	answerer  *fakeAnswerer
	handler   *Handler
}

func newFixture(t *testing.T, policy Policy, retention time.Duration) *fixture {
	t.Helper()
	logger := testLogger()
	registry := session.NewRegistry(logger, 0)
	scheduler := session.NewExpiryScheduler(logger, registry)
	t.Cleanup(scheduler.Stop)
	broker := notify.NewBroker(logger, registry, 32)
	broker.Start()
	t.Cleanup(broker.Stop)

	answerer := newFakeAnswerer()
	return &fixture{
		registry:  registry,
		broker:    broker,
		scheduler: scheduler,
		answerer:  answerer,
		handler:   NewHandler(logger, registry, broker, scheduler, answerer, policy, retention),
	}
}

func TestIncomingCreatesEstablishingSession(t *testing.T) {
	f := newFixture(t, PolicyStaged, time.Minute)

	obs := newRecordingObserver()
	f.broker.Subscribe("agent9", obs)

	f.handler.OnIncoming("c1", []string{"X-Sequence-ID: 33", "X-Agent-DNIS: agent9"})

	snapshot := obs.next(t)
	assert.Equal(t, "c1", snapshot.CallID)
	assert.Equal(t, "33", snapshot.SeqID)
	assert.Equal(t, session.StatusEstablishing, snapshot.Status)

	assert.Equal(t, []int{100}, f.answerer.sent("c1"))
}

func TestIncomingAutoAnswerPolicy(t *testing.T) {
	f := newFixture(t, PolicyAutoAnswer, time.Minute)

	f.handler.OnIncoming("c1", []string{"X-Agent-DNIS: agent9"})

	assert.Equal(t, []int{200}, f.answerer.sent("c1"))
	got, err := f.registry.Get("c1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusActive, got.Status)
}

func TestIncomingWithoutCallIDGeneratesOne(t *testing.T) {
	f := newFixture(t, PolicyStaged, time.Minute)

	f.handler.OnIncoming("", nil)
	assert.Equal(t, 1, f.registry.Count())
}

func TestDuplicateIncomingIsIsolated(t *testing.T) {
	f := newFixture(t, PolicyStaged, time.Minute)

	f.handler.OnIncoming("c1", []string{"X-Agent-DNIS: agent9"})
	f.handler.OnIncoming("c1", []string{"X-Agent-DNIS: agent7"})

	got, err := f.registry.Get("c1")
	require.NoError(t, err)
	assert.Equal(t, "agent9", got.AgentDNIS, "original session must be unaffected")
}

func TestFinalAnswerSentExactlyOnce(t *testing.T) {
	f := newFixture(t, PolicyStaged, time.Minute)

	f.handler.OnIncoming("c1", []string{"X-Agent-DNIS: agent9"})
	f.handler.OnStateChange("c1", SignalEarly)
	f.handler.OnStateChange("c1", SignalConnecting)
	// The engine may report confirmation more than once.
	f.handler.OnStateChange("c1", SignalConnecting)
	f.handler.OnStateChange("c1", SignalConfirmed)

	assert.Equal(t, []int{100, 180, 200}, f.answerer.sent("c1"))
}

// The final-answer guard must not outlive the dialog: a later call reusing
// the same Call-ID gets its own 200.
func TestFinalAnswerGuardResetsAfterDisconnect(t *testing.T) {
	f := newFixture(t, PolicyStaged, time.Minute)

	f.handler.OnIncoming("c1", []string{"X-Agent-DNIS: agent9"})
	f.handler.OnStateChange("c1", SignalConnecting)
	f.handler.OnStateChange("c1", SignalDisconnected)

	// Retention keeps the completed session around; drop it the way the
	// expiry scheduler would before the ID is reused.
	require.True(t, f.registry.Remove("c1"))

	f.handler.OnIncoming("c1", []string{"X-Agent-DNIS: agent9"})
	f.handler.OnStateChange("c1", SignalConnecting)

	assert.Equal(t, []int{100, 200, 100, 200}, f.answerer.sent("c1"))
}

func TestStateChangeForUnknownCallDoesNotPanic(t *testing.T) {
	f := newFixture(t, PolicyStaged, time.Minute)

	f.handler.OnStateChange("ghost", SignalConnecting)
	f.handler.OnStateChange("ghost", SignalDisconnected)
	f.handler.OnStreamEstablished("ghost", StreamInfo{ID: 0, Port: 4000})
}

func TestAnswerFailureIsIsolated(t *testing.T) {
	f := newFixture(t, PolicyStaged, time.Minute)
	f.answerer.err = errors.New("transport gone")

	f.handler.OnIncoming("c1", []string{"X-Agent-DNIS: agent9"})

	// The session still exists in its last valid state.
	got, err := f.registry.Get("c1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusEstablishing, got.Status)
}

func TestStreamEstablishedMergesMediaFacts(t *testing.T) {
	f := newFixture(t, PolicyStaged, time.Minute)

	obs := newRecordingObserver()
	f.broker.Subscribe("agent9", obs)

	f.handler.OnIncoming("c1", []string{"X-Agent-DNIS: agent9"})
	obs.next(t) // establishing

	f.handler.OnStreamEstablished("c1", StreamInfo{
		ID: 0, Port: 17588, CodecName: "PCMU", ClockRate: 8000, Channels: 1,
	})

	snapshot := obs.next(t)
	assert.Equal(t, 17588, snapshot.AudioPorts["stream_0"])
	assert.Equal(t, "PCMU", snapshot.CodecInfo["name"])
	assert.Equal(t, "8000", snapshot.CodecInfo["clock_rate"])
	assert.Equal(t, "1", snapshot.CodecInfo["channels"])
	assert.Equal(t, "recording", snapshot.CodecInfo["direction"])
}

// Full lifecycle walk: establish, answer, stream, terminate, expire.
func TestCallLifecycleScenario(t *testing.T) {
	f := newFixture(t, PolicyStaged, 50*time.Millisecond)

	obs := newRecordingObserver()
	f.broker.Subscribe("agent9", obs)

	f.handler.OnIncoming("c1", []string{"X-Sequence-ID: 9", "X-Agent-DNIS: agent9"})
	require.Equal(t, session.StatusEstablishing, obs.next(t).Status)

	f.handler.OnStateChange("c1", SignalConnecting)
	require.Equal(t, session.StatusActive, obs.next(t).Status)

	f.handler.OnStreamEstablished("c1", StreamInfo{ID: 0, Port: 4000, CodecName: "PCMU", ClockRate: 8000, Channels: 1})
	require.Equal(t, "PCMU", obs.next(t).CodecInfo["name"])

	f.handler.OnStateChange("c1", SignalDisconnected)
	final := obs.next(t)
	require.Equal(t, session.StatusCompleted, final.Status)

	// Queryable during the grace window, gone afterwards.
	_, err := f.registry.Get("c1")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := f.registry.Get("c1")
		return errors.Is(err, session.ErrSessionNotFound)
	}, time.Second, 5*time.Millisecond)
}

func TestStreamAfterCompletionIsIgnored(t *testing.T) {
	f := newFixture(t, PolicyStaged, time.Minute)

	f.handler.OnIncoming("c1", []string{"X-Agent-DNIS: agent9"})
	f.handler.OnStateChange("c1", SignalDisconnected)

	f.handler.OnStreamEstablished("c1", StreamInfo{ID: 0, Port: 4000, CodecName: "PCMU"})

	got, err := f.registry.Get("c1")
	require.NoError(t, err)
	assert.Empty(t, got.AudioPorts)
	assert.Equal(t, session.StatusCompleted, got.Status)
}
