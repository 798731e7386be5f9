package negotiation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AxelFr971/vocaline-local/internal/playback"
	"github.com/AxelFr971/vocaline-local/internal/signaling"
	"github.com/AxelFr971/vocaline-local/internal/telemetry"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

const room = "brave-otter-42"

type fakeTransport struct {
	mu         sync.Mutex
	ops        []string
	candidates []string
	setErr     error
	closed     bool

	onCandidate func(*webrtc.ICECandidateInit)
	onState     func(webrtc.PeerConnectionState)
	onTrack     func(playback.Stream)
}

func (f *fakeTransport) op(s string) {
	f.mu.Lock()
	f.ops = append(f.ops, s)
	f.mu.Unlock()
}

func (f *fakeTransport) AddTrack(webrtc.TrackLocal) error { f.op("add-track"); return nil }

func (f *fakeTransport) CreateOffer() (webrtc.SessionDescription, error) {
	f.op("create-offer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "local-offer"}, nil
}

func (f *fakeTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	f.op("create-answer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "local-answer"}, nil
}

func (f *fakeTransport) SetRemoteDescription(d webrtc.SessionDescription) error {
	f.op("set-remote:" + d.Type.String())
	return f.setErr
}

func (f *fakeTransport) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	f.ops = append(f.ops, "add-candidate")
	f.candidates = append(f.candidates, c.Candidate)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) OnICECandidate(fn func(*webrtc.ICECandidateInit)) {
	f.mu.Lock()
	f.onCandidate = fn
	f.mu.Unlock()
}

func (f *fakeTransport) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	f.mu.Lock()
	f.onState = fn
	f.mu.Unlock()
}

func (f *fakeTransport) OnTrack(fn func(playback.Stream)) {
	f.mu.Lock()
	f.onTrack = fn
	f.mu.Unlock()
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) fireState(st webrtc.PeerConnectionState) {
	f.mu.Lock()
	fn := f.onState
	f.mu.Unlock()
	fn(st)
}

func (f *fakeTransport) fireCandidate(c *webrtc.ICECandidateInit) {
	f.mu.Lock()
	fn := f.onCandidate
	f.mu.Unlock()
	fn(c)
}

func (f *fakeTransport) fireTrack(s playback.Stream) {
	f.mu.Lock()
	fn := f.onTrack
	f.mu.Unlock()
	fn(s)
}

func (f *fakeTransport) snapshot() (ops, candidates []string, closed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...), append([]string(nil), f.candidates...), f.closed
}

func (f *fakeTransport) count(op string) int {
	ops, _, _ := f.snapshot()
	n := 0
	for _, o := range ops {
		if o == op {
			n++
		}
	}
	return n
}

type fakeFactory struct {
	transport *fakeTransport
	calls     atomic.Int32
}

func (f *fakeFactory) NewTransport() (Transport, error) {
	f.calls.Add(1)
	return f.transport, nil
}

type fakeLink struct {
	mu       sync.Mutex
	sent     []*signaling.Message
	handlers map[string]signaling.Handler
	unsubs   int
}

func newFakeLink() *fakeLink {
	return &fakeLink{handlers: make(map[string]signaling.Handler)}
}

func (l *fakeLink) Send(m *signaling.Message) error {
	l.mu.Lock()
	l.sent = append(l.sent, m)
	l.mu.Unlock()
	return nil
}

func (l *fakeLink) Subscribe(roomID string, h signaling.Handler) func() {
	l.mu.Lock()
	l.handlers[roomID] = h
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		delete(l.handlers, roomID)
		l.unsubs++
		l.mu.Unlock()
	}
}

func (l *fakeLink) deliver(msgType string, payload any) {
	l.mu.Lock()
	h := l.handlers[room]
	l.mu.Unlock()
	if h != nil {
		h(signaling.NewMessage(msgType, room, payload))
	}
}

func (l *fakeLink) sentTypes() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var types []string
	for _, m := range l.sent {
		types = append(types, m.Type)
	}
	return types
}

type fakeLocal struct {
	tracks  []webrtc.TrackLocal
	stopped atomic.Bool
}

func (l *fakeLocal) ID() string { return "clone-1" }
func (l *fakeLocal) Tracks() []webrtc.TrackLocal { return l.tracks }
func (l *fakeLocal) Stop() { l.stopped.Store(true) }

type fakeCapture struct {
	err   error
	local *fakeLocal
}

func newFakeCapture(t *testing.T) *fakeCapture {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, "mic", "clone-1")
	if err != nil {
		t.Fatal(err)
	}
	return &fakeCapture{local: &fakeLocal{tracks: []webrtc.TrackLocal{track}}}
}

func (c *fakeCapture) Acquire(context.Context) error { return c.err }

func (c *fakeCapture) Clone() (LocalStream, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.local, nil
}

// gatedCapture holds Acquire until the test sends on release.
type gatedCapture struct {
	*fakeCapture
	entered chan struct{}
	release chan error
}

func (c *gatedCapture) Acquire(context.Context) error {
	close(c.entered)
	return <-c.release
}

type recorder struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (r *recorder) Record(e telemetry.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) has(kind telemetry.Kind, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Kind == kind && e.Name == name {
			return true
		}
	}
	return false
}

type fakePlayer struct {
	attached atomic.Int32
	closed   atomic.Bool
}

func (p *fakePlayer) Attach(playback.Stream) { p.attached.Add(1) }
func (p *fakePlayer) Close() { p.closed.Store(true) }

type fakeStream struct{}

func (fakeStream) ID() string { return "remote-audio" }
func (fakeStream) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	return nil, nil, errors.New("not readable")
}

type harness struct {
	s         *Session
	transport *fakeTransport
	factory   *fakeFactory
	link      *fakeLink
	capture   *fakeCapture
	rec       *recorder
	player    *fakePlayer
}

func newHarness(t *testing.T, role Role) *harness {
	t.Helper()
	return newHarnessWith(t, role, nil)
}

// newGatedHarness returns a harness whose capture Acquire blocks until the
// test releases it.
func newGatedHarness(t *testing.T, role Role) (*harness, *gatedCapture) {
	t.Helper()
	gate := &gatedCapture{
		fakeCapture: newFakeCapture(t),
		entered:     make(chan struct{}),
		release:     make(chan error, 1),
	}
	h := newHarnessWith(t, role, gate)
	h.capture = gate.fakeCapture
	return h, gate
}

func newHarnessWith(t *testing.T, role Role, source CaptureSource) *harness {
	t.Helper()
	h := &harness{
		transport: &fakeTransport{},
		link:      newFakeLink(),
		capture:   newFakeCapture(t),
		rec:       &recorder{},
		player:    &fakePlayer{},
	}
	h.factory = &fakeFactory{transport: h.transport}
	if source == nil {
		source = h.capture
	}

	s, err := NewSession(SessionConfig{
		RoomID:     room,
		Role:       role,
		Capture:    source,
		Transports: h.factory,
		Link:       h.link,
		Telemetry:  h.rec,
		Player:     h.player,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	h.s = s
	t.Cleanup(s.Close)
	return h
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	eventually(t, "state "+want.String(), func() bool { return s.State() == want })
}

func offer() signaling.SessionDescription {
	return signaling.SessionDescription{Type: "offer", SDP: "remote-offer"}
}

func answer() signaling.SessionDescription {
	return signaling.SessionDescription{Type: "answer", SDP: "remote-answer"}
}

func candidate(n int) signaling.ICECandidate {
	idx := uint16(0)
	return signaling.ICECandidate{Candidate: fmt.Sprintf("candidate:%d", n), SDPMLineIndex: &idx}
}

func TestResponderAnswersOffer(t *testing.T) {
	h := newHarness(t, RoleResponder)

	var seen []State
	var mu sync.Mutex
	h.s.OnStateChange(func(st State) {
		mu.Lock()
		seen = append(seen, st)
		mu.Unlock()
	})

	if err := h.s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitState(t, h.s, StateAwaitingOffer)

	h.link.deliver(signaling.MessageTypeOffer, offer())
	waitState(t, h.s, StateAnswerExchanged)

	ops, _, _ := h.transport.snapshot()
	want := []string{"add-track", "set-remote:offer", "create-answer"}
	if len(ops) != len(want) {
		t.Fatalf("ops = %v, want %v", ops, want)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Errorf("ops[%d] = %q, want %q", i, ops[i], want[i])
		}
	}
	if got := h.link.sentTypes(); len(got) != 1 || got[0] != signaling.MessageTypeAnswer {
		t.Fatalf("sent = %v, want [answer]", got)
	}

	h.transport.fireState(webrtc.PeerConnectionStateConnected)
	waitState(t, h.s, StateConnected)

	mu.Lock()
	defer mu.Unlock()
	wantSeen := []State{StateLocalCaptureReady, StateAwaitingOffer, StateAnswerExchanged, StateConnected}
	if len(seen) != len(wantSeen) {
		t.Fatalf("transitions = %v, want %v", seen, wantSeen)
	}
	for i := range wantSeen {
		if seen[i] != wantSeen[i] {
			t.Errorf("transition %d = %v, want %v", i, seen[i], wantSeen[i])
		}
	}
}

func TestCaptureFailureSendsNothing(t *testing.T) {
	h := newHarness(t, RoleResponder)
	h.capture.err = errors.New("permission denied")

	if err := h.s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-h.s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not fail")
	}

	if h.s.State() != StateFailed {
		t.Errorf("State = %v, want failed", h.s.State())
	}
	if !errors.Is(h.s.Err(), ErrCaptureUnavailable) {
		t.Errorf("Err = %v, want ErrCaptureUnavailable", h.s.Err())
	}
	if got := h.link.sentTypes(); len(got) != 0 {
		t.Errorf("sent = %v, want nothing", got)
	}
	if n := h.factory.calls.Load(); n != 0 {
		t.Errorf("transport created %d times, want 0", n)
	}
	if !h.rec.has(telemetry.KindError, "capture-unavailable") {
		t.Error("capture failure should be reported")
	}
}

func TestEarlyCandidatesAppliedInOrder(t *testing.T) {
	h := newHarness(t, RoleResponder)
	if err := h.s.Start(); err != nil {
		t.Fatal(err)
	}

	h.link.deliver(signaling.MessageTypeICECandidate, candidate(1))
	h.link.deliver(signaling.MessageTypeICECandidate, candidate(2))
	waitState(t, h.s, StateAwaitingOffer)
	if n := h.transport.count("add-candidate"); n != 0 {
		t.Fatalf("%d candidates applied before the offer", n)
	}

	h.link.deliver(signaling.MessageTypeOffer, offer())
	waitState(t, h.s, StateAnswerExchanged)

	h.link.deliver(signaling.MessageTypeICECandidate, candidate(3))
	eventually(t, "third candidate", func() bool { return h.transport.count("add-candidate") == 3 })

	ops, got, _ := h.transport.snapshot()
	want := []string{"candidate:1", "candidate:2", "candidate:3"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("candidate %d = %q, want %q", i, got[i], want[i])
		}
	}
	for i, op := range ops {
		if op == "set-remote:offer" {
			break
		}
		if op == "add-candidate" {
			t.Fatalf("candidate applied at %d before the remote description: %v", i, ops)
		}
	}
}

func TestOfferBeforeCaptureReady(t *testing.T) {
	h, gate := newGatedHarness(t, RoleResponder)
	if err := h.s.Start(); err != nil {
		t.Fatal(err)
	}
	<-gate.entered

	h.link.deliver(signaling.MessageTypeICECandidate, candidate(1))
	h.link.deliver(signaling.MessageTypeOffer, offer())
	h.link.deliver(signaling.MessageTypeICECandidate, candidate(2))
	if n := h.factory.calls.Load(); n != 0 {
		t.Fatalf("transport created %d times while capture was pending", n)
	}

	gate.release <- nil
	waitState(t, h.s, StateAnswerExchanged)
	eventually(t, "second candidate", func() bool { return h.transport.count("add-candidate") == 2 })

	ops, got, _ := h.transport.snapshot()
	wantOps := []string{"add-track", "set-remote:offer", "add-candidate", "create-answer", "add-candidate"}
	if fmt.Sprint(ops) != fmt.Sprint(wantOps) {
		t.Errorf("ops = %v, want %v", ops, wantOps)
	}
	if want := []string{"candidate:1", "candidate:2"}; fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("candidates = %v, want %v", got, want)
	}
	if sent := h.link.sentTypes(); len(sent) != 1 || sent[0] != signaling.MessageTypeAnswer {
		t.Errorf("sent = %v, want [answer]", sent)
	}

	h.transport.fireState(webrtc.PeerConnectionStateConnected)
	waitState(t, h.s, StateConnected)
}

func TestOfferBeforeCaptureFails(t *testing.T) {
	h, gate := newGatedHarness(t, RoleResponder)
	if err := h.s.Start(); err != nil {
		t.Fatal(err)
	}
	<-gate.entered

	h.link.deliver(signaling.MessageTypeICECandidate, candidate(1))
	h.link.deliver(signaling.MessageTypeOffer, offer())
	h.link.deliver(signaling.MessageTypeICECandidate, candidate(2))

	gate.release <- errors.New("permission denied")
	select {
	case <-h.s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not fail")
	}

	if h.s.State() != StateFailed {
		t.Errorf("State = %v, want failed", h.s.State())
	}
	if !errors.Is(h.s.Err(), ErrCaptureUnavailable) {
		t.Errorf("Err = %v, want ErrCaptureUnavailable", h.s.Err())
	}
	if sent := h.link.sentTypes(); len(sent) != 0 {
		t.Errorf("sent = %v, want nothing", sent)
	}
	if n := h.factory.calls.Load(); n != 0 {
		t.Errorf("transport created %d times, want 0", n)
	}
	if ops, _, _ := h.transport.snapshot(); len(ops) != 0 {
		t.Errorf("ops = %v, want none", ops)
	}
}

func TestDuplicateOfferIgnored(t *testing.T) {
	h := newHarness(t, RoleResponder)
	if err := h.s.Start(); err != nil {
		t.Fatal(err)
	}
	waitState(t, h.s, StateAwaitingOffer)

	h.link.deliver(signaling.MessageTypeOffer, offer())
	waitState(t, h.s, StateAnswerExchanged)
	h.link.deliver(signaling.MessageTypeOffer, offer())

	eventually(t, "ignored offer", func() bool { return h.rec.has(telemetry.KindIgnored, "duplicate-offer") })
	if n := h.transport.count("create-answer"); n != 1 {
		t.Errorf("answers created = %d, want 1", n)
	}
	if h.s.State() != StateAnswerExchanged {
		t.Errorf("State = %v, want answer-exchanged", h.s.State())
	}
}

func TestInitiatorFlow(t *testing.T) {
	h := newHarness(t, RoleInitiator)
	if err := h.s.Start(); err != nil {
		t.Fatal(err)
	}
	waitState(t, h.s, StateOfferCreated)

	if got := h.link.sentTypes(); len(got) != 1 || got[0] != signaling.MessageTypeOffer {
		t.Fatalf("sent = %v, want [offer]", got)
	}
	if err := h.s.RequestOffer(); !errors.Is(err, ErrOfferPending) {
		t.Errorf("RequestOffer = %v, want ErrOfferPending", err)
	}

	h.link.deliver(signaling.MessageTypeOffer, offer())
	eventually(t, "ignored offer", func() bool { return h.rec.has(telemetry.KindIgnored, "offer-to-initiator") })

	h.link.deliver(signaling.MessageTypeAnswer, answer())
	waitState(t, h.s, StateAnswerExchanged)

	h.link.deliver(signaling.MessageTypeAnswer, answer())
	eventually(t, "ignored answer", func() bool { return h.rec.has(telemetry.KindIgnored, "duplicate-answer") })

	if n := h.transport.count("set-remote:answer"); n != 1 {
		t.Errorf("remote answers applied = %d, want 1", n)
	}
	if n := h.transport.count("create-offer"); n != 1 {
		t.Errorf("offers created = %d, want 1", n)
	}
}

func TestRequestOfferFromResponder(t *testing.T) {
	h := newHarness(t, RoleResponder)
	if err := h.s.RequestOffer(); !errors.Is(err, ErrWrongRole) {
		t.Fatalf("RequestOffer = %v, want ErrWrongRole", err)
	}
}

func TestStartTwice(t *testing.T) {
	h := newHarness(t, RoleResponder)
	if err := h.s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := h.s.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}
	h.s.Close()
	if err := h.s.Start(); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Start after Close = %v, want ErrSessionClosed", err)
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	h := newHarness(t, RoleResponder)
	if err := h.s.Start(); err != nil {
		t.Fatal(err)
	}
	waitState(t, h.s, StateAwaitingOffer)
	h.link.deliver(signaling.MessageTypeOffer, offer())
	waitState(t, h.s, StateAnswerExchanged)

	h.s.Close()

	if !h.capture.local.stopped.Load() {
		t.Error("clone not stopped")
	}
	if _, _, closed := h.transport.snapshot(); !closed {
		t.Error("transport not closed")
	}
	if !h.player.closed.Load() {
		t.Error("player not closed")
	}
	if h.link.unsubs != 1 {
		t.Errorf("unsubscribed %d times, want 1", h.link.unsubs)
	}
	if h.s.State() != StateClosed || h.s.Err() != nil {
		t.Errorf("State/Err = %v/%v, want closed/nil", h.s.State(), h.s.Err())
	}

	sent := len(h.link.sentTypes())
	h.transport.fireState(webrtc.PeerConnectionStateConnected)
	h.transport.fireCandidate(&webrtc.ICECandidateInit{Candidate: "candidate:late"})
	time.Sleep(20 * time.Millisecond)

	if h.s.State() != StateClosed {
		t.Errorf("State after late events = %v, want closed", h.s.State())
	}
	if n := len(h.link.sentTypes()); n != sent {
		t.Errorf("late candidate was sent")
	}
	h.s.Close()
}

func TestTransportFailure(t *testing.T) {
	tests := []struct {
		name  string
		state webrtc.PeerConnectionState
	}{
		{"failed", webrtc.PeerConnectionStateFailed},
		{"closed", webrtc.PeerConnectionStateClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, RoleResponder)
			if err := h.s.Start(); err != nil {
				t.Fatal(err)
			}
			waitState(t, h.s, StateAwaitingOffer)

			h.transport.fireState(tt.state)
			<-h.s.Done()

			if !errors.Is(h.s.Err(), ErrTransportFailed) {
				t.Errorf("Err = %v, want ErrTransportFailed", h.s.Err())
			}
			if !h.rec.has(telemetry.KindConnectionState, tt.state.String()) {
				t.Error("connection state not reported")
			}
			if !h.rec.has(telemetry.KindError, "transport") {
				t.Error("transport failure not reported")
			}
		})
	}
}

func TestDisconnectedOnlyFromConnected(t *testing.T) {
	h := newHarness(t, RoleResponder)
	if err := h.s.Start(); err != nil {
		t.Fatal(err)
	}
	waitState(t, h.s, StateAwaitingOffer)

	h.transport.fireState(webrtc.PeerConnectionStateDisconnected)
	eventually(t, "state reported", func() bool {
		return h.rec.has(telemetry.KindConnectionState, webrtc.PeerConnectionStateDisconnected.String())
	})
	if h.s.State() != StateAwaitingOffer {
		t.Fatalf("State = %v, want awaiting-offer", h.s.State())
	}

	h.transport.fireState(webrtc.PeerConnectionStateConnected)
	waitState(t, h.s, StateConnected)
	h.transport.fireState(webrtc.PeerConnectionStateDisconnected)
	waitState(t, h.s, StateDisconnected)
	h.transport.fireState(webrtc.PeerConnectionStateConnected)
	waitState(t, h.s, StateConnected)

	h.transport.fireState(webrtc.PeerConnectionStateDisconnected)
	waitState(t, h.s, StateDisconnected)
	h.transport.fireState(webrtc.PeerConnectionStateFailed)
	select {
	case <-h.s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("disconnected session did not fail")
	}
	if h.s.State() != StateFailed {
		t.Errorf("State = %v, want failed", h.s.State())
	}
	if !errors.Is(h.s.Err(), ErrTransportFailed) {
		t.Errorf("Err = %v, want ErrTransportFailed", h.s.Err())
	}
	if _, _, closed := h.transport.snapshot(); !closed {
		t.Error("transport should be closed")
	}
}

func TestSetRemoteFailure(t *testing.T) {
	h := newHarness(t, RoleResponder)
	h.transport.setErr = errors.New("bad sdp")
	if err := h.s.Start(); err != nil {
		t.Fatal(err)
	}
	waitState(t, h.s, StateAwaitingOffer)

	h.link.deliver(signaling.MessageTypeOffer, offer())
	<-h.s.Done()

	if !errors.Is(h.s.Err(), ErrNegotiation) {
		t.Errorf("Err = %v, want ErrNegotiation", h.s.Err())
	}
	if !h.capture.local.stopped.Load() {
		t.Error("clone should be stopped on failure")
	}
	if got := h.link.sentTypes(); len(got) != 0 {
		t.Errorf("sent = %v, want nothing", got)
	}
}

func TestRemoteTrackReachesPlayer(t *testing.T) {
	h := newHarness(t, RoleResponder)
	if err := h.s.Start(); err != nil {
		t.Fatal(err)
	}
	waitState(t, h.s, StateAwaitingOffer)

	h.transport.fireTrack(fakeStream{})
	eventually(t, "attach", func() bool { return h.player.attached.Load() == 1 })
	if !h.rec.has(telemetry.KindAudioState, telemetry.AudioRemoteTrack) {
		t.Error("remote track not reported")
	}
}

func TestLocalCandidatesAreSent(t *testing.T) {
	h := newHarness(t, RoleInitiator)
	if err := h.s.Start(); err != nil {
		t.Fatal(err)
	}
	waitState(t, h.s, StateOfferCreated)

	h.transport.fireCandidate(nil)
	h.transport.fireCandidate(&webrtc.ICECandidateInit{Candidate: "candidate:9"})

	got := h.link.sentTypes()
	if len(got) != 2 || got[1] != signaling.MessageTypeICECandidate {
		t.Fatalf("sent = %v, want [offer ice-candidate]", got)
	}
}

func TestRegistryReplacesRoomSession(t *testing.T) {
	reg := NewRegistry()
	t.Cleanup(reg.CloseAll)

	first := newHarness(t, RoleResponder)
	cfg := func(h *harness) SessionConfig {
		return SessionConfig{RoomID: room, Role: RoleResponder, Capture: h.capture, Transports: h.factory, Link: h.link}
	}

	a, err := reg.Create(cfg(first))
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Start(); err != nil {
		t.Fatal(err)
	}

	second := newHarness(t, RoleResponder)
	b, err := reg.Create(cfg(second))
	if err != nil {
		t.Fatal(err)
	}

	if a.State() != StateClosed {
		t.Errorf("previous session state = %v, want closed", a.State())
	}
	if got, ok := reg.Get(room); !ok || got != b {
		t.Error("registry should hold the new session")
	}
	if reg.Len() != 1 {
		t.Errorf("Len = %d, want 1", reg.Len())
	}

	b.Close()
	eventually(t, "removal", func() bool { return reg.Len() == 0 })
}

func TestRegistryReplaceDuringCapture(t *testing.T) {
	reg := NewRegistry()
	t.Cleanup(reg.CloseAll)

	first, gate := newGatedHarness(t, RoleResponder)
	second := newHarness(t, RoleResponder)
	cfg := func(h *harness, source CaptureSource) SessionConfig {
		return SessionConfig{RoomID: room, Role: RoleResponder, Capture: source, Transports: h.factory, Link: second.link}
	}

	a, err := reg.Create(cfg(first, gate))
	if err != nil {
		t.Fatal(err)
	}
	var mu sync.Mutex
	var seen []State
	a.OnStateChange(func(st State) {
		mu.Lock()
		seen = append(seen, st)
		mu.Unlock()
	})
	if err := a.Start(); err != nil {
		t.Fatal(err)
	}
	<-gate.entered

	b, err := reg.Create(cfg(second, second.capture))
	if err != nil {
		t.Fatal(err)
	}
	if a.State() != StateClosed {
		t.Fatalf("replaced session state = %v, want closed", a.State())
	}
	if err := b.Start(); err != nil {
		t.Fatal(err)
	}

	gate.release <- nil
	eventually(t, "late clone stopped", func() bool { return first.capture.local.stopped.Load() })
	waitState(t, b, StateAwaitingOffer)

	if n := first.factory.calls.Load(); n != 0 {
		t.Errorf("replaced session built %d transports, want 0", n)
	}
	if a.State() != StateClosed {
		t.Errorf("replaced session state = %v, want closed", a.State())
	}
	mu.Lock()
	if len(seen) != 1 || seen[0] != StateClosed {
		t.Errorf("replaced session transitions = %v, want [closed]", seen)
	}
	mu.Unlock()

	if ops, _, closed := second.transport.snapshot(); closed || len(ops) != 0 {
		t.Errorf("new session transport ops = %v closed = %v", ops, closed)
	}
	second.link.deliver(signaling.MessageTypeOffer, offer())
	waitState(t, b, StateAnswerExchanged)
	if got, ok := reg.Get(room); !ok || got != b {
		t.Error("registry should hold the new session")
	}
}

func TestNewSessionValidation(t *testing.T) {
	if _, err := NewSession(SessionConfig{}); err == nil {
		t.Fatal("expected error for empty config")
	}
}
