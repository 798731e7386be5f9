// Package negotiation turns a room assignment into a connected peer
// transport. Each room gets one Session whose transitions run on a single
// goroutine; teardown can happen from any goroutine and is synchronous.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AxelFr971/vocaline-local/internal/playback"
	"github.com/AxelFr971/vocaline-local/internal/signaling"
	"github.com/AxelFr971/vocaline-local/internal/telemetry"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// Signaler is the part of the signaling link a session uses.
type Signaler interface {
	Send(*signaling.Message) error
	Subscribe(roomID string, h signaling.Handler) (unsubscribe func())
}

// Player receives the inbound stream. It is closed with the session.
type Player interface {
	Attach(playback.Stream)
	Close()
}

// SessionConfig is everything a session needs; nothing is shared implicitly.
type SessionConfig struct {
	RoomID     string
	Role       Role
	Capture    CaptureSource
	Transports TransportFactory
	Link       Signaler
	Telemetry  telemetry.Recorder
	Player     Player
}

func (c SessionConfig) validate() error {
	switch {
	case c.RoomID == "":
		return errors.New("session needs a room id")
	case c.Capture == nil:
		return errors.New("session needs a capture source")
	case c.Transports == nil:
		return errors.New("session needs a transport factory")
	case c.Link == nil:
		return errors.New("session needs a signaling link")
	}
	return nil
}

// Session negotiates one call inside one room.
type Session struct {
	id         string
	roomID     string
	role       Role
	capture    CaptureSource
	transports TransportFactory
	link       Signaler
	rec        telemetry.Recorder
	log        *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	box    *mailbox
	done   chan struct{}

	mu          sync.Mutex
	state       State
	err         error
	started     bool
	terminal    bool
	clone       LocalStream
	transport   Transport
	player      Player
	unsubscribe func()
	listeners   []func(State)

	// Owned by the event loop.
	local      LocalStream
	peer       Transport
	attached   bool
	remoteSet  bool
	offerSent  bool
	answerSent bool
	pending    []webrtc.ICECandidateInit
}

// NewSession creates an idle session. Call Start to begin negotiating.
func NewSession(cfg SessionConfig) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	rec := cfg.Telemetry
	if rec == nil {
		rec = telemetry.Nop
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:         uuid.NewString(),
		roomID:     cfg.RoomID,
		role:       cfg.Role,
		capture:    cfg.Capture,
		transports: cfg.Transports,
		link:       cfg.Link,
		rec:        rec,
		player:     cfg.Player,
		ctx:        ctx,
		cancel:     cancel,
		box:        newMailbox(),
		done:       make(chan struct{}),
		state:      StateIdle,
	}
	s.log = slog.With("component", "negotiation", "room_id", s.roomID, "role", s.role, "session_id", s.id)
	s.record(telemetry.KindSessionState, StateIdle.String(), "")
	return s, nil
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

func (s *Session) RoomID() string { return s.roomID }

func (s *Session) Role() Role { return s.role }

// Done is closed once the session is failed or closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the failure that ended the session, nil while running or after
// a voluntary Close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// OnStateChange registers fn for every later transition. fn runs on the
// goroutine causing the transition and must not block.
func (s *Session) OnStateChange(fn func(State)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Start subscribes to the room and begins negotiation in the background.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	// Capture is queued ahead of the subscription so every early offer or
	// candidate is handled after the local stream exists.
	s.box.push(s.prepare)

	unsubscribe := s.link.Subscribe(s.roomID, s.onMessage)
	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		unsubscribe()
		return ErrSessionClosed
	}
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	go s.run()

	s.log.Info("session started")
	return nil
}

// Close ends the session voluntarily. It stops the local clone and closes the
// transport before returning.
func (s *Session) Close() {
	s.teardown(StateClosed, nil)
}

// RequestOffer asks an initiator to create its offer. The offer is created
// once per session; later requests fail with ErrOfferPending.
func (s *Session) RequestOffer() error {
	if s.role != RoleInitiator {
		return ErrWrongRole
	}
	res := make(chan error, 1)
	if !s.post(func() { res <- s.sendOffer() }) {
		return ErrSessionClosed
	}
	select {
	case err := <-res:
		return err
	case <-s.done:
		return ErrSessionClosed
	}
}

func (s *Session) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.box.ready():
		}
		for {
			fn, ok := s.box.pop()
			if !ok {
				break
			}
			if s.isTerminal() {
				return
			}
			fn()
		}
	}
}

// post queues fn on the event loop, reporting false after teardown.
func (s *Session) post(fn func()) bool {
	if s.isTerminal() {
		return false
	}
	s.box.push(fn)
	return true
}

func (s *Session) isTerminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminal
}

// prepare acquires capture, clones it and creates the transport.
func (s *Session) prepare() {
	if err := s.capture.Acquire(s.ctx); err != nil {
		s.fail("acquire capture", ErrCaptureUnavailable, err)
		return
	}
	clone, err := s.capture.Clone()
	if err != nil {
		s.fail("clone capture", ErrCaptureUnavailable, err)
		return
	}

	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		clone.Stop()
		return
	}
	s.clone = clone
	s.mu.Unlock()
	s.local = clone

	tr, err := s.transports.NewTransport()
	if err != nil {
		s.fail("create transport", ErrNegotiation, err)
		return
	}
	tr.OnICECandidate(s.onLocalCandidate)
	tr.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		s.post(func() { s.handleConnectionState(st) })
	})
	tr.OnTrack(func(stream playback.Stream) {
		s.post(func() { s.handleTrack(stream) })
	})

	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		tr.Close()
		return
	}
	s.transport = tr
	s.mu.Unlock()
	s.peer = tr

	s.transition(StateLocalCaptureReady)
	s.recordAudio(telemetry.AudioLocalReady, true, clone.ID())

	if s.role == RoleInitiator {
		if err := s.sendOffer(); err != nil && !errors.Is(err, ErrSessionClosed) {
			s.log.Warn("offer not sent", "error", err)
		}
		return
	}
	s.transition(StateAwaitingOffer)
}

// attach adds the clone's tracks to the transport once.
func (s *Session) attach() error {
	if s.attached {
		return nil
	}
	for _, t := range s.local.Tracks() {
		if err := s.peer.AddTrack(t); err != nil {
			return fmt.Errorf("add track %s: %w", t.ID(), err)
		}
	}
	s.attached = true
	return nil
}

func (s *Session) sendOffer() error {
	if s.isTerminal() {
		return ErrSessionClosed
	}
	if s.offerSent {
		s.ignore("offer-pending")
		return ErrOfferPending
	}
	s.offerSent = true

	if err := s.attach(); err != nil {
		s.fail("attach tracks", ErrNegotiation, err)
		return err
	}
	offer, err := s.peer.CreateOffer()
	if err != nil {
		s.fail("create offer", ErrNegotiation, err)
		return err
	}
	if s.isTerminal() {
		return ErrSessionClosed
	}

	s.send(signaling.MessageTypeOffer, signaling.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP})
	s.transition(StateOfferCreated)
	return nil
}

// onMessage runs on the link goroutine and only decodes and queues.
func (s *Session) onMessage(msg *signaling.Message) {
	switch msg.Type {
	case signaling.MessageTypeOffer, signaling.MessageTypeAnswer:
		var desc signaling.SessionDescription
		err := msg.Decode(&desc)
		msgType := msg.Type
		s.post(func() {
			if err != nil {
				s.fail("decode "+msgType, ErrNegotiation, err)
				return
			}
			if msgType == signaling.MessageTypeOffer {
				s.handleOffer(desc)
			} else {
				s.handleAnswer(desc)
			}
		})

	case signaling.MessageTypeICECandidate:
		var c signaling.ICECandidate
		err := msg.Decode(&c)
		s.post(func() {
			if err != nil {
				s.fail("decode candidate", ErrNegotiation, err)
				return
			}
			s.handleRemoteCandidate(candidateInit(c))
		})
	}
}

func (s *Session) handleOffer(desc signaling.SessionDescription) {
	if s.role == RoleInitiator {
		s.ignore("offer-to-initiator")
		return
	}
	if s.answerSent || s.State() != StateAwaitingOffer {
		s.ignore("duplicate-offer")
		return
	}
	if desc.Type != webrtc.SDPTypeOffer.String() || desc.SDP == "" {
		s.fail("apply offer", ErrNegotiation, fmt.Errorf("malformed offer (type %q)", desc.Type))
		return
	}

	// Tracks must be attached before the remote offer is applied or the
	// transport negotiates receive-only audio.
	if err := s.attach(); err != nil {
		s.fail("attach tracks", ErrNegotiation, err)
		return
	}
	if err := s.peer.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: desc.SDP}); err != nil {
		s.fail("apply offer", ErrNegotiation, err)
		return
	}
	s.remoteSet = true
	if !s.flushCandidates() {
		return
	}

	answer, err := s.peer.CreateAnswer()
	if err != nil {
		s.fail("create answer", ErrNegotiation, err)
		return
	}
	if s.isTerminal() {
		return
	}
	s.answerSent = true
	s.send(signaling.MessageTypeAnswer, signaling.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP})
	s.transition(StateAnswerExchanged)
}

func (s *Session) handleAnswer(desc signaling.SessionDescription) {
	if s.role == RoleResponder {
		s.ignore("answer-to-responder")
		return
	}
	if s.remoteSet || s.State() != StateOfferCreated {
		s.ignore("duplicate-answer")
		return
	}
	if desc.Type != webrtc.SDPTypeAnswer.String() || desc.SDP == "" {
		s.fail("apply answer", ErrNegotiation, fmt.Errorf("malformed answer (type %q)", desc.Type))
		return
	}

	if err := s.peer.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: desc.SDP}); err != nil {
		s.fail("apply answer", ErrNegotiation, err)
		return
	}
	s.remoteSet = true
	if !s.flushCandidates() {
		return
	}
	s.transition(StateAnswerExchanged)
}

func (s *Session) handleRemoteCandidate(c webrtc.ICECandidateInit) {
	if !s.remoteSet {
		s.pending = append(s.pending, c)
		return
	}
	if err := s.peer.AddICECandidate(c); err != nil {
		s.fail("add candidate", ErrNegotiation, err)
	}
}

// flushCandidates applies queued candidates in arrival order. It reports
// false when one was rejected and the session failed.
func (s *Session) flushCandidates() bool {
	pending := s.pending
	s.pending = nil
	for _, c := range pending {
		if err := s.peer.AddICECandidate(c); err != nil {
			s.fail("add candidate", ErrNegotiation, err)
			return false
		}
	}
	if len(pending) > 0 {
		s.log.Debug("applied queued candidates", "count", len(pending))
	}
	return true
}

// onLocalCandidate runs on a transport goroutine. Candidates go out as soon
// as they are produced unless the session is over.
func (s *Session) onLocalCandidate(c *webrtc.ICECandidateInit) {
	if c == nil || s.isTerminal() {
		return
	}
	s.send(signaling.MessageTypeICECandidate, signaling.ICECandidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

func (s *Session) handleConnectionState(st webrtc.PeerConnectionState) {
	s.record(telemetry.KindConnectionState, st.String(), "")

	switch st {
	case webrtc.PeerConnectionStateConnected:
		if s.State() != StateConnected {
			s.transition(StateConnected)
		}
	case webrtc.PeerConnectionStateDisconnected:
		if s.State() == StateConnected {
			s.transition(StateDisconnected)
		}
	case webrtc.PeerConnectionStateFailed:
		s.fail("peer transport", ErrTransportFailed, errors.New("connectivity lost"))
	case webrtc.PeerConnectionStateClosed:
		s.fail("peer transport", ErrTransportFailed, errors.New("closed by transport"))
	}
}

func (s *Session) handleTrack(stream playback.Stream) {
	s.recordAudio(telemetry.AudioRemoteTrack, true, stream.ID())
	s.mu.Lock()
	player := s.player
	s.mu.Unlock()
	if player != nil {
		player.Attach(stream)
	}
}

func (s *Session) send(msgType string, payload any) {
	if err := s.link.Send(signaling.NewMessage(msgType, s.roomID, payload)); err != nil {
		s.log.Warn("signaling message not sent", "type", msgType, "error", err)
	}
}

func (s *Session) transition(to State) {
	s.mu.Lock()
	if s.terminal || s.state == to {
		s.mu.Unlock()
		return
	}
	from := s.state
	s.state = to
	listeners := append([]func(State){}, s.listeners...)
	s.mu.Unlock()

	s.log.Info("session state changed", "from", from, "to", to)
	s.record(telemetry.KindSessionState, to.String(), "")
	for _, fn := range listeners {
		fn(to)
	}
}

func (s *Session) fail(op string, kind, cause error) {
	err := &Error{Op: op, Kind: kind, Err: cause}
	if s.teardown(StateFailed, err) {
		s.log.Error("session failed", "error", err)
	}
}

// teardown moves to a terminal state and releases the clone, the transport,
// the player and the room subscription before returning. It reports whether
// this call did the teardown.
func (s *Session) teardown(final State, cause error) bool {
	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		return false
	}
	s.terminal = true
	from := s.state
	s.state = final
	s.err = cause
	clone, tr, player, unsubscribe := s.clone, s.transport, s.player, s.unsubscribe
	s.clone, s.transport, s.player, s.unsubscribe = nil, nil, nil, nil
	listeners := append([]func(State){}, s.listeners...)
	s.mu.Unlock()

	s.cancel()
	if unsubscribe != nil {
		unsubscribe()
	}
	if clone != nil {
		clone.Stop()
	}
	if tr != nil {
		if err := tr.Close(); err != nil {
			s.log.Debug("transport close", "error", err)
		}
	}
	if player != nil {
		player.Close()
	}

	s.log.Info("session ended", "from", from, "to", final)
	if cause != nil {
		var se *Error
		name := "unknown"
		if errors.As(cause, &se) {
			name = kindName(se.Kind)
		}
		s.record(telemetry.KindError, name, cause.Error())
	}
	s.record(telemetry.KindSessionState, final.String(), "")
	for _, fn := range listeners {
		fn(final)
	}
	close(s.done)
	return true
}

func (s *Session) ignore(reason string) {
	s.log.Debug("ignoring message", "reason", reason, "state", s.State())
	s.record(telemetry.KindIgnored, reason, "")
}

func (s *Session) record(kind telemetry.Kind, name, detail string) {
	s.rec.Record(telemetry.Event{Kind: kind, RoomID: s.roomID, Name: name, Detail: detail})
}

func (s *Session) recordAudio(name string, enabled bool, tag string) {
	s.rec.Record(telemetry.Event{Kind: telemetry.KindAudioState, RoomID: s.roomID, Name: name, Enabled: enabled, Detail: tag})
}

func candidateInit(c signaling.ICECandidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}
