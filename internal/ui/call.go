package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/AxelFr971/vocaline-local/internal/call"
	"github.com/AxelFr971/vocaline-local/internal/negotiation"
	"github.com/AxelFr971/vocaline-local/internal/utils"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

const startAudioTimeout = 5 * time.Second

// CallActions are the controller operations bound to keys.
// *call.Controller implements it.
type CallActions interface {
	ToggleMute() bool
	StartAudio(ctx context.Context) error
	Next() error
}

type callEventMsg call.Event

type eventsClosedMsg struct{}

type actionErrMsg struct{ err error }

type callTickMsg time.Time

// CallModel is the live call screen.
type CallModel struct {
	actions CallActions
	events  <-chan call.Event
	spinner spinner.Model

	status  string
	roomID  string
	partner string
	role    string
	state   negotiation.State
	inRoom  bool
	playing bool
	manual  bool
	muted   bool
	lastErr string

	partners    int
	connectedAt time.Time
	talkTime    time.Duration
	now         func() time.Time

	quitting bool
}

func NewCallModel(actions CallActions, events <-chan call.Event) *CallModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &CallModel{
		actions: actions,
		events:  events,
		spinner: s,
		status:  "Looking for a partner...",
		now:     time.Now,
	}
}

func (m *CallModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForEvents(), callTick())
}

func callTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return callTickMsg(t)
	})
}

func (m *CallModel) listenForEvents() tea.Cmd {
	return func() tea.Msg {
		e, ok := <-m.events
		if !ok {
			return eventsClosedMsg{}
		}
		return callEventMsg(e)
	}
}

func (m *CallModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m, m.handleKey(msg.String())

	case callEventMsg:
		m.handleEvent(call.Event(msg))
		return m, m.listenForEvents()

	case eventsClosedMsg:
		m.stopClock()
		m.quitting = true
		return m, tea.Quit

	case actionErrMsg:
		if msg.err != nil {
			m.lastErr = msg.err.Error()
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case callTickMsg:
		if m.quitting {
			return m, nil
		}
		return m, callTick()
	}
	return m, nil
}

func (m *CallModel) handleKey(key string) tea.Cmd {
	switch key {
	case "q", "ctrl+c":
		m.stopClock()
		m.quitting = true
		return tea.Quit

	case "m":
		m.muted = m.actions.ToggleMute()
		return nil

	case "a":
		actions := m.actions
		return func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), startAudioTimeout)
			defer cancel()
			return actionErrMsg{err: actions.StartAudio(ctx)}
		}

	case "n":
		m.leaveRoom()
		m.status = "Looking for a new partner..."
		actions := m.actions
		return func() tea.Msg {
			return actionErrMsg{err: actions.Next()}
		}
	}
	return nil
}

func (m *CallModel) handleEvent(e call.Event) {
	switch e.Type {
	case call.EventWaiting:
		m.status = "Waiting for a partner..."
		if e.Position > 0 {
			m.status = fmt.Sprintf("Waiting for a partner (position %d)...", e.Position)
		}

	case call.EventMatched:
		m.leaveRoom()
		m.inRoom = true
		m.roomID = e.RoomID
		m.partner = e.Partner
		m.role = e.Role.String()
		m.partners++
		m.lastErr = ""
		m.status = "Connecting to " + e.Partner + "..."

	case call.EventSession:
		if e.RoomID != m.roomID {
			return
		}
		m.state = e.State
		switch e.State {
		case negotiation.StateConnected:
			m.status = "In call with " + m.partner
			if m.connectedAt.IsZero() {
				m.connectedAt = m.now()
			}
		case negotiation.StateDisconnected:
			m.status = "Connection interrupted..."
			m.stopClock()
		case negotiation.StateFailed:
			m.status = "Call failed"
			if e.Err != nil {
				m.lastErr = e.Err.Error()
			}
			m.stopClock()
		case negotiation.StateClosed:
			m.stopClock()
		}

	case call.EventPlayback:
		if e.RoomID != m.roomID {
			return
		}
		m.playing = e.Gate.Playing
		m.manual = e.Gate.ManualStartAvailable

	case call.EventPartnerLeft:
		m.leaveRoom()
		m.status = e.Partner + " left. Press n to find someone new."

	case call.EventMute:
		m.muted = e.Muted

	case call.EventError:
		switch {
		case e.Message != "":
			m.lastErr = e.Message
		case e.Err != nil:
			m.lastErr = e.Err.Error()
		}
	}
}

func (m *CallModel) leaveRoom() {
	m.stopClock()
	m.inRoom = false
	m.playing = false
	m.manual = false
	m.state = negotiation.StateIdle
}

func (m *CallModel) stopClock() {
	if !m.connectedAt.IsZero() {
		m.talkTime += m.now().Sub(m.connectedAt)
		m.connectedAt = time.Time{}
	}
}

// Summary reports the call as it stood when the screen exited.
func (m *CallModel) Summary() CallSummary {
	status := "Ended"
	if m.lastErr != "" {
		status = "Ended with error: " + m.lastErr
	}
	talk := m.talkTime
	if !m.connectedAt.IsZero() {
		talk += m.now().Sub(m.connectedAt)
	}
	return CallSummary{
		Status:    status,
		RoomID:    m.roomID,
		Partner:   m.partner,
		Role:      m.role,
		Partners:  m.partners,
		Connected: talk,
		Muted:     m.muted,
	}
}

func (m *CallModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(HeaderStyle.Render(IconPhone+" Vocaline") + "\n")

	if m.state == negotiation.StateConnected {
		b.WriteString(fmt.Sprintf("%s %s\n\n", LiveStyle.Render("●"), m.status))
	} else {
		b.WriteString(fmt.Sprintf("%s %s\n\n", m.spinner.View(), m.status))
	}

	if m.inRoom {
		b.WriteString(fmt.Sprintf("%s %s %s\n", IconPeer, LabelStyle.Render("Partner"), BoldStyle.Render(utils.TruncateString(m.partner, 30))))
		b.WriteString(fmt.Sprintf("%s %s %s\n", IconRoom, LabelStyle.Render("Room"), MutedStyle.Render(m.roomID)))
		b.WriteString(fmt.Sprintf("%s %s %s (%s)\n", IconConnect, LabelStyle.Render("Session"), m.state, m.role))

		if !m.connectedAt.IsZero() {
			b.WriteString(fmt.Sprintf("%s %s %s\n", IconTime, LabelStyle.Render("Talk time"), utils.FormatTimeDuration(m.now().Sub(m.connectedAt))))
		}

		speaker := MutedStyle.Render("waiting for audio")
		if m.playing {
			speaker = LiveStyle.Render("playing")
		}
		b.WriteString(fmt.Sprintf("%s %s %s\n", IconSpeaker, LabelStyle.Render("Speaker"), speaker))
	}

	if m.muted {
		b.WriteString(fmt.Sprintf("%s %s %s\n", IconMicOff, LabelStyle.Render("Mic"), MutedMicStyle.Render("muted")))
	} else {
		b.WriteString(fmt.Sprintf("%s %s %s\n", IconMic, LabelStyle.Render("Mic"), LiveStyle.Render("live")))
	}

	if m.inRoom && m.manual && !m.playing {
		b.WriteString("\n" + WarningBoxStyle.Render(IconWarning+" Playback was blocked. Press a to start audio.") + "\n")
	}

	if m.lastErr != "" {
		b.WriteString("\n" + ErrorStyle.Render(IconError+" "+m.lastErr) + "\n")
	}

	keys := []string{KeyStyle.Render("m") + " mute"}
	if m.inRoom {
		keys = append(keys, KeyStyle.Render("a")+" start audio")
	}
	keys = append(keys, KeyStyle.Render("n")+" next", KeyStyle.Render("q")+" quit")
	b.WriteString(FooterStyle.Render(strings.Join(keys, " · ")))

	return b.String()
}

// RunCallUI runs the call screen inline until the user quits or events is
// closed, and returns the final summary.
func RunCallUI(actions CallActions, events <-chan call.Event) (CallSummary, error) {
	model := NewCallModel(actions, events)
	final, err := tea.NewProgram(model).Run()
	if err != nil {
		return model.Summary(), fmt.Errorf("call screen: %w", err)
	}
	if cm, ok := final.(*CallModel); ok {
		return cm.Summary(), nil
	}
	return model.Summary(), nil
}
