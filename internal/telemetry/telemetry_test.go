package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AxelFr971/vocaline-local/internal/signaling"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type collector struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
}

func (c *collector) Record(e Event) {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *collector) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.Name
	}
	return out
}

func TestEmitterDeliversInOrder(t *testing.T) {
	a, b := &collector{}, &collector{}
	em := NewEmitter(8, a, b)

	for _, n := range []string{"new", "connecting", "connected"} {
		em.Record(Event{Kind: KindConnectionState, Name: n})
	}
	em.Close()

	for _, c := range []*collector{a, b} {
		got := c.names()
		if len(got) != 3 || got[0] != "new" || got[2] != "connected" {
			t.Errorf("sink got %v", got)
		}
	}
	if a.events[0].At.IsZero() {
		t.Error("Record should stamp the event time")
	}
}

func TestEmitterNeverBlocks(t *testing.T) {
	slow := &collector{block: make(chan struct{})}
	em := NewEmitter(1, slow)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			em.Record(Event{Kind: KindAudioState, Name: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a slow sink")
	}
	if em.Dropped() == 0 {
		t.Error("expected dropped events with a full queue")
	}

	close(slow.block)
	em.Close()
	em.Record(Event{Kind: KindAudioState, Name: "after-close"})
	em.Close()
}

type fakeSender struct {
	mu   sync.Mutex
	sent []*signaling.Message
	err  error
}

func (f *fakeSender) Send(m *signaling.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	return f.err
}

func TestSignalingSink(t *testing.T) {
	link := &fakeSender{}
	sink := NewSignalingSink(link)

	sink.Record(Event{Kind: KindConnectionState, RoomID: "R", Name: "connected", At: time.UnixMilli(1000)})
	sink.Record(Event{Kind: KindAudioState, RoomID: "R", Name: AudioAutoplayBlocked, Detail: "tag-1"})
	sink.Record(Event{Kind: KindError, RoomID: "R", Name: "negotiation", Detail: "bad sdp"})
	sink.Record(Event{Kind: KindSessionState, RoomID: "R", Name: "connected"})
	sink.Record(Event{Kind: KindIgnored, RoomID: "R", Name: "duplicate-offer"})

	if len(link.sent) != 3 {
		t.Fatalf("sent %d messages, want 3", len(link.sent))
	}
	wantTypes := []string{signaling.MessageTypeConnectionState, signaling.MessageTypeAudioState, signaling.MessageTypeError}
	for i, m := range link.sent {
		if m.Type != wantTypes[i] || m.RoomID != "R" {
			t.Errorf("message %d = %s/%s", i, m.Type, m.RoomID)
		}
	}

	var cs signaling.ConnectionState
	if err := link.sent[0].Decode(&cs); err != nil {
		t.Fatal(err)
	}
	if cs.State != "connected" || cs.Timestamp != 1000 {
		t.Errorf("connection-state payload = %+v", cs)
	}

	ev, ok := FromMessage(link.sent[1])
	if !ok || ev.Name != AudioAutoplayBlocked || ev.Detail != "tag-1" {
		t.Errorf("FromMessage = %+v, %t", ev, ok)
	}
}

func TestSignalingSinkIgnoresSendErrors(t *testing.T) {
	sink := NewSignalingSink(&fakeSender{err: errors.New("down")})
	sink.Record(Event{Kind: KindError, Name: "x"})
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumOf(t *testing.T, m *metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s is %T, not an int64 sum", m.Name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetricsSink(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	sink := NewMetricsSink(m)

	sink.Record(Event{Kind: KindSessionState, Name: "idle"})
	sink.Record(Event{Kind: KindSessionState, Name: "idle"})
	sink.Record(Event{Kind: KindSessionState, Name: "connected"})
	sink.Record(Event{Kind: KindSessionState, Name: "closed"})
	sink.Record(Event{Kind: KindError, Name: "negotiation"})
	sink.Record(Event{Kind: KindIgnored, Name: "duplicate-offer"})
	sink.Record(Event{Kind: KindAudioState, Name: AudioPlaying, Enabled: true})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	tests := []struct {
		name string
		want int64
	}{
		{"vocaline.session.transitions", 4},
		{"vocaline.sessions.active", 1},
		{"vocaline.errors", 1},
		{"vocaline.negotiation.ignored", 1},
		{"vocaline.audio.events", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := findMetric(rm, tt.name)
			if m == nil {
				t.Fatalf("metric %s not found", tt.name)
			}
			if got := sumOf(t, m); got != tt.want {
				t.Errorf("%s = %d, want %d", tt.name, got, tt.want)
			}
		})
	}
}
