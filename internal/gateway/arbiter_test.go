package gateway

import (
	"bytes"
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/projecthorus/horus-utils/internal/packets"
	"github.com/projecthorus/horus-utils/internal/radio"
	"github.com/projecthorus/horus-utils/internal/types"
)

type recorder struct {
	mu   sync.Mutex
	msgs []types.Message
}

func (r *recorder) Emit(m types.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
}

func (r *recorder) ofType(typ string) []types.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.Message
	for _, m := range r.msgs {
		if m.MessageType() == typ {
			out = append(out, m)
		}
	}
	return out
}

func (r *recorder) errors() []string {
	var out []string
	for _, m := range r.ofType(types.TypeError) {
		out = append(out, m.(types.Error).Str)
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	a      *Arbiter
	sim    *radio.Sim
	rec    *recorder
	clock  *fakeClock
	sleeps []time.Duration
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		sim:   radio.NewSim(radio.SimOptions{PayloadID: 99}),
		rec:   &recorder{},
		clock: &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
	}
	modem, err := radio.Preset(0)
	if err != nil {
		t.Fatalf("Preset: %v", err)
	}
	opts := Options{
		Device:      h.sim,
		Modem:       modem,
		Emitter:     h.rec,
		Frequency:   431.650,
		FreqMin:     430,
		FreqMax:     450,
		Destination: -1,
		Now:         h.clock.Now,
		Sleep: func(ctx context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return ctx.Err()
		},
		Rand: rand.New(rand.NewPCG(1, 2)),
	}
	if mutate != nil {
		mutate(&opts)
	}
	a, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.a = a
	return h
}

func (h *harness) step(t *testing.T) {
	t.Helper()
	if err := h.a.step(context.Background()); err != nil {
		t.Fatalf("step: %v", err)
	}
}

func TestNewValidatesOptions(t *testing.T) {
	modem, _ := radio.Preset(0)
	base := Options{Device: radio.NewSim(radio.SimOptions{}), Modem: modem, Emitter: &recorder{},
		Frequency: 431.650, FreqMin: 430, FreqMax: 450, Destination: -1}

	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr error
	}{
		{"ok", func(*Options) {}, nil},
		{"frequency below band", func(o *Options) { o.Frequency = 429 }, ErrInvalidFrequency},
		{"band edge is exclusive", func(o *Options) { o.Frequency = 450 }, ErrInvalidFrequency},
		{"bad destination", func(o *Options) { o.Destination = 256 }, ErrInvalidDestination},
		{"broadcast destination", func(o *Options) { o.Destination = 255 }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := base
			tt.mutate(&opts)
			_, err := New(opts)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("New() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestReservationTimesOut(t *testing.T) {
	h := newHarness(t, nil)

	if _, err := h.a.Reserve([]byte{7, 0, 3, 1, 2, 3}, 3, 15*time.Second); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if _, err := h.a.Reserve([]byte{1}, 3, time.Second); !errors.Is(err, ErrReservationFull) {
		t.Fatalf("second Reserve error = %v, want %v", err, ErrReservationFull)
	}

	// Telemetry from another payload keeps the reservation alive.
	h.sim.Inject(telemetryFrame(4, 0, 0), false)
	h.step(t)
	if _, ok := h.a.reservation.Peek(); !ok {
		t.Fatal("reservation dropped before its deadline")
	}

	h.clock.Advance(16 * time.Second)
	h.step(t)

	errs := h.rec.errors()
	if len(errs) != 1 || errs[0] != "TX-after-RX packet timed-out." {
		t.Fatalf("errors = %q", errs)
	}
	if _, ok := h.a.reservation.Peek(); ok {
		t.Fatal("expired reservation still held")
	}
	if len(h.sim.Transmitted()) != 0 {
		t.Fatalf("transmitted %d frames, want 0", len(h.sim.Transmitted()))
	}
	if _, err := h.a.Reserve([]byte{1}, 3, time.Second); err != nil {
		t.Fatalf("Reserve after expiry: %v", err)
	}
}

func TestReservationReply(t *testing.T) {
	h := newHarness(t, nil)
	reply := []byte{2, 0, 3, 'a', 'b'}
	if _, err := h.a.Reserve(reply, 3, 15*time.Second); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	h.sim.Inject(telemetryFrame(3, 0, 0), false)
	h.step(t)

	sent := h.sim.Transmitted()
	if len(sent) != 1 || !bytes.Equal(sent[0], reply) {
		t.Fatalf("transmitted = %v, want [%v]", sent, reply)
	}
	if len(h.sleeps) == 0 || h.sleeps[len(h.sleeps)-1] != DefaultTiming.TxAfterRx {
		t.Errorf("sleeps = %v, want trailing %v", h.sleeps, DefaultTiming.TxAfterRx)
	}
	if _, ok := h.a.reservation.Peek(); ok {
		t.Error("reservation still held after reply")
	}
	if got := h.rec.ofType(types.TypeTxDone); len(got) != 1 {
		t.Errorf("TXDONE count = %d, want 1", len(got))
	}
	if h.sim.Mode() != radio.ModeRXContinuous {
		t.Errorf("mode after tx = %v, want rx", h.sim.Mode())
	}
}

func TestSlotLifecycle(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Callsign = "VK5QI"
		o.Destination = 5
	})
	lowPriority := packets.EncodeTextMessage("VK5QI", "hello", mustDest(t, 5))
	if err := h.a.StageLowPriority(LowPriorityUpdate{Payload: &lowPriority}); err != nil {
		t.Fatalf("StageLowPriority: %v", err)
	}

	// Slot zero opens: request a slot.
	h.sim.Inject(telemetryFrame(5, 0, 0), false)
	h.step(t)
	if got := h.a.state.Slots.Holdoff; got != 2 {
		t.Fatalf("holdoff after request = %d, want 2", got)
	}

	// Next slot-zero opening is skipped.
	h.sim.Inject(telemetryFrame(5, 0, 0), false)
	h.step(t)
	if got := h.a.state.Slots.Holdoff; got != 1 {
		t.Fatalf("holdoff after tick = %d, want 1", got)
	}

	// The payload grants slot 2.
	h.sim.Inject(packets.EncodeSlotResponse(mustDest(t, 5), "VK5QI", 2), false)
	h.step(t)
	if got := h.a.state.Slots.Slot; got != 2 {
		t.Fatalf("slot = %d, want 2", got)
	}

	// Not our slot yet, then our slot.
	h.sim.Inject(telemetryFrame(5, 4, 1), false)
	h.step(t)
	h.sim.Inject(telemetryFrame(5, 4, 2), false)
	h.step(t)

	sent := h.sim.Transmitted()
	if len(sent) != 2 {
		t.Fatalf("transmitted %d frames, want 2", len(sent))
	}
	if typ, _ := packets.DecodeType(sent[0]); typ != packets.TypeSlotRequest {
		t.Errorf("first frame type = %v, want slot request", typ)
	}
	if !bytes.Equal(sent[1], lowPriority) {
		t.Errorf("second frame = %v, want low priority frame", sent[1])
	}

	// The payload rebooted and reports fewer slots.
	h.sim.Inject(telemetryFrame(5, 1, 0), false)
	h.step(t)
	if h.a.state.Slots.Assigned() {
		t.Fatal("slot kept after payload reset")
	}
	if len(h.sim.Transmitted()) != 2 {
		t.Fatal("release should not transmit")
	}
}

func TestSlotContention(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Callsign = "VK5QI"
		o.Destination = 5
	})
	h.sim.Inject(packets.EncodeSlotResponse(mustDest(t, 5), "VK3ABC", 1), false)
	h.step(t)
	if got := h.a.state.Slots.Holdoff; got < 1 || got > 3 {
		t.Fatalf("holdoff = %d, want 1..3", got)
	}
	if h.a.state.Slots.Assigned() {
		t.Fatal("adopted a slot granted to another station")
	}
}

func TestCRCErrorPublishedButIgnored(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.a.Reserve([]byte{1}, 3, time.Minute); err != nil {
		t.Fatal(err)
	}
	h.sim.Inject(telemetryFrame(3, 0, 0), true)
	h.step(t)

	rx := h.rec.ofType(types.TypeRxPacket)
	if len(rx) != 1 {
		t.Fatalf("RXPKT count = %d, want 1", len(rx))
	}
	if got := rx[0].(types.RxPacket).PktFlags.CRCError; got != 1 {
		t.Errorf("crc_error = %d, want 1", got)
	}
	if len(h.sim.Transmitted()) != 0 {
		t.Error("transmitted in reply to a corrupt frame")
	}
}

func TestQueueBackpressure(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.TxQueueSize = 2
		o.SettingsQueueSize = 1
	})
	for i := range 2 {
		n, err := h.a.Enqueue([]byte{byte(i)})
		if err != nil || n != i+1 {
			t.Fatalf("Enqueue %d = %d, %v", i, n, err)
		}
	}
	if _, err := h.a.Enqueue([]byte{9}); !errors.Is(err, ErrTxQueueFull) {
		t.Fatalf("Enqueue on full queue error = %v", err)
	}
	if got := h.a.QueueSize(); got != 2 {
		t.Fatalf("QueueSize = %d, want 2", got)
	}

	if err := h.a.StageFrequency(434); err != nil {
		t.Fatal(err)
	}
	if err := h.a.StageFrequency(435); !errors.Is(err, ErrSettingsQueueFull) {
		t.Fatalf("StageFrequency on full queue error = %v", err)
	}

	// Oldest frames survive and go out in order.
	h.step(t)
	h.step(t)
	sent := h.sim.Transmitted()
	if len(sent) != 2 || sent[0][0] != 0 || sent[1][0] != 1 {
		t.Fatalf("transmitted = %v", sent)
	}
}

func TestEmptyPayloadRefused(t *testing.T) {
	h := newHarness(t, nil)
	for _, p := range [][]byte{nil, {}} {
		if _, err := h.a.Enqueue(p); !errors.Is(err, ErrEmptyPayload) {
			t.Errorf("Enqueue(%v) error = %v", p, err)
		}
		if _, err := h.a.Reserve(p, 3, time.Minute); !errors.Is(err, ErrEmptyPayload) {
			t.Errorf("Reserve(%v) error = %v", p, err)
		}
	}
	if got := h.a.QueueSize(); got != 0 {
		t.Fatalf("QueueSize = %d, want 0", got)
	}
	h.step(t)
	if n := len(h.sim.Transmitted()); n != 0 {
		t.Fatalf("transmitted %d frames, want 0", n)
	}
	if n := len(h.rec.ofType(types.TypeTxDone)); n != 0 {
		t.Fatalf("emitted %d TXDONE, want 0", n)
	}
}

func TestChannelSensing(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.SenseChecks = 2 })
	h.sim.SetBusy(true)
	if _, err := h.a.Enqueue([]byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	h.step(t)
	if len(h.sim.Transmitted()) != 0 || h.a.QueueSize() != 1 {
		t.Fatal("sent on a busy channel")
	}

	h.sim.SetBusy(false)
	h.step(t)
	if len(h.sim.Transmitted()) != 1 || h.a.QueueSize() != 0 {
		t.Fatal("frame not sent once the channel cleared")
	}
	for _, d := range h.sleeps {
		if d < 0 || d >= maxSenseJitter {
			t.Errorf("jitter %v outside [0, %v)", d, maxSenseJitter)
		}
	}
}

func TestTransmitClipsFrame(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.a.Enqueue(bytes.Repeat([]byte{0xAA}, 300)); err != nil {
		t.Fatal(err)
	}
	h.step(t)
	sent := h.sim.Transmitted()
	if len(sent) != 1 {
		t.Fatalf("transmitted %d frames, want 1", len(sent))
	}
	if len(sent[0]) != packets.MaxPayloadLength {
		t.Fatalf("frame length = %d, want %d", len(sent[0]), packets.MaxPayloadLength)
	}
	done := h.rec.ofType(types.TypeTxDone)
	if len(done) != 1 || len(done[0].(types.TxDone).Payload) != packets.MaxPayloadLength {
		t.Fatal("TXDONE does not carry the clipped frame")
	}
}

func TestFrequencyChange(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.a.StageFrequency(434.0); err != nil {
		t.Fatal(err)
	}
	h.step(t)
	if got := h.sim.Frequency(); got != 434.0 {
		t.Fatalf("device frequency = %v, want 434", got)
	}
	if h.sim.Mode() != radio.ModeRXContinuous {
		t.Fatalf("mode = %v, want rx", h.sim.Mode())
	}

	if err := h.a.StageFrequency(460.0); err != nil {
		t.Fatal(err)
	}
	h.step(t)
	if got := h.sim.Frequency(); got != 434.0 {
		t.Fatalf("device frequency = %v after invalid change", got)
	}
	if errs := h.rec.errors(); len(errs) != 1 || errs[0] != "Invalid operating frequency." {
		t.Fatalf("errors = %q", errs)
	}
}

func TestLowPriorityUpdate(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Callsign = "VK5QI" })
	h.a.state.Slots.Adopt(3)

	bad := 300
	if err := h.a.StageLowPriority(LowPriorityUpdate{Destination: &bad}); !errors.Is(err, ErrInvalidDestination) {
		t.Fatalf("error = %v, want %v", err, ErrInvalidDestination)
	}

	blank := "blank"
	dest := 7
	if err := h.a.StageLowPriority(LowPriorityUpdate{Callsign: &blank, Destination: &dest, Reset: true}); err != nil {
		t.Fatal(err)
	}
	h.step(t)
	st := h.a.state
	if st.Callsign != "" {
		t.Errorf("callsign = %q, want unset", st.Callsign)
	}
	if st.UplinkDestination() != 7 {
		t.Errorf("destination = %d, want 7", st.UplinkDestination())
	}
	if st.Slots.Assigned() || st.Slots.Holdoff != 0 {
		t.Errorf("slots = %+v after reset", st.Slots)
	}

	unset := -1
	if err := h.a.StageLowPriority(LowPriorityUpdate{Destination: &unset}); err != nil {
		t.Fatal(err)
	}
	h.step(t)
	if got := h.a.state.UplinkDestination(); got != -1 {
		t.Errorf("destination = %d, want -1", got)
	}
}

func TestStatusThrottle(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.StatusThrottle = 3
		o.Callsign = "VK5QI"
		o.Destination = 5
	})
	for range 7 {
		h.step(t)
	}
	statuses := h.rec.ofType(types.TypeStatus)
	if len(statuses) != 2 {
		t.Fatalf("STATUS count = %d, want 2", len(statuses))
	}
	st := statuses[0].(types.Status)
	if st.Frequency != 431.650 || st.UplinkCallsign != "VK5QI" || st.UplinkDestination != 5 || st.UplinkSlotID != -1 {
		t.Errorf("status = %+v", st)
	}
	if st.Timestamp != "2024-05-01T10:00:00.000000" {
		t.Errorf("timestamp = %q", st.Timestamp)
	}
}

func TestRunSleepsRadioOnShutdown(t *testing.T) {
	sim := radio.NewSim(radio.SimOptions{})
	modem, _ := radio.Preset(1)
	a, err := New(Options{
		Device: sim, Modem: modem, Emitter: &recorder{},
		Frequency: 431.650, FreqMin: 430, FreqMax: 450, Destination: -1,
		PollInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !a.LastPoll().IsZero() {
		t.Fatal("LastPoll set before Run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := a.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sim.Mode() != radio.ModeSleep {
		t.Errorf("mode after Run = %v, want sleep", sim.Mode())
	}
	if a.LastPoll().IsZero() {
		t.Error("LastPoll not updated")
	}
}
