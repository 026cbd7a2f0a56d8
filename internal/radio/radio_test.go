package radio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/projecthorus/horus-utils/internal/packets"
)

func TestPreset(t *testing.T) {
	tests := []struct {
		mode   int
		bw     Bandwidth
		sf     SpreadFactor
		ldro   bool
		settle time.Duration
	}{
		{mode: 0, bw: BW125k, sf: 10, ldro: true, settle: 500 * time.Millisecond},
		{mode: 1, bw: BW125k, sf: 8, ldro: true, settle: 1200 * time.Millisecond},
		{mode: 2, bw: BW250k, sf: 7, ldro: false, settle: 400 * time.Millisecond},
	}
	for _, tt := range tests {
		cfg, err := Preset(tt.mode)
		if err != nil {
			t.Fatalf("Preset(%d): %v", tt.mode, err)
		}
		if cfg.Bandwidth != tt.bw || cfg.SpreadFactor != tt.sf || cfg.LDRO != tt.ldro || cfg.TxSettle != tt.settle {
			t.Errorf("Preset(%d) = %+v", tt.mode, cfg)
		}
		if cfg.CodingRate != CR4_8 || !cfg.CRC {
			t.Errorf("Preset(%d) coding rate/crc = %v/%v", tt.mode, cfg.CodingRate, cfg.CRC)
		}
	}
	if _, err := Preset(3); err == nil {
		t.Error("Preset(3) error = nil, want error")
	}
}

func TestTimeOnAir(t *testing.T) {
	slow, _ := Preset(0)
	fast, _ := Preset(2)

	got := slow.TimeOnAir(26)
	if got < 600*time.Millisecond || got > 700*time.Millisecond {
		t.Errorf("slow TimeOnAir(26) = %v, want ~630ms", got)
	}
	if fast.TimeOnAir(26) >= got {
		t.Errorf("fast mode airtime %v not shorter than slow %v", fast.TimeOnAir(26), got)
	}
	if slow.TimeOnAir(255) <= got {
		t.Error("longer frame should take longer")
	}
	if slow.TxTimeout(26) <= slow.TxSettle+got {
		t.Errorf("TxTimeout(26) = %v too small", slow.TxTimeout(26))
	}
	if (ModemConfig{}).TimeOnAir(10) != 0 {
		t.Error("zero config should give zero airtime")
	}
}

func TestParseRegisters(t *testing.T) {
	st := ParseModemStatus(0x01)
	if !st.Busy() || st.ModemClear != 0 {
		t.Errorf("ParseModemStatus(0x01) = %+v", st)
	}
	flags := ParseIRQFlags(0x60)
	if flags.RxDone != 1 || flags.CRCError != 1 || flags.CRCOK() {
		t.Errorf("ParseIRQFlags(0x60) = %+v", flags)
	}
	if !ParseIRQFlags(0x40).CRCOK() {
		t.Error("ParseIRQFlags(0x40) should be CRC ok")
	}
}

func TestFreqErrorHz(t *testing.T) {
	if got := FreqErrorHz(0); got != 0 {
		t.Errorf("FreqErrorHz(0) = %d, want 0", got)
	}
	// 1000 * 2^24 / 32e6 * 0.25 = 131.072
	if got := FreqErrorHz(1000); got != -131 {
		t.Errorf("FreqErrorHz(1000) = %d, want -131", got)
	}
}

func TestOpen(t *testing.T) {
	dev, err := Open("sim", SimOptions{PayloadID: 1})
	if err != nil {
		t.Fatalf("Open(sim): %v", err)
	}
	if _, ok := dev.(*Sim); !ok {
		t.Fatalf("Open(sim) = %T, want *Sim", dev)
	}
	if _, err := Open("spi", SimOptions{}); !errors.Is(err, ErrUnknownDriver) {
		t.Errorf("Open(spi) err = %v, want ErrUnknownDriver", err)
	}
}

func receive(t *testing.T, s *Sim) ([]byte, IRQFlags) {
	t.Helper()
	ok, err := s.RxDone()
	if err != nil {
		t.Fatalf("RxDone: %v", err)
	}
	if !ok {
		t.Fatal("RxDone = false, want frame")
	}
	flags, _ := s.IRQFlags()
	b, err := s.ReadPayload()
	if err != nil {
		t.Fatalf("ReadPayload: %v", err)
	}
	return b, flags
}

func transmit(t *testing.T, s *Sim, frame []byte) {
	t.Helper()
	if err := s.WritePayload(frame); err != nil {
		t.Fatalf("WritePayload: %v", err)
	}
	if err := s.SetMode(ModeTX); err != nil {
		t.Fatalf("SetMode(TX): %v", err)
	}
	if err := s.AwaitTxComplete(context.Background(), time.Second); err != nil {
		t.Fatalf("AwaitTxComplete: %v", err)
	}
	if err := s.SetMode(ModeRXContinuous); err != nil {
		t.Fatalf("SetMode(RX): %v", err)
	}
}

func TestSim_BeaconAndSlotGrant(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := NewSim(SimOptions{PayloadID: 5, Period: time.Second, Now: func() time.Time { return now }})
	cfg, _ := Preset(0)
	if err := s.Configure(cfg, 431.65); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	if ok, _ := s.RxDone(); ok {
		t.Fatal("RxDone outside RX mode should be false")
	}
	_ = s.SetMode(ModeRXContinuous)

	b, flags := receive(t, s)
	if !flags.CRCOK() {
		t.Fatal("beacon should be CRC ok")
	}
	tel, err := packets.DecodeTelemetry(b)
	if err != nil {
		t.Fatalf("DecodeTelemetry: %v", err)
	}
	if tel.PayloadID != 5 || tel.UsedTimeslots() != 0 || tel.CurrentTimeslot() != 0 {
		t.Errorf("first beacon = %+v", tel)
	}
	if tel.Time() != "03:04:05" {
		t.Errorf("beacon time = %q", tel.Time())
	}
	if ok, _ := s.RxDone(); ok {
		t.Fatal("second beacon before period elapsed")
	}

	dest, _ := packets.Specific(5)
	transmit(t, s, packets.EncodeSlotRequest(dest, "VK5QI"))

	b, _ = receive(t, s)
	resp, err := packets.DecodeSlotRequest(b)
	if err != nil {
		t.Fatalf("DecodeSlotRequest: %v", err)
	}
	if !resp.IsResponse() || resp.SlotID != 1 || resp.Callsign != "VK5QI" || resp.SourceID != 5 {
		t.Errorf("slot response = %+v", resp)
	}

	now = now.Add(time.Second)
	b, _ = receive(t, s)
	tel, _ = packets.DecodeTelemetry(b)
	if tel.UsedTimeslots() != 1 || tel.CurrentTimeslot() != 0 {
		t.Errorf("beacon after grant: used=%d current=%d, want 1/0", tel.UsedTimeslots(), tel.CurrentTimeslot())
	}

	now = now.Add(time.Second)
	b, _ = receive(t, s)
	tel, _ = packets.DecodeTelemetry(b)
	if tel.CurrentTimeslot() != 1 {
		t.Errorf("next beacon current slot = %d, want 1", tel.CurrentTimeslot())
	}

	if got := len(s.Transmitted()); got != 1 {
		t.Errorf("Transmitted = %d frames, want 1", got)
	}
}

func TestSim_InjectCRCError(t *testing.T) {
	s := NewSim(SimOptions{PayloadID: 1})
	_ = s.SetMode(ModeRXContinuous)
	s.Inject([]byte{0, 1, 2}, true)

	b, flags := receive(t, s)
	if flags.CRCOK() {
		t.Error("injected frame should carry a CRC error")
	}
	if len(b) != 3 {
		t.Errorf("payload = %v", b)
	}
	_ = s.ClearIRQFlags()
	if f, _ := s.IRQFlags(); f != (IRQFlags{}) {
		t.Errorf("flags after clear = %+v", f)
	}
}

func TestSim_CommandAck(t *testing.T) {
	s := NewSim(SimOptions{PayloadID: 2})
	_ = s.SetMode(ModeRXContinuous)
	dest, _ := packets.Specific(2)
	transmit(t, s, packets.EncodeCutdown(4, "abc", dest))

	b, _ := receive(t, s)
	ack, err := packets.DecodeCommandAck(b)
	if err != nil {
		t.Fatalf("DecodeCommandAck: %v", err)
	}
	if ack.PayloadID != 2 || ack.Command != packets.TypeCutdown || ack.Arg1 != 4 {
		t.Errorf("ack = %+v", ack)
	}
}

func TestSim_AwaitTxCompleteRequiresTX(t *testing.T) {
	s := NewSim(SimOptions{})
	if err := s.AwaitTxComplete(context.Background(), time.Second); !errors.Is(err, ErrNotTransmitting) {
		t.Errorf("AwaitTxComplete err = %v, want ErrNotTransmitting", err)
	}
}

func TestSim_Busy(t *testing.T) {
	s := NewSim(SimOptions{})
	s.SetBusy(true)
	st, _ := s.ModemStatus()
	if !st.Busy() {
		t.Error("ModemStatus should report a busy channel")
	}
	s.SetBusy(false)
	st, _ = s.ModemStatus()
	if st.Busy() {
		t.Error("ModemStatus should report a clear channel")
	}
}
