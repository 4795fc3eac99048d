package cdc

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/ardnew/cdcuart/pkg"
	"github.com/ardnew/cdcuart/ring"
	"github.com/ardnew/cdcuart/usbd"
	"github.com/ardnew/cdcuart/usbd/hal/sim"
)

type fixture struct {
	ctl     *sim.Controller
	stack   *usbd.Stack
	host    *sim.Host
	bridge  *Bridge
	tx      *ring.Buffer
	inbound *ring.Buffer
}

func newFixture(t *testing.T, inboundSize int) *fixture {
	t.Helper()
	f := &fixture{ctl: sim.New()}
	f.tx = ring.MustNew(make([]byte, 256))
	f.inbound = ring.MustNew(make([]byte, inboundSize))

	info := DeviceInfo{
		VendorID:     DefaultVendorID,
		ProductID:    DefaultProductID,
		Manufacturer: "Acme",
		Product:      "Serial Bridge",
	}
	f.stack = usbd.NewStack(f.ctl, Descriptors(info, DefaultEndpoints))
	f.bridge = New(f.stack, f.tx, DefaultEndpoints)
	f.tx.SetObserver(f.bridge)
	f.bridge.SetInbound(f.inbound)
	f.bridge.Register()
	if err := f.stack.Start(); err != nil {
		t.Fatal(err)
	}
	f.host = sim.NewHost(f.ctl, f.stack.Poll)
	if err := f.host.Enumerate(context.Background()); err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	return f
}

func (f *fixture) setDTR(t *testing.T, dtr bool) {
	t.Helper()
	if err := f.host.SetControlLineState(context.Background(), dtr, false); err != nil {
		t.Fatalf("SetControlLineState: %v", err)
	}
}

// receive takes the loaded IN packet and then polls so the bridge can load
// the next one.
func (f *fixture) receive() []byte {
	var buf [MaxPacketSize]byte
	n := f.host.ReceiveIn(buf[:])
	f.stack.Poll()
	return append([]byte(nil), buf[:n]...)
}

func TestBridge_Enumeration(t *testing.T) {
	f := newFixture(t, 256)

	if got := len(f.host.Configuration()); got != 67 {
		t.Errorf("configuration length = %d, want 67", got)
	}
	if f.host.OutEndpoint() != 0x01 || f.host.InEndpoint() != 0x81 || f.host.NotifyEndpoint() != 0x82 {
		t.Errorf("endpoints out=0x%02X in=0x%02X notify=0x%02X",
			f.host.OutEndpoint(), f.host.InEndpoint(), f.host.NotifyEndpoint())
	}
	dd := f.host.Device()
	if dd.VendorID != 0x1209 || dd.ProductID != 0x0001 || dd.DeviceClass != ClassCDC {
		t.Errorf("device descriptor %+v", dd)
	}
	serial, err := f.host.String(context.Background(), stringSerial)
	if err != nil {
		t.Fatal(err)
	}
	if len(serial) != 24 {
		t.Errorf("serial %q has %d characters, want 24", serial, len(serial))
	}
}

func TestBridge_GetLineCoding(t *testing.T) {
	f := newFixture(t, 256)

	got, err := f.host.GetLineCoding(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x00, 0xC2, 0x01, 0x00, 0x00, 0x00, 0x08}
	if !bytes.Equal(got, want) {
		t.Errorf("GET_LINE_CODING = % X, want % X", got, want)
	}
}

func TestBridge_GetLineCodingShort(t *testing.T) {
	f := newFixture(t, 256)
	_, err := f.host.Control(context.Background(),
		usbd.ClassInterfaceSetup(true, RequestGetLineCoding, 0, InterfaceComm, 6), nil)
	if !errors.Is(err, pkg.ErrStall) {
		t.Errorf("error = %v, want ErrStall", err)
	}
}

func TestBridge_SetLineCoding(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr bool
	}{
		{"9600 7E2", []byte{0x80, 0x25, 0x00, 0x00, 0x02, 0x02, 0x07}, false},
		{"six bytes", []byte{0x80, 0x25, 0x00, 0x00, 0x00, 0x00}, true},
		{"eight bytes", []byte{0x80, 0x25, 0x00, 0x00, 0x00, 0x00, 0x08, 0x00}, true},
		{"empty", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 256)
			var seen []LineCoding
			f.bridge.SetOnLineCoding(func(lc LineCoding) { seen = append(seen, lc) })

			err := f.host.SetLineCoding(context.Background(), tt.data)
			if tt.wantErr {
				if !errors.Is(err, pkg.ErrStall) {
					t.Errorf("error = %v, want ErrStall", err)
				}
				if len(seen) != 0 || f.bridge.LineCoding() != DefaultLineCoding {
					t.Error("rejected coding was recorded")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			want := LineCoding{DTERate: 9600, CharFormat: StopBits2, ParityType: ParityEven, DataBits: 7}
			if got := f.bridge.LineCoding(); got != want {
				t.Errorf("LineCoding() = %v, want %v", got, want)
			}
			if len(seen) != 1 || seen[0] != want {
				t.Errorf("callback saw %v", seen)
			}

			// the report stays canned
			got, err := f.host.GetLineCoding(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if got[0] != 0x00 || got[1] != 0xC2 || got[2] != 0x01 {
				t.Errorf("GET_LINE_CODING after SET = % X", got)
			}
		})
	}
}

func TestBridge_DeclinedRequests(t *testing.T) {
	tests := []struct {
		name  string
		setup usbd.SetupPacket
	}{
		{"send break", usbd.ClassInterfaceSetup(false, RequestSendBreak, 100, InterfaceComm, 0)},
		{"unknown class request", usbd.ClassInterfaceSetup(false, 0x02, 0, InterfaceComm, 0)},
		{"data interface", usbd.ClassInterfaceSetup(false, RequestSetControlLineState, 1, InterfaceData, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 256)
			if _, err := f.host.Control(context.Background(), tt.setup, nil); !errors.Is(err, pkg.ErrStall) {
				t.Errorf("error = %v, want ErrStall", err)
			}
			if f.bridge.DTR() {
				t.Error("declined request changed DTR")
			}
		})
	}
}

func TestBridge_ControlLineState(t *testing.T) {
	f := newFixture(t, 256)
	type change struct{ dtr, rts bool }
	var changes []change
	f.bridge.SetOnControlStateChange(func(dtr, rts bool) { changes = append(changes, change{dtr, rts}) })

	if err := f.host.SetControlLineState(context.Background(), true, true); err != nil {
		t.Fatal(err)
	}
	if !f.bridge.DTR() || !f.bridge.RTS() {
		t.Errorf("DTR=%v RTS=%v, want both set", f.bridge.DTR(), f.bridge.RTS())
	}
	if err := f.host.SetControlLineState(context.Background(), false, true); err != nil {
		t.Fatal(err)
	}
	if f.bridge.DTR() || !f.bridge.RTS() {
		t.Errorf("DTR=%v RTS=%v, want RTS only", f.bridge.DTR(), f.bridge.RTS())
	}
	want := []change{{true, true}, {false, true}}
	if len(changes) != len(want) || changes[0] != want[0] || changes[1] != want[1] {
		t.Errorf("callbacks = %v, want %v", changes, want)
	}
}

func TestBridge_DTRGatesAdmission(t *testing.T) {
	f := newFixture(t, 256)

	if n := f.bridge.Write([]byte("lost")); n != 0 {
		t.Errorf("Write with DTR low = %d, want 0", n)
	}
	// a producer writing the ring directly is flushed by the observer
	f.tx.Write([]byte("also lost"))
	if !f.tx.IsEmpty() {
		t.Errorf("outbound holds %d bytes with DTR low", f.tx.Count())
	}
	if f.bridge.Stats().Flushes != 1 {
		t.Errorf("flushes = %d, want 1", f.bridge.Stats().Flushes)
	}
	f.stack.Poll()
	if got := f.receive(); len(got) != 0 {
		t.Errorf("host received %q with DTR low", got)
	}

	f.setDTR(t, true)
	if n := f.bridge.Write([]byte("hello")); n != 5 {
		t.Fatalf("Write with DTR high = %d, want 5", n)
	}
	if !f.bridge.TxActive() {
		t.Error("transmitter idle after write")
	}
	if got := f.receive(); string(got) != "hello" {
		t.Errorf("host received %q, want %q", got, "hello")
	}
	if f.bridge.TxActive() {
		t.Error("transmitter active after draining")
	}
}

func TestBridge_PacketChunks(t *testing.T) {
	f := newFixture(t, 256)
	f.setDTR(t, true)

	data := make([]byte, 150)
	for i := range data {
		data[i] = byte(i)
	}
	if n := f.bridge.Write(data); n != len(data) {
		t.Fatalf("Write = %d", n)
	}

	var got []byte
	var sizes []int
	for i := 0; i < 5; i++ {
		p := f.receive()
		if len(p) == 0 {
			break
		}
		sizes = append(sizes, len(p))
		got = append(got, p...)
	}
	if len(sizes) != 3 || sizes[0] != 64 || sizes[1] != 64 || sizes[2] != 22 {
		t.Errorf("packet sizes = %v, want [64 64 22]", sizes)
	}
	if !bytes.Equal(got, data) {
		t.Error("received data differs from written data")
	}
	if st := f.bridge.Stats(); st.TxBytes != 150 {
		t.Errorf("TxBytes = %d, want 150", st.TxBytes)
	}
}

func TestBridge_FlushOnDTRDrop(t *testing.T) {
	f := newFixture(t, 256)
	f.setDTR(t, true)

	f.bridge.Write(make([]byte, 150))
	if got := f.tx.Count(); got != 86 {
		t.Fatalf("outbound count = %d, want 86 behind the first packet", got)
	}

	f.setDTR(t, false)
	if !f.tx.IsEmpty() {
		t.Errorf("outbound holds %d bytes after DTR dropped", f.tx.Count())
	}

	// the packet already on the bus still completes, then nothing follows
	if got := f.receive(); len(got) != 64 {
		t.Errorf("in-flight packet = %d bytes, want 64", len(got))
	}
	if got := f.receive(); len(got) != 0 {
		t.Errorf("host received %d bytes after the flush", len(got))
	}
	if f.bridge.TxActive() {
		t.Error("transmitter still active")
	}

	// reattaching starts clean
	f.setDTR(t, true)
	f.bridge.Write([]byte("fresh"))
	if got := f.receive(); string(got) != "fresh" {
		t.Errorf("after reconnect host received %q", got)
	}
}

func TestBridge_RxBackpressure(t *testing.T) {
	f := newFixture(t, 128) // 127 usable

	f.inbound.Write(make([]byte, 100))
	packet := bytes.Repeat([]byte{0xAA}, 64)
	if !f.host.SendOut(packet) {
		t.Fatal("host could not send the first packet")
	}

	for i := 0; i < 3; i++ {
		f.stack.Poll()
	}
	if got := f.inbound.Free(); got != 27 {
		t.Errorf("inbound free = %d, want 27 (packet must not be consumed)", got)
	}
	if !f.host.PendingOut() {
		t.Error("packet acknowledged while the inbound buffer lacked space")
	}
	if f.host.SendOut(packet) {
		t.Error("second packet accepted while the first is NAKed")
	}
	if st := f.bridge.Stats(); st.RxDeferred != 3 || st.RxBytes != 0 {
		t.Errorf("stats = %+v, want 3 deferrals and no bytes", st)
	}

	// make room for one packet
	f.inbound.Read(make([]byte, 40))
	f.stack.Poll()
	if f.host.PendingOut() {
		t.Error("packet still pending with room available")
	}
	if got := f.inbound.Count(); got != 124 {
		t.Errorf("inbound count = %d, want 124", got)
	}
	if st := f.bridge.Stats(); st.RxBytes != 64 {
		t.Errorf("RxBytes = %d, want 64", st.RxBytes)
	}
}

func TestBridge_RxFeedsInbound(t *testing.T) {
	f := newFixture(t, 256)
	woke := 0
	f.inbound.SetObserver(ring.ObserverFunc(func() { woke++ }))

	for _, s := range []string{"ab", "cd", "ef"} {
		if !f.host.SendOut([]byte(s)) {
			t.Fatalf("SendOut(%q) refused", s)
		}
		f.stack.Poll()
	}
	got := make([]byte, 6)
	f.inbound.Read(got)
	if string(got) != "abcdef" {
		t.Errorf("inbound = %q", got)
	}
	if woke != 3 {
		t.Errorf("inbound observer fired %d times, want 3", woke)
	}
}

func TestBridge_ResetDropsTerminal(t *testing.T) {
	f := newFixture(t, 256)
	f.setDTR(t, true)
	f.bridge.Write(make([]byte, 100))

	if err := f.host.Enumerate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.bridge.DTR() || f.bridge.TxActive() || !f.tx.IsEmpty() {
		t.Errorf("after reset DTR=%v active=%v count=%d", f.bridge.DTR(), f.bridge.TxActive(), f.tx.Count())
	}
}

func TestLineCoding_String(t *testing.T) {
	tests := []struct {
		lc   LineCoding
		want string
	}{
		{DefaultLineCoding, "115200-8N1"},
		{LineCoding{DTERate: 9600, CharFormat: StopBits2, ParityType: ParityEven, DataBits: 7}, "9600-7E2"},
		{LineCoding{DTERate: 300, CharFormat: StopBits1_5, ParityType: ParityMark, DataBits: 5}, "300-5M1.5"},
	}
	for _, tt := range tests {
		if got := tt.lc.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestSerialNumber(t *testing.T) {
	a, b := SerialNumber(), SerialNumber()
	if a == b {
		t.Error("serial numbers repeat")
	}
	for _, c := range a {
		if !(c >= '0' && c <= '9' || c >= 'A' && c <= 'F') {
			t.Fatalf("serial %q is not upper-case hex", a)
		}
	}
	if len(a) != 24 {
		t.Errorf("serial %q length %d", a, len(a))
	}
}
