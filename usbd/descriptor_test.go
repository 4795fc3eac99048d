package usbd

import (
	"errors"
	"testing"

	"github.com/ardnew/cdcuart/pkg"
)

func TestDeviceDescriptor_RoundTrip(t *testing.T) {
	in := DeviceDescriptor{
		USBVersion:        0x0200,
		DeviceClass:       0x02,
		MaxPacketSize0:    64,
		VendorID:          0x1209,
		ProductID:         0x0001,
		DeviceVersion:     0x0100,
		ManufacturerIndex: 1,
		ProductIndex:      2,
		SerialNumberIndex: 3,
		NumConfigurations: 1,
	}
	buf := make([]byte, DeviceDescriptorSize)
	if n := in.MarshalTo(buf); n != DeviceDescriptorSize {
		t.Fatalf("MarshalTo = %d", n)
	}
	if buf[0] != 18 || buf[1] != DescriptorTypeDevice || buf[8] != 0x09 || buf[9] != 0x12 {
		t.Errorf("encoded % X", buf)
	}
	var out DeviceDescriptor
	if err := ParseDeviceDescriptor(buf, &out); err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Errorf("parsed %+v, want %+v", out, in)
	}
}

func TestParseDeviceDescriptor_Errors(t *testing.T) {
	var out DeviceDescriptor
	if err := ParseDeviceDescriptor(make([]byte, 10), &out); !errors.Is(err, pkg.ErrBufferTooSmall) {
		t.Errorf("short: %v", err)
	}
	bad := make([]byte, DeviceDescriptorSize)
	bad[1] = DescriptorTypeConfiguration
	if err := ParseDeviceDescriptor(bad, &out); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("wrong type: %v", err)
	}
}

func TestConfigBuilder(t *testing.T) {
	cfg := NewConfigBuilder(1, 0, 50).
		Interface(0, 1, 0x02, 0x02, 0x01).
		Raw([]byte{5, 0x24, 0x00, 0x10, 0x01}).
		Endpoint(0x82, 0x03, 16, 255).
		Interface(1, 0, 0x0A, 0, 0).
		Bytes()

	wantLen := 9 + 9 + 5 + 7 + 9
	if len(cfg) != wantLen {
		t.Fatalf("length = %d, want %d", len(cfg), wantLen)
	}
	if total := int(cfg[2]) | int(cfg[3])<<8; total != wantLen {
		t.Errorf("wTotalLength = %d, want %d", total, wantLen)
	}
	if cfg[4] != 2 {
		t.Errorf("bNumInterfaces = %d, want 2", cfg[4])
	}
	if cfg[7]&ConfigAttrBusPowered == 0 || cfg[8] != 50 {
		t.Errorf("attributes 0x%02X power %d", cfg[7], cfg[8])
	}

	var types []uint8
	WalkDescriptors(cfg, func(typ uint8, d []byte) bool {
		types = append(types, typ)
		return true
	})
	want := []uint8{DescriptorTypeConfiguration, DescriptorTypeInterface, 0x24, DescriptorTypeEndpoint, DescriptorTypeInterface}
	if len(types) != len(want) {
		t.Fatalf("walked %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("descriptor %d type 0x%02X, want 0x%02X", i, types[i], want[i])
		}
	}
}

func TestWalkDescriptors_Truncated(t *testing.T) {
	count := 0
	WalkDescriptors([]byte{9, 2, 0, 0, 0, 0, 0, 0, 0, 7, 5, 1}, func(uint8, []byte) bool {
		count++
		return true
	})
	if count != 1 {
		t.Errorf("walked %d descriptors, want 1", count)
	}
}

func TestStringDescriptor(t *testing.T) {
	tests := []string{"", "cdcuart", "Zürich", "0123456789ABCDEF01234567"}
	for _, s := range tests {
		t.Run(s, func(t *testing.T) {
			var buf [255]byte
			n := StringDescriptorTo(buf[:], s)
			if n < 2 || buf[1] != DescriptorTypeString || int(buf[0]) != n {
				t.Fatalf("header % X, n=%d", buf[:2], n)
			}
			got, err := ParseStringDescriptor(buf[:n])
			if err != nil {
				t.Fatal(err)
			}
			if got != s {
				t.Errorf("decoded %q, want %q", got, s)
			}
		})
	}
}

func TestStringDescriptor_SmallBuffer(t *testing.T) {
	if n := StringDescriptorTo(make([]byte, 4), "hello"); n != 0 {
		t.Errorf("StringDescriptorTo = %d, want 0", n)
	}
	if n := LanguageDescriptorTo(make([]byte, 3), LangIDUSEnglish); n != 0 {
		t.Errorf("LanguageDescriptorTo = %d, want 0", n)
	}
}
