package usbd

import (
	"errors"
	"strings"
	"testing"

	"github.com/ardnew/cdcuart/pkg"
)

func TestParseSetupPacket(t *testing.T) {
	data := []byte{0xA1, 0x21, 0x34, 0x12, 0x02, 0x00, 0x07, 0x00}
	var s SetupPacket
	if err := ParseSetupPacket(data, &s); err != nil {
		t.Fatal(err)
	}
	want := SetupPacket{RequestType: 0xA1, Request: 0x21, Value: 0x1234, Index: 2, Length: 7}
	if s != want {
		t.Errorf("parsed %+v, want %+v", s, want)
	}
	if !s.IsDeviceToHost() || s.Type() != RequestTypeClass || s.Recipient() != RequestRecipientInterface {
		t.Errorf("field helpers disagree with 0xA1: dir=%v type=0x%02X recipient=0x%02X",
			s.IsDeviceToHost(), s.Type(), s.Recipient())
	}
	if s.InterfaceNumber() != 2 {
		t.Errorf("InterfaceNumber() = %d", s.InterfaceNumber())
	}

	var buf [SetupPacketSize]byte
	if n := s.MarshalTo(buf[:]); n != SetupPacketSize || string(buf[:]) != string(data) {
		t.Errorf("MarshalTo = %d % X, want % X", n, buf, data)
	}
}

func TestParseSetupPacket_TooShort(t *testing.T) {
	var s SetupPacket
	if err := ParseSetupPacket(make([]byte, 7), &s); !errors.Is(err, pkg.ErrSetupPacketTooShort) {
		t.Errorf("error = %v, want ErrSetupPacketTooShort", err)
	}
	if n := s.MarshalTo(make([]byte, 7)); n != 0 {
		t.Errorf("MarshalTo short buffer = %d, want 0", n)
	}
}

func TestSetupBuilders(t *testing.T) {
	tests := []struct {
		name        string
		setup       SetupPacket
		requestType uint8
		request     uint8
		value       uint16
		length      uint16
	}{
		{"get device descriptor", GetDescriptorSetup(DescriptorTypeDevice, 0, 18), 0x80, RequestGetDescriptor, 0x0100, 18},
		{"get string 3", GetDescriptorSetup(DescriptorTypeString, 3, 255), 0x80, RequestGetDescriptor, 0x0303, 255},
		{"set address", SetAddressSetup(5), 0x00, RequestSetAddress, 5, 0},
		{"set configuration", SetConfigurationSetup(1), 0x00, RequestSetConfiguration, 1, 0},
		{"get configuration", GetConfigurationSetup(), 0x80, RequestGetConfiguration, 0, 1},
		{"class out", ClassInterfaceSetup(false, 0x22, 3, 0, 0), 0x21, 0x22, 3, 0},
		{"class in", ClassInterfaceSetup(true, 0x21, 0, 0, 7), 0xA1, 0x21, 0, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.setup
			if s.RequestType != tt.requestType || s.Request != tt.request ||
				s.Value != tt.value || s.Length != tt.length {
				t.Errorf("got %+v", s)
			}
		})
	}
}

func TestSetupPacket_String(t *testing.T) {
	s := ClassInterfaceSetup(true, 0x21, 0, 0, 7)
	str := s.String()
	for _, want := range []string{"IN", "Class", "0x21"} {
		if !strings.Contains(str, want) {
			t.Errorf("String() = %q, missing %q", str, want)
		}
	}
}
