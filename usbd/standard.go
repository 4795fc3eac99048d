package usbd

import "github.com/ardnew/cdcuart/pkg"

// handleStandard answers the standard requests a CDC-ACM device needs.
// Requests it does not recognize return RequestNext so a registered
// handler may take them.
func (s *Stack) handleStandard(setup *SetupPacket, resp []byte) (int, RequestResult) {
	switch setup.Request {
	case RequestGetDescriptor:
		if setup.Recipient() != RequestRecipientDevice {
			return 0, RequestNext
		}
		return s.getDescriptor(setup, resp)

	case RequestSetAddress:
		if setup.Value > 127 {
			return 0, RequestNotSupported
		}
		s.pendingAddress = uint8(setup.Value)
		return 0, RequestHandled

	case RequestSetConfiguration:
		return s.setConfiguration(uint8(setup.Value))

	case RequestGetConfiguration:
		if len(resp) < 1 {
			return 0, RequestNotSupported
		}
		resp[0] = s.Configuration()
		return 1, RequestHandled

	case RequestGetStatus:
		// bus powered, no remote wakeup, no halted endpoints
		if len(resp) < 2 {
			return 0, RequestNotSupported
		}
		resp[0], resp[1] = 0, 0
		return 2, RequestHandled

	case RequestClearFeature, RequestSetFeature:
		if setup.Recipient() == RequestRecipientEndpoint {
			return 0, RequestHandled
		}
		return 0, RequestNotSupported

	case RequestGetInterface:
		if len(resp) < 1 || !s.Configured() {
			return 0, RequestNotSupported
		}
		resp[0] = 0
		return 1, RequestHandled

	case RequestSetInterface:
		if setup.Value != 0 || !s.Configured() {
			return 0, RequestNotSupported
		}
		return 0, RequestHandled

	default:
		return 0, RequestNext
	}
}

func (s *Stack) getDescriptor(setup *SetupPacket, resp []byte) (int, RequestResult) {
	switch setup.DescriptorType() {
	case DescriptorTypeDevice:
		if len(s.desc.Device) == 0 {
			return 0, RequestNotSupported
		}
		return copy(resp, s.desc.Device), RequestHandled

	case DescriptorTypeConfiguration:
		if setup.DescriptorIndex() != 0 || len(s.desc.Configuration) == 0 {
			return 0, RequestNotSupported
		}
		return copy(resp, s.desc.Configuration), RequestHandled

	case DescriptorTypeString:
		var buf [255]byte
		var n int
		idx := int(setup.DescriptorIndex())
		switch {
		case idx == 0:
			n = LanguageDescriptorTo(buf[:], LangIDUSEnglish)
		case idx <= len(s.desc.Strings):
			n = StringDescriptorTo(buf[:], s.desc.Strings[idx-1])
		default:
			return 0, RequestNotSupported
		}
		return copy(resp, buf[:n]), RequestHandled

	default:
		// device qualifier and friends: a full-speed device stalls them
		return 0, RequestNotSupported
	}
}

func (s *Stack) setConfiguration(value uint8) (int, RequestResult) {
	if value == 0 {
		s.deconfigure()
		pkg.LogDebug(pkg.ComponentUSB, "device deconfigured")
		return 0, RequestHandled
	}
	if len(s.desc.Configuration) < ConfigurationDescriptorSize || value != s.desc.Configuration[5] {
		return 0, RequestNotSupported
	}
	if s.Configured() {
		// reselecting resets the endpoints
		s.deconfigure()
	}
	s.config.Store(uint32(value))
	if s.onSetConfig != nil {
		s.onSetConfig(uint16(value))
	}
	pkg.LogInfo(pkg.ComponentUSB, "device configured", "configuration", value)
	return 0, RequestHandled
}
