// Package usbd is a small polled USB device engine.
//
// A Stack owns a hal.Controller and a fixed descriptor set. Each call to
// Poll services at most one bus event (reset or SETUP) and then runs the
// callbacks of the active data endpoints:
//
//	stack := usbd.NewStack(ctl, desc)
//	stack.RegisterControlHandler(usbd.RequestTypeClass|usbd.RequestRecipientInterface,
//		usbd.RequestTypeTypeMask|usbd.RequestTypeRecipientMask, handler)
//	stack.OnSetConfiguration(func(value uint16) { ... stack.SetupEndpoint(...) })
//	stack.Start()
//	for {
//		stack.Poll()
//	}
//
// Standard requests (GET_DESCRIPTOR, SET_ADDRESS, SET/GET_CONFIGURATION,
// GET_STATUS and the interface/feature requests) are answered by the
// stack. Everything else is offered to the registered handlers in order;
// a handler returning RequestNext passes it on and an exhausted chain
// stalls the request.
//
// OUT endpoints are flow controlled by omission: an OUT callback that
// declines to call ReadPacket leaves the packet in the controller, the
// host is NAKed and the callback fires again on the next poll.
package usbd
