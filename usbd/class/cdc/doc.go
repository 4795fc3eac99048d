// Package cdc implements the USB side of the serial bridge as a CDC-ACM
// function on a usbd.Stack.
//
// The control interface answers SET_CONTROL_LINE_STATE, SET_LINE_CODING
// and GET_LINE_CODING; every other class request is passed down the
// handler chain. GET_LINE_CODING always reports 115200 8N1 because the
// coding the host sets is recorded but not applied.
//
// The data interface moves bytes in whole packets. Bytes for the host are
// drained from the outbound ring buffer one packet per IN completion.
// Packets from the host are read into the inbound ring buffer only when it
// has room for a full packet, which is the bridge's flow control toward
// the host.
package cdc
