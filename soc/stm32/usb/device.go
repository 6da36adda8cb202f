// Application wiring surface
// https://github.com/tamago-stm32/tamago
//
// Copyright (c) The tamago-stm32 Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package usb

// Callbacks collects the application hooks a Controller invokes while
// servicing the bus. It replaces the reference implementation's pattern of
// optional C function pointers assigned onto the device struct
// (imx6/usb/device.go's Device.Device/Configuration/ConfigureEndpoint
// fields) with a Go struct of optional function fields, since Go has no
// weak symbols to leave a hook unimplemented.
//
// DeviceDescriptor, ConfigDescriptor and StringDescriptor are required:
// Init does not check for them, but GET_DESCRIPTOR falls back to a STALL
// (via handleSetup's default path) if they are nil when called. Every
// other field is optional and, left nil, causes the corresponding request
// or event to be silently ignored or rejected.
type Callbacks struct {
	// DeviceDescriptor returns the serialized device descriptor
	// (DeviceDescriptor.Bytes()).
	DeviceDescriptor func() []byte

	// ConfigDescriptor returns the serialized configuration descriptor,
	// including every interface and endpoint descriptor it owns
	// (ConfigurationDescriptor.Bytes()).
	ConfigDescriptor func() []byte

	// InterfaceDescriptor returns interface number itf's descriptor, or
	// nil if it does not exist. Used by GET_INTERFACE and
	// GET_STATUS(Interface) to validate the interface number;
	// SET_INTERFACE checks only bNumInterfaces.
	InterfaceDescriptor func(itf uint8) *InterfaceDescriptor

	// StringDescriptor returns the serialized string descriptor for the
	// given language ID (the request's wIndex) and string index (index 0
	// selects the language ID list itself, p273, USB Specification
	// Revision 2.0), or nil if it does not exist.
	StringDescriptor func(langID uint16, index uint8) []byte

	// DescriptorInterface handles a GET_DESCRIPTOR request whose
	// recipient is Interface (e.g. a class-specific HID report
	// descriptor), reporting whether it was handled. Left nil, such
	// requests STALL.
	DescriptorInterface func(setup *SetupData) bool

	// ClassRequest handles a class-specific control request, reporting
	// whether it was handled.
	ClassRequest func(setup *SetupData) bool

	// VendorRequest handles a vendor-specific control request, reporting
	// whether it was handled.
	VendorRequest func(setup *SetupData) bool

	// SetAddressHook is invoked when a SET_ADDRESS request is accepted,
	// before the address takes effect on the wire (§4.4/Property 3). It
	// does not gate acceptance; it is purely informational.
	SetAddressHook func(address uint8)

	// ResetHook, if set, is invoked twice per bus reset: once with
	// starting=true as RESET is recognized, and once with
	// starting=false after the core has reprogrammed EP0 and returned
	// to the Default state.
	ResetHook func(starting bool)

	// SuspendHook and ResumeHook are invoked on the corresponding bus
	// events (§4.4 SUSP/WKUP handling).
	SuspendHook func()
	ResumeHook  func()

	// OutEvent is invoked when a non-EP0 OUT packet has arrived in the
	// endpoint's slot, with the endpoint number and the received byte
	// count from COUNT_RX. The packet is not drained yet: the
	// application calls Read to copy it out and re-arm STAT_RX.
	OutEvent func(ept int, n uint16)

	// InEvent, if set, enables SOF-driven polling (§4.4): on every SOF
	// with STAT_TX idle (NAK), Task calls InEvent for one IN endpoint
	// per frame in round-robin order, giving the endpoint a chance to
	// supply fresh data via Write.
	InEvent func(ept int)
}
