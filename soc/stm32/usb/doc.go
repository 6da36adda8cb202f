// USB Full-Speed device core
// https://github.com/tamago-stm32/tamago
//
// Copyright (c) The tamago-stm32 Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package usb implements a USB Full-Speed device controller core for the
// STM32 family of microcontrollers (and register-compatible clones) whose
// USB peripheral exposes a per-endpoint control/status register (EPnR) and
// a Packet Memory Area (PMA) addressed through a buffer-descriptor table
// (BTABLE).
//
// The package drives the endpoint-0 control transfer protocol, device
// enumeration state machine, and bulk/interrupt data transfer, leaving
// peripheral clocking, interrupt wiring and application descriptors to the
// caller. A single entry point, Task, is meant to be invoked either from a
// polling loop or from the USB interrupt handler; the core itself never
// spawns a goroutine and performs no blocking operation.
package usb
