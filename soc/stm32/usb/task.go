// Event loop
// https://github.com/tamago-stm32/tamago
//
// Copyright (c) The tamago-stm32 Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package usb

import "github.com/tamago-stm32/tamago/internal/reg"

// Task services one pending bus event and returns. Callers are expected to
// invoke Task in a tight loop (or from an interrupt handler that defers the
// heavy lifting to a single goroutine); unlike the reference
// implementation's per-endpoint blocking goroutines (imx6/usb/bus.go's
// Start spawning one handler per endpoint), this core is single-threaded by
// design (§4.4, REDESIGN) so every field access below is free of
// synchronization.
//
// At most one event class is serviced per call, in priority order WKUP >
// SUSP > RESET > SOF > CTR, matching §4.4's dispatch table. Task returns
// immediately, doing nothing, if ISTR is clear.
func (c *Controller) Task() {
	istr := reg.Read16(c.istr)

	switch {
	case istr&(1<<istrWKUP) != 0:
		c.handleWakeup()
	case istr&(1<<istrSUSP) != 0:
		c.handleSuspend()
	case istr&(1<<istrRESET) != 0:
		c.handleReset()
	case istr&(1<<istrSOF) != 0:
		c.handleSOF()
	case istr&(1<<istrCTR) != 0:
		c.handleCTR(istr)
	}
}

func (c *Controller) handleWakeup() {
	cntr := reg.Read16(c.cntr)
	cntr &^= 1 << cntrFSUSP_POS
	cntr &^= 1 << cntrLPMODE_POS
	reg.Write16(c.cntr, cntr)

	reg.Write16(c.istr, ^uint16(1<<istrWKUP))

	if c.cb.ResumeHook != nil {
		c.cb.ResumeHook()
	}
}

func (c *Controller) handleSuspend() {
	cntr := reg.Read16(c.cntr)
	cntr |= 1 << cntrFSUSP_POS
	cntr |= 1 << cntrLPMODE_POS
	reg.Write16(c.cntr, cntr)

	reg.Write16(c.istr, ^uint16(1<<istrSUSP))

	if c.cb.SuspendHook != nil {
		c.cb.SuspendHook()
	}
}

// handleReset implements the bus reset sequence of §4.4: every endpoint is
// disabled, enumeration state collapses back to Default/address 0, and EP0
// is reprogrammed for Control transfers with RX armed Valid and TX idle
// NAK, matching the reference implementation's dQH re-initialization at
// reset (imx6/usb/bus.go's reset handling) adapted to EPnR/BTABLE.
func (c *Controller) handleReset() {
	if c.cb.ResetHook != nil {
		c.cb.ResetHook(true)
	}

	reg.Write16(c.istr, ^uint16(1<<istrRESET))

	for n := 0; n < 8; n++ {
		reg.Write16(c.ep[n], 0)
	}

	c.state = StateDefault
	c.address = 0
	c.pendingAddressValid = false
	c.continuation = nil
	c.configValue = 0
	c.numInterfaces = 0
	c.altSetting = [8]uint8{}
	c.sofCursor = 1

	reg.Write16(c.daddr, daddrEF|0)

	c.setType(0, EndpointTypeControl, 0)
	c.setRX(0, StatValid, true)
	c.setTX(0, StatNAK, true)

	if c.cb.ResetHook != nil {
		c.cb.ResetHook(false)
	}
}

// handleSOF advances the round-robin IN poll cursor over endpoints 1..7,
// invoking InEvent for the first one whose STAT_TX is idle (NAK) and whose
// IN direction is configured. Only active if InEvent is set, since an idle
// SOF handler otherwise just spends cycles (§4.4).
func (c *Controller) handleSOF() {
	reg.Write16(c.istr, ^uint16(1<<istrSOF))

	if c.cb.InEvent == nil {
		return
	}

	for i := 0; i < 7; i++ {
		n := c.sofCursor
		c.sofCursor++
		if c.sofCursor > 7 {
			c.sofCursor = 1
		}

		s := &c.slot[n]
		if !s.hasIn() {
			continue
		}

		if c.statTX(n) != StatNAK {
			continue
		}

		c.cb.InEvent(n)
		break
	}
}

// handleCTR services the endpoint identified by ISTR's EP_ID field (§4.4).
// EP0 SETUP/OUT packets are parsed and dispatched through handleSetup; EP0
// IN completions apply a deferred SET_ADDRESS and drain any pending
// control-IN continuation; non-EP0 endpoints invoke OutEvent/report
// completion to the application.
func (c *Controller) handleCTR(istr uint16) {
	n := int(istr & istrEPID_MASK)

	epr := c.readEPR(n)

	if epr&eprCTR_RX != 0 {
		c.clearCTR(n, true)

		if n == 0 {
			if epr&eprSETUP != 0 {
				var buf [8]byte
				c.copyFromPMA(c.slot[0].outAddr, buf[:], 8)
				c.setRX(0, StatValid, false)
				c.handleSetup(parseSetup(buf[:]))
			} else {
				count := c.readBDCountRX(0)
				c.setRX(0, StatValid, false)
				_ = count
			}
		} else {
			// The received byte count is reported so the application
			// can size its own buffer; draining the data (and
			// re-arming STAT_RX to Valid) is left to its own call to
			// Read, matching how Write/Read are the only PMA-facing
			// API (§4.2, §6).
			count := c.readBDCountRX(n)
			if c.cb.OutEvent != nil {
				c.cb.OutEvent(n, count)
			}
		}
	}

	if epr&eprCTR_TX != 0 {
		c.clearCTR(n, false)

		if n == 0 {
			if c.pendingAddressValid {
				reg.Write16(c.daddr, daddrEF|uint16(c.pendingAddress))
				c.address = c.pendingAddress
				c.pendingAddressValid = false
				if c.address == 0 {
					c.state = StateDefault
				} else {
					c.state = StateAddress
				}
			}

			c.controlInResume()
		}
	}
}
