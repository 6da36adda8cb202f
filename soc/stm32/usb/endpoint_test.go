// https://github.com/tamago-stm32/tamago
//
// Copyright (c) The tamago-stm32 Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package usb

import (
	"testing"

	"github.com/tamago-stm32/tamago/internal/reg"
)

// TestWriteTogglePreservesCTR is the central regression test for §4.3: a
// toggle-field write must never clear the sticky CTR_RX/CTR_TX bits.
func TestWriteTogglePreservesCTR(t *testing.T) {
	c, _, _ := newTestController(Callbacks{})

	reg.Write16(c.ep[1], eprCTR_RX|eprCTR_TX)

	c.setTX(1, StatValid, false)

	got := c.readEPR(1)
	if got&eprCTR_RX == 0 {
		t.Error("writeToggle cleared CTR_RX")
	}
	if got&eprCTR_TX == 0 {
		t.Error("writeToggle cleared CTR_TX")
	}
	if c.statTX(1) != StatValid {
		t.Errorf("STAT_TX = %v, want Valid", c.statTX(1))
	}
}

func TestSetTXTogglesOnlyTargetField(t *testing.T) {
	c, _, _ := newTestController(Callbacks{})

	c.setType(1, EndpointTypeBulk, 1)

	if c.statTX(1) != StatDisabled {
		t.Fatalf("initial STAT_TX = %v, want Disabled", c.statTX(1))
	}

	c.setTX(1, StatNAK, false)
	if c.statTX(1) != StatNAK {
		t.Fatalf("STAT_TX = %v, want NAK", c.statTX(1))
	}

	if c.statRX(1) != StatDisabled {
		t.Errorf("setTX perturbed STAT_RX: got %v", c.statRX(1))
	}

	c.setTX(1, StatValid, false)
	if c.statTX(1) != StatValid {
		t.Errorf("STAT_TX = %v, want Valid", c.statTX(1))
	}
}

func TestSetRXResetsDtog(t *testing.T) {
	c, _, _ := newTestController(Callbacks{})

	c.setType(1, EndpointTypeBulk, 1)
	c.setRX(1, StatValid, false)

	// Flip DTOG_RX to simulate a completed transaction.
	c.writeToggle(1, eprDTOG_RX)
	if !c.dtogRX(1) {
		t.Fatal("failed to set up test: DTOG_RX did not toggle")
	}

	c.setRX(1, StatValid, true)
	if c.dtogRX(1) {
		t.Error("setRX with resetDtog=true left DTOG_RX set")
	}
}

func TestSetTypePreservesEA(t *testing.T) {
	c, _, _ := newTestController(Callbacks{})

	c.setType(3, EndpointTypeInterrupt, 3)

	epr := c.readEPR(3)

	if typ := (epr >> eprEPTYPE_POS) & eprEPTYPE_MASK; EndpointType(typ) != EndpointTypeInterrupt {
		t.Errorf("EP_TYPE = %d, want %d", typ, EndpointTypeInterrupt)
	}
	if ea := epr & eprEA_MASK; ea != 3 {
		t.Errorf("EA = %d, want 3", ea)
	}
}

func TestWriteRejectsOversizedPayload(t *testing.T) {
	c, _, _ := newTestController(Callbacks{})

	if c.Write(1, make([]byte, 65)) {
		t.Error("Write accepted a payload larger than the configured IN size")
	}
}

func TestWriteRejectsMissingDirection(t *testing.T) {
	c, _, _ := newTestController(Callbacks{})

	// Endpoint 2 is unconfigured in defaultTestEndpoints.
	if c.Write(2, []byte{1}) {
		t.Error("Write succeeded on an endpoint with no IN direction")
	}
	if n := c.Read(2, make([]byte, 8)); n != 0 {
		t.Error("Read succeeded on an endpoint with no OUT direction")
	}
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	c, _, _ := newTestController(Callbacks{})

	payload := []byte{0xde, 0xad, 0xbe, 0xef, 0x01}

	if !c.Write(1, payload) {
		t.Fatal("Write failed")
	}

	got := reg.Read16(c.pmaWordAddr(1*8 + bdOffCountTX))
	if int(got) != len(payload) {
		t.Errorf("COUNT1_TX = %d, want %d", got, len(payload))
	}

	if c.statTX(1) != StatValid {
		t.Errorf("STAT_TX after Write = %v, want Valid", c.statTX(1))
	}

	// Simulate the peripheral delivering the same bytes into the OUT slot:
	// only the COUNT_RX field (bits 0-9) needs updating, the NUM_BLOCK/
	// BLSIZE configuration from initPMA must survive.
	c.copyToPMA(c.slot[1].outAddr, payload)
	cfgBits := reg.Read16(c.pmaWordAddr(1*8+bdOffCountRX)) &^ 0x3ff
	c.writeBD(1*8+bdOffCountRX, cfgBits|uint16(len(payload)))

	buf := make([]byte, 8)
	n := c.Read(1, buf)
	if int(n) != len(payload) {
		t.Fatalf("Read returned %d bytes, want %d", n, len(payload))
	}
	if string(buf[:n]) != string(payload) {
		t.Errorf("Read = %#v, want %#v", buf[:n], payload)
	}
	if c.statRX(1) != StatValid {
		t.Errorf("STAT_RX after Read = %v, want Valid", c.statRX(1))
	}
}

func TestReadTruncatesOverrun(t *testing.T) {
	c, _, _ := newTestController(Callbacks{})

	payload := make([]byte, 10)
	for i := range payload {
		payload[i] = byte(i)
	}

	c.copyToPMA(c.slot[1].outAddr, payload)
	c.writeBD(1*8+bdOffCountRX, uint16(len(payload)))

	buf := make([]byte, 4)
	n := c.Read(1, buf)
	if int(n) != len(buf) {
		t.Fatalf("Read returned %d, want %d (clamped to buffer)", n, len(buf))
	}
	for i := range buf {
		if buf[i] != payload[i] {
			t.Errorf("buf[%d] = %d, want %d", i, buf[i], payload[i])
		}
	}
}

func TestControlInMultiPacket(t *testing.T) {
	c, _, _ := newTestController(Callbacks{})

	d := make([]byte, 130)
	for i := range d {
		d[i] = byte(i)
	}

	c.ControlIn(d, len(d))

	got := reg.Read16(c.pmaWordAddr(0*8 + bdOffCountTX))
	if int(got) != epControlSize {
		t.Fatalf("first chunk COUNT0_TX = %d, want %d", got, epControlSize)
	}
	if len(c.continuation) != len(d)-epControlSize {
		t.Fatalf("continuation length = %d, want %d", len(c.continuation), len(d)-epControlSize)
	}

	c.controlInResume()
	got = reg.Read16(c.pmaWordAddr(0*8 + bdOffCountTX))
	if int(got) != epControlSize {
		t.Fatalf("second chunk COUNT0_TX = %d, want %d", got, epControlSize)
	}
	if len(c.continuation) != len(d)-2*epControlSize {
		t.Fatalf("continuation length after resume = %d, want %d", len(c.continuation), len(d)-2*epControlSize)
	}

	c.controlInResume()
	got = reg.Read16(c.pmaWordAddr(0*8 + bdOffCountTX))
	if int(got) != 2 {
		t.Fatalf("final chunk COUNT0_TX = %d, want 2", got)
	}
	if len(c.continuation) != 0 {
		t.Errorf("continuation not drained: %d bytes remain", len(c.continuation))
	}
}

func TestControlInExactMultipleOfPacketSizeHasNoTrailingZLP(t *testing.T) {
	c, _, _ := newTestController(Callbacks{})

	d := make([]byte, epControlSize)
	c.ControlIn(d, len(d))

	if c.continuation != nil {
		t.Errorf("continuation should be nil when reqlen is an exact multiple of the packet size, got %d bytes", len(c.continuation))
	}
}
