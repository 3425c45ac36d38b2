package bridge

// Ack/completion bytes the front-end surfaces to the emulated CPU.
const (
	AckAcknowledge byte = 'A' // 0x41
	AckComplete    byte = 'C' // 0x43
	AckNotAck      byte = 'N' // 0x4E
	AckError       byte = 'E' // 0x45
)

// mapAckType maps a SyncResponse ack_type to a completion byte:
// 0x00 -> 'C', 0x01 -> 'N', anything else -> 'E'. The numeric ack_type is
// authoritative; any ASCII-looking byte in a hub's own logs is cosmetic.
func mapAckType(ackType byte) byte {
	switch ackType {
	case 0x00:
		return AckComplete
	case 0x01:
		return AckNotAck
	default:
		return AckError
	}
}

// responseBuffer is the single-command scratch buffer the front-end drains
// byte-by-byte via get_byte, fed incrementally by the bridge as NetSIO
// messages arrive. Exclusively owned by Bridge; callers must hold the
// bridge's lock while touching it.
type responseBuffer struct {
	data        []byte
	readPos     int
	completion  byte // synthesized once the response is known to be over
	finalized   bool // completion byte has been appended to data
	expectBytes int  // write_size hint from SyncResponse; 0 means "use timeout"
}

// reset clears the buffer for a new command-frame assembly.
func (b *responseBuffer) reset() {
	b.data = b.data[:0]
	b.readPos = 0
	b.completion = 0
	b.finalized = false
	b.expectBytes = 0
}

// armAck records the SyncResponse ack_type/ack_byte/write_size triple: the
// completion byte to synthesize later, the ack byte pushed immediately, and
// an optional declared data-byte count.
func (b *responseBuffer) armAck(ackType, ackByte byte, writeSize uint16) {
	b.completion = mapAckType(ackType)
	b.data = append(b.data, ackByte)
	b.expectBytes = int(writeSize)
}

// append adds data bytes arriving via DataByte/DataBlock.
func (b *responseBuffer) append(bs ...byte) {
	b.data = append(b.data, bs...)
}

// dataReceived counts bytes appended after the ack byte (index 0).
func (b *responseBuffer) dataReceived() int {
	if len(b.data) == 0 {
		return 0
	}
	return len(b.data) - 1
}

// readyToFinalize reports whether enough is known to append the completion
// byte without waiting out the read-phase timeout: true only once a
// non-zero declared write_size has been satisfied. With no declared size it
// stays false, and callers end the response on the read-phase timeout.
func (b *responseBuffer) readyToFinalize() bool {
	if b.finalized {
		return false
	}
	return b.expectBytes > 0 && b.dataReceived() >= b.expectBytes
}

// finalize appends the synthesized completion byte exactly once.
func (b *responseBuffer) finalize() {
	if b.finalized {
		return
	}
	b.data = append(b.data, b.completion)
	b.finalized = true
}

// next pops the next byte for get_byte. more reports whether at least one
// further byte is still to come: either it is already buffered, or the
// completion byte has not been synthesized yet and is still owed.
func (b *responseBuffer) next() (value byte, more bool, ok bool) {
	if b.readPos >= len(b.data) {
		return 0, false, false
	}
	v := b.data[b.readPos]
	b.readPos++
	more = b.readPos < len(b.data) || !b.finalized
	return v, more, true
}

// drained reports whether every byte (including the completion byte) has
// been delivered to the front-end.
func (b *responseBuffer) drained() bool {
	return b.finalized && b.readPos >= len(b.data)
}
