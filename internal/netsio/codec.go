package netsio

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Codec encodes and decodes NetSIO messages for both wire framings.
// Stateless (the sync counter is the separate SyncCounter type) and safe
// for concurrent use; the
// datagram and stream framings differ only in header shape, so both live
// on one type the way the transport layer expects.
type Codec struct{}

// datagramHeaderLen is kind(1) + parameter(1) + payload_len_le16(2).
const datagramHeaderLen = 4

// streamHeaderLen is total_length_le32(4) + timestamp_le32(4) + kind(1) + parameter(1).
const streamHeaderLen = 10

// DefaultMaxFrame is the stream-mode ceiling on total_length: a 1024-byte
// payload budget plus header.
const DefaultMaxFrame = 1024 + streamHeaderLen

// EncodeDatagram packs m into a single UDP datagram payload.
func (Codec) EncodeDatagram(m Message) ([]byte, error) {
	if len(m.Payload) > MaxPayload {
		return nil, fmt.Errorf("encode datagram: %w (%d)", ErrFramingTooLarge, len(m.Payload))
	}
	buf := make([]byte, datagramHeaderLen+len(m.Payload))
	buf[0] = byte(m.Kind)
	buf[1] = m.Parameter
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(m.Payload)))
	copy(buf[4:], m.Payload)
	return buf, nil
}

// DecodeDatagram parses exactly one message from a received UDP datagram.
func (Codec) DecodeDatagram(b []byte) (Message, error) {
	if len(b) < datagramHeaderLen {
		return Message{}, fmt.Errorf("decode datagram: %w", ErrFramingTooSmall)
	}
	plen := int(binary.LittleEndian.Uint16(b[2:4]))
	if plen > MaxPayload {
		return Message{}, fmt.Errorf("decode datagram: %w (%d)", ErrFramingTooLarge, plen)
	}
	if len(b)-datagramHeaderLen != plen {
		return Message{}, fmt.Errorf("decode datagram: %w: declared %d, got %d", ErrTruncated, plen, len(b)-datagramHeaderLen)
	}
	payload := make([]byte, plen)
	copy(payload, b[datagramHeaderLen:])
	return Message{Kind: Opcode(b[0]), Parameter: b[1], Payload: payload}, nil
}

// EncodeStream packs m into an Altirra-framed stream message. timestamp may
// be zero; the receiver does not interpret it.
func (Codec) EncodeStream(m Message, timestamp uint32) ([]byte, error) {
	if len(m.Payload) > MaxPayload {
		return nil, fmt.Errorf("encode stream: %w (%d)", ErrFramingTooLarge, len(m.Payload))
	}
	total := streamHeaderLen + len(m.Payload)
	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(total))
	binary.LittleEndian.PutUint32(buf[4:8], timestamp)
	buf[8] = byte(m.Kind)
	buf[9] = m.Parameter
	copy(buf[streamHeaderLen:], m.Payload)
	return buf, nil
}

// DecodeStream reads exactly one Altirra-framed message from r, enforcing
// maxFrame as the declared total_length ceiling. maxFrame <= 0 uses
// DefaultMaxFrame.
func (Codec) DecodeStream(r io.Reader, maxFrame int) (Message, uint32, error) {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	var hdr [streamHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Message{}, 0, fmt.Errorf("decode stream header: %w", err)
	}
	total := binary.LittleEndian.Uint32(hdr[0:4])
	timestamp := binary.LittleEndian.Uint32(hdr[4:8])
	if total < streamHeaderLen {
		return Message{}, 0, fmt.Errorf("decode stream: %w (%d)", ErrFramingTooSmall, total)
	}
	if int(total) > maxFrame {
		return Message{}, 0, fmt.Errorf("decode stream: %w (%d)", ErrFramingTooBig, total)
	}
	payload := make([]byte, int(total)-streamHeaderLen)
	if len(payload) > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Message{}, 0, fmt.Errorf("decode stream payload: %w", ErrTruncated)
		}
	}
	return Message{Kind: Opcode(hdr[8]), Parameter: hdr[9], Payload: payload}, timestamp, nil
}

// SyncCounter is the codec-owned, monotonically increasing (and wrapping)
// byte stamped on every sync-requiring outbound command.
type SyncCounter struct {
	v byte
}

// Next returns the current value then post-increments, wrapping at 256.
// The zero value is a valid sync number.
func (c *SyncCounter) Next() byte {
	cur := c.v
	c.v++
	return cur
}
