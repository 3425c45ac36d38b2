package netsio

import "errors"

// ErrFramingTooLarge is returned when an encoded or decoded payload would
// exceed MaxPayload.
var ErrFramingTooLarge = errors.New("netsio: payload exceeds MaxPayload")

// ErrFramingTooSmall is returned when a declared frame length is below the
// protocol minimum (header-only messages still have a header).
var ErrFramingTooSmall = errors.New("netsio: declared length below minimum")

// ErrFramingTooBig is returned when a stream-mode declared total_length
// exceeds the configured maximum frame size.
var ErrFramingTooBig = errors.New("netsio: declared length exceeds maximum frame size")

// ErrTruncated is returned when a reader ends before a complete frame could
// be decoded.
var ErrTruncated = errors.New("netsio: truncated frame")

// ErrBadPayloadLength names an opcode with a fixed payload shape (e.g.
// SpeedChange) carrying the wrong payload length. DecodeDatagram and
// DecodeStream do not check payload shape and never return it; the bridge
// drops a SpeedChange whose payload is not 4 bytes.
var ErrBadPayloadLength = errors.New("netsio: wrong payload length for opcode")
