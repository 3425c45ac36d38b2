package netsio

import (
	"bytes"
	"testing"
)

// FuzzDatagramDecode ensures the datagram decoder never panics on arbitrary
// input, regardless of whether it produces a usable message.
func FuzzDatagramDecode(f *testing.F) {
	var c Codec
	f.Add([]byte{0x01, 0x00, 0x00, 0x00})
	enc, _ := c.EncodeDatagram(Message{Kind: OpDataBlock, Payload: []byte{1, 2, 3}})
	f.Add(enc)
	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = c.DecodeDatagram(data)
	})
}

// FuzzStreamDecode mirrors FuzzDatagramDecode for the Altirra stream framing.
func FuzzStreamDecode(f *testing.F) {
	var c Codec
	f.Add([]byte{10, 0, 0, 0, 0, 0, 0, 0, 0x01, 0x00})
	f.Fuzz(func(t *testing.T, data []byte) {
		_, _, _ = c.DecodeStream(bytes.NewReader(data), 0)
	})
}
