package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/fujinet/netsio-bridge/internal/metrics"
	"github.com/fujinet/netsio-bridge/internal/netsio"
)

// Stream implements Transport over a single Altirra-framed TCP connection
// (a 10-byte header carrying a declared length and a timestamp, ahead of
// the payload). Unlike UDP, a stream has exactly one peer for its whole
// lifetime, so Send ignores its peer argument once dialed/accepted.
type Stream struct {
	conn    net.Conn
	r       *bufio.Reader
	codec   netsio.Codec
	maxSize int
	queued  []netsio.Message
}

// NewStream wraps an already-connected net.Conn (dialed for the client role,
// accepted for the server role). maxSize bounds the declared frame length;
// zero selects netsio.DefaultMaxFrame.
func NewStream(conn net.Conn, maxSize int) *Stream {
	if maxSize <= 0 {
		maxSize = netsio.DefaultMaxFrame
	}
	return &Stream{conn: conn, r: bufio.NewReader(conn), maxSize: maxSize}
}

func (s *Stream) Send(m netsio.Message, _ net.Addr) error {
	buf, err := s.codec.EncodeStream(m, uint32(time.Now().UnixMilli()))
	if err != nil {
		return fmt.Errorf("stream send: %w", err)
	}
	if _, err := s.conn.Write(buf); err != nil {
		return fmt.Errorf("stream send: %w", err)
	}
	metrics.IncStreamTx()
	return nil
}

func (s *Stream) Poll() bool {
	if len(s.queued) > 0 {
		return true
	}
	m, err := s.readOne(time.Now())
	if err != nil {
		return false
	}
	s.queued = append(s.queued, m)
	return true
}

func (s *Stream) Receive() (netsio.Message, net.Addr, error) {
	if len(s.queued) > 0 {
		m := s.queued[0]
		s.queued = s.queued[1:]
		return m, s.conn.RemoteAddr(), nil
	}
	m, err := s.readOne(time.Now())
	if err != nil {
		if errors.Is(err, errDeadlineExceeded) {
			return netsio.Message{}, nil, ErrWouldBlock
		}
		return netsio.Message{}, nil, err
	}
	return m, s.conn.RemoteAddr(), nil
}

func (s *Stream) RecvWithDeadline(deadline time.Time) (netsio.Message, net.Addr, error) {
	if len(s.queued) > 0 {
		m := s.queued[0]
		s.queued = s.queued[1:]
		return m, s.conn.RemoteAddr(), nil
	}
	m, err := s.readOne(deadline)
	if err != nil {
		if errors.Is(err, errDeadlineExceeded) {
			return netsio.Message{}, nil, ErrTimeout
		}
		return netsio.Message{}, nil, err
	}
	return m, s.conn.RemoteAddr(), nil
}

func (s *Stream) readOne(deadline time.Time) (netsio.Message, error) {
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return netsio.Message{}, fmt.Errorf("stream recv: %w", err)
	}
	m, _, err := s.codec.DecodeStream(s.r, s.maxSize)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return netsio.Message{}, errDeadlineExceeded
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return netsio.Message{}, fmt.Errorf("stream recv: %w", ErrClosed)
		}
		metrics.IncMalformed()
		return netsio.Message{}, fmt.Errorf("stream recv: %w", err)
	}
	metrics.IncStreamRx()
	return m, nil
}

func (s *Stream) Close() error { return s.conn.Close() }
