package session

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// ErrConnectionLost is returned when the transport fails; it retires every
// pending request on the session.
var ErrConnectionLost = errors.New("session: connection lost")

// Transport is the raw byte-stream below a Session. Its only protocol
// knowledge is the IP frame's leading size field, which declares how many
// bytes follow it.
type Transport struct {
	conn         net.Conn
	writeTimeout time.Duration
}

// Dial opens a TCP connection to the instrument, optionally through an ssh
// gateway tunnel.
func Dial(ctx context.Context, addr string, cfg Config, tun *TunnelConfig) (*Transport, error) {
	cfg = cfg.WithDefaults()
	var conn net.Conn
	var err error
	if tun != nil && tun.Enabled {
		conn, err = dialTunnel(ctx, tun, addr, cfg.ConnectTimeout)
	} else {
		dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, err
	}
	return NewTransport(conn, cfg.WriteTimeout), nil
}

// NewTransport wraps an established connection.
func NewTransport(conn net.Conn, writeTimeout time.Duration) *Transport {
	return &Transport{conn: conn, writeTimeout: writeTimeout}
}

// ReadPacket blocks until one complete IP frame is available and returns
// it whole, size prefix included.
func (t *Transport) ReadPacket() ([]byte, error) {
	var prefix [2]byte
	if _, err := io.ReadFull(t.conn, prefix[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	size := binary.BigEndian.Uint16(prefix[:])
	buf := make([]byte, 2+int(size))
	copy(buf, prefix[:])
	if _, err := io.ReadFull(t.conn, buf[2:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return buf, nil
}

// WritePacket writes one encoded IP frame.
func (t *Transport) WritePacket(b []byte) error {
	if t.writeTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
		defer t.conn.SetWriteDeadline(time.Time{})
	}
	if _, err := t.conn.Write(b); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return nil
}

func (t *Transport) Close() error {
	return t.conn.Close()
}

// RemoteAddr reports the peer address for logging.
func (t *Transport) RemoteAddr() string {
	if addr := t.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
