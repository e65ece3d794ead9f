package session

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"
)

// Conn is one established connection carrying IRC lines without terminators.
type Conn interface {
	ReadLine() (string, error)
	WriteLine(line string) error
	Close() error
}

// Transport opens connections to the chat network.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// LineTransport speaks CRLF-delimited IRC over TCP, optionally wrapped in TLS.
type LineTransport struct {
	Addr        string
	TLS         bool
	DialTimeout time.Duration
}

// Dial connects to Addr.
func (t *LineTransport) Dial(ctx context.Context) (Conn, error) {
	timeout := t.DialTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}

	var (
		conn net.Conn
		err  error
	)
	if t.TLS {
		host, _, splitErr := net.SplitHostPort(t.Addr)
		if splitErr != nil {
			return nil, fmt.Errorf("parse address %s: %w", t.Addr, splitErr)
		}
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}}
		conn, err = tlsDialer.DialContext(ctx, "tcp", t.Addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", t.Addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.Addr, err)
	}
	return NewLineConn(conn), nil
}

type lineConn struct {
	conn   net.Conn
	reader *bufio.Reader
}

// NewLineConn wraps a stream connection as a CRLF line Conn.
func NewLineConn(conn net.Conn) Conn {
	return &lineConn{conn: conn, reader: bufio.NewReaderSize(conn, 4096)}
}

func (c *lineConn) ReadLine() (string, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *lineConn) WriteLine(line string) error {
	_, err := c.conn.Write([]byte(line + "\r\n"))
	return err
}

func (c *lineConn) Close() error {
	return c.conn.Close()
}
