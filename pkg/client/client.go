// Package client speaks the line-delimited JSON protocol to a server.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/pario-ai/linecompute/pkg/frame"
	"github.com/pario-ai/linecompute/pkg/models"
)

// ErrNoResponse is returned when the server closes the connection before
// replying.
var ErrNoResponse = errors.New("no response")

// Conn is a persistent connection that carries sequential exchanges.
type Conn struct {
	conn    net.Conn
	r       *frame.Reader
	timeout time.Duration
}

// Dial connects to addr. timeout bounds the connect and, for each later Do,
// the whole exchange. Zero means no limit beyond ctx.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Conn, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Conn{conn: conn, r: frame.NewReader(conn, 0), timeout: timeout}, nil
}

// Do sends msg and waits for the matching response frame.
func (c *Conn) Do(ctx context.Context, msg any) (models.Message, error) {
	deadline, ok := ctx.Deadline()
	if c.timeout > 0 {
		if t := time.Now().Add(c.timeout); !ok || t.Before(deadline) {
			deadline, ok = t, true
		}
	}
	if ok {
		c.conn.SetDeadline(deadline)
	} else {
		c.conn.SetDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() { c.conn.SetDeadline(time.Now()) })
	defer stop()

	if err := frame.Write(c.conn, msg); err != nil {
		return nil, err
	}
	resp, err := c.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoResponse
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("read response: %w", err)
	}
	return resp, nil
}

// Close closes the connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// Request performs a single exchange on a fresh connection.
func Request(ctx context.Context, addr string, msg any, timeout time.Duration) (models.Message, error) {
	c, err := Dial(ctx, addr, timeout)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return c.Do(ctx, msg)
}
