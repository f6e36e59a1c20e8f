// Package fakesentinel is an in-process stand-in for a Sentinel deployment:
// it answers the same four commands sconn issues (PING, SENTINEL
// GET-MASTER-ADDR-BY-NAME/SLAVES/SENTINELS) from in-memory state instead of
// a real socket, so the reconciliation and DNS-monitor loops can be driven
// deterministically in tests.
//
// The connection plumbing here is adapted from the upstream library's own
// stub-connection technique (an in-memory RESP3 buffer satisfying
// radix.Conn); the command handling it drives is this package's own.
package fakesentinel

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"time"

	radix "github.com/mediocregopher/radix/v4"
	"github.com/mediocregopher/radix/v4/resp"
	"github.com/mediocregopher/radix/v4/resp/resp3"
)

type rawAddr struct{ network, addr string }

func (a rawAddr) Network() string { return a.network }
func (a rawAddr) String() string  { return a.addr }

var errClosed = errors.New("fakesentinel: use of closed connection")

// pipe is an in-memory RESP3 byte pipe standing in for the TCP connection a
// real radix.Conn would hold.
type pipe struct {
	remoteAddr net.Addr

	l      *sync.Cond
	buf    *bytes.Buffer
	br     *bufio.Reader
	closed bool
}

func newPipe(network, addr string) *pipe {
	buf := new(bytes.Buffer)
	return &pipe{
		remoteAddr: rawAddr{network, addr},
		l:          sync.NewCond(new(sync.Mutex)),
		buf:        buf,
		br:         bufio.NewReader(buf),
	}
}

func (p *pipe) Encode(m interface{}) error {
	p.l.L.Lock()
	var err error
	if p.closed {
		err = p.opErr("write", errClosed)
	} else {
		err = resp3.Marshal(p.buf, m, resp.NewOpts())
	}
	p.l.L.Unlock()
	if err != nil {
		return err
	}
	p.l.Broadcast()
	return nil
}

func (p *pipe) Decode(ctx context.Context, u interface{}) error {
	p.l.L.Lock()
	defer p.l.L.Unlock()

	wake := time.NewTicker(100 * time.Millisecond)
	defer wake.Stop()

	for p.buf.Len() == 0 && p.br.Buffered() == 0 {
		if p.closed {
			return p.opErr("read", errClosed)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		// periodically re-check ctx.Done without holding the lock forever.
		go func() { <-wake.C; p.l.Broadcast() }()
		p.l.Wait()
	}
	return resp3.Unmarshal(p.br, u, resp.NewOpts())
}

func (p *pipe) Close() error {
	p.l.L.Lock()
	defer p.l.L.Unlock()
	if p.closed {
		return p.opErr("close", errClosed)
	}
	p.closed = true
	p.l.Broadcast()
	return nil
}

func (p *pipe) opErr(op string, err error) error {
	return &net.OpError{Op: op, Net: "tcp", Addr: p.remoteAddr, Err: err}
}

// conn is a fake radix.Conn whose EncodeDecode dispatches every outgoing
// command to a handle callback instead of writing to a real socket.
type conn struct {
	network, addr string
	*pipe
	handle func([]string) interface{}
}

// newConn returns a radix.Conn backed by handle.
func newConn(network, addr string, handle func([]string) interface{}) radix.Conn {
	return &conn{network: network, addr: addr, pipe: newPipe(network, addr), handle: handle}
}

func (c *conn) Do(ctx context.Context, a radix.Action) error {
	return a.Perform(ctx, c)
}

func (c *conn) EncodeDecode(ctx context.Context, m, u interface{}) error {
	if m != nil {
		buf := new(bytes.Buffer)
		if err := resp3.Marshal(buf, m, resp.NewOpts()); err != nil {
			return err
		}
		br := bufio.NewReader(buf)
		for buf.Len() > 0 || br.Buffered() > 0 {
			var args []string
			if err := resp3.Unmarshal(br, &args, resp.NewOpts()); err != nil {
				return err
			}
			ret := c.handle(args)
			if err, ok := ret.(error); ok && err != nil {
				return err
			}
			if err := c.pipe.Encode(ret); err != nil {
				return err
			}
		}
	}
	if u != nil {
		return c.pipe.Decode(ctx, u)
	}
	return nil
}

func (c *conn) Addr() net.Addr { return rawAddr{c.network, c.addr} }
