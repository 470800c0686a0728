// Package jsonrpc is newline delimited JSON-RPC over TCP as stratum pools speak it.
package jsonrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"asic_miner/log"
)

var (
	ErrTx     = errors.New("ErrTx")
	ErrEncode = errors.New("ErrEncode")
	ErrClosed = errors.New("ErrClosed")
)

type Request struct {
	Version *string     `json:"jsonrpc,omitempty"`
	ID      uint64      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// Response is either a reply to one of our calls or, when Method is set, a
// notification from the server.
type Response struct {
	Version string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Result  interface{}   `json:"result"`
	Error   interface{}   `json:"error"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// ErrorString renders the error member, "" when there is none.
func (r Response) ErrorString() string {
	switch e := r.Error.(type) {
	case nil:
		return ""
	case []interface{}:
		// stratum: [code, message, traceback]
		if len(e) >= 2 {
			return fmt.Sprintf("%v %v", e[0], e[1])
		}
	case map[string]interface{}:
		if m, ok := e["message"]; ok {
			return fmt.Sprintf("%v", m)
		}
	}
	return fmt.Sprintf("%v", r.Error)
}

type ByteStats struct {
	N     uint64
	Bytes uint64
}

type ClientHandlerFunc func(Response)

type Client struct {
	Conn    net.Conn
	handler ClientHandlerFunc

	id      atomic.Uint64
	wmx     sync.Mutex
	pmx     sync.Mutex
	pending map[uint64]chan Response

	rxN, rxBytes atomic.Uint64
	txN, txBytes atomic.Uint64

	done    chan struct{}
	stop    sync.Once
	err     error
	errOnce sync.Once
}

// NewClient dials address and starts the receive loop. Notifications go to
// handler; replies go to whoever is waiting in CallWait.
func NewClient(ctx context.Context, network, address string, handler ClientHandlerFunc) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return NewClientConn(conn, handler), nil
}

func NewClientConn(conn net.Conn, handler ClientHandlerFunc) *Client {
	if handler == nil {
		handler = func(Response) {}
	}
	c := &Client{
		Conn:    conn,
		handler: handler,
		pending: make(map[uint64]chan Response),
		done:    make(chan struct{}),
	}
	go c.recvAndHandle()
	return c
}

func (c *Client) fail(err error) {
	c.errOnce.Do(func() { c.err = err })
}

func (c *Client) recvAndHandle() {
	r := bufio.NewReaderSize(c.Conn, 64*1024)
	log.Debugf("connected to %v", c.Conn.RemoteAddr())

	for {
		buf, err := r.ReadBytes('\n')
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				c.fail(fmt.Errorf("%v closed the connection: %w", c.Conn.RemoteAddr(), ErrClosed))
			} else {
				c.fail(err)
			}
			break
		}
		c.rxN.Add(1)
		c.rxBytes.Add(uint64(len(buf)))
		log.Debugf("rx %s", buf)

		resp := Response{}
		if err := json.Unmarshal(buf, &resp); err != nil {
			log.Warnf("bad json from %v: %v", c.Conn.RemoteAddr(), err)
			continue
		}
		if resp.Method != "" {
			c.handler(resp)
			continue
		}
		c.pmx.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.pmx.Unlock()
		if ok {
			ch <- resp
		} else {
			log.Debugf("reply to unknown id %d", resp.ID)
		}
	}

	c.Conn.Close()
	c.stop.Do(func() { close(c.done) })
	log.Debugf("disconnected from %v", c.Conn.RemoteAddr())
}

// Call sends one request and returns its id without waiting for the reply.
func (c *Client) Call(method string, params interface{}) (uint64, error) {
	id := c.id.Add(1)
	return id, c.send(Request{ID: id, Method: method, Params: params})
}

func (c *Client) send(req Request) error {
	buf, err := json.Marshal(&req)
	if err != nil {
		return fmt.Errorf("%s: %w", req.Method, ErrEncode)
	}
	buf = append(buf, '\n')
	log.Debugf("tx %s", buf)

	c.wmx.Lock()
	defer c.wmx.Unlock()
	select {
	case <-c.done:
		return c.Err()
	default:
	}
	n, err := c.Conn.Write(buf)
	if err != nil {
		c.fail(err)
		return fmt.Errorf("%s: %v: %w", req.Method, err, ErrTx)
	}
	c.txN.Add(1)
	c.txBytes.Add(uint64(n))
	return nil
}

// CallWait sends a request and blocks for its reply.
func (c *Client) CallWait(ctx context.Context, method string, params interface{}) (Response, error) {
	id := c.id.Add(1)
	ch := make(chan Response, 1)
	c.pmx.Lock()
	c.pending[id] = ch
	c.pmx.Unlock()
	defer func() {
		c.pmx.Lock()
		delete(c.pending, id)
		c.pmx.Unlock()
	}()

	if err := c.send(Request{ID: id, Method: method, Params: params}); err != nil {
		return Response{}, err
	}
	select {
	case resp := <-ch:
		return resp, nil
	case <-c.done:
		return Response{}, c.Err()
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err is why the connection went away.
func (c *Client) Err() error {
	select {
	case <-c.done:
	default:
		return nil
	}
	if c.err == nil {
		return ErrClosed
	}
	return c.err
}

func (c *Client) Stats() (rx, tx ByteStats) {
	return ByteStats{N: c.rxN.Load(), Bytes: c.rxBytes.Load()},
		ByteStats{N: c.txN.Load(), Bytes: c.txBytes.Load()}
}

func (c *Client) Stop() {
	c.fail(ErrClosed)
	c.Conn.Close()
	<-c.done
}
