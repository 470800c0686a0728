package jsonrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"

	"asic_miner/log"
)

// ServerConn is one client connection seen from the server side.
type ServerConn struct {
	conn net.Conn
	mx   sync.Mutex
}

func (c *ServerConn) write(v interface{}) error {
	buf, err := PrepareJSONResponse(v)
	if err != nil {
		return err
	}
	c.mx.Lock()
	defer c.mx.Unlock()
	_, err = c.conn.Write(buf)
	return err
}

func (c *ServerConn) Reply(id uint64, result interface{}, rpcErr interface{}) error {
	return c.write(map[string]interface{}{"id": id, "result": result, "error": rpcErr})
}

func (c *ServerConn) Notify(method string, params ...interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	return c.write(map[string]interface{}{"id": nil, "method": method, "params": params})
}

func (c *ServerConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

type ServerHandlerFunc func(*ServerConn, Request)

// Server accepts newline delimited JSON-RPC connections and hands every
// request to handler. Connections stay open until the peer leaves.
type Server struct {
	listener net.Listener
	done     chan struct{}
	wg       sync.WaitGroup
	handler  ServerHandlerFunc

	mx    sync.Mutex
	conns map[*ServerConn]struct{}
}

func NewServer(addr string, handler ServerHandlerFunc) (*Server, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		listener: l,
		done:     make(chan struct{}),
		handler:  handler,
		conns:    make(map[*ServerConn]struct{}),
	}
	s.wg.Add(1)
	return s, nil
}

func (s *Server) Addr() string { return s.listener.Addr().String() }

func (s *Server) ListenAndServe() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				log.Errorf("accept: %v", err)
				continue
			}
		}
		sc := &ServerConn{conn: conn}
		s.mx.Lock()
		s.conns[sc] = struct{}{}
		s.mx.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(sc)
		}()
	}
}

func (s *Server) handleConnection(sc *ServerConn) {
	defer func() {
		s.mx.Lock()
		delete(s.conns, sc)
		s.mx.Unlock()
		sc.conn.Close()
	}()

	r := bufio.NewReader(sc.conn)
	for {
		buf, err := r.ReadBytes('\n')
		if err != nil {
			return
		}
		req := Request{}
		if err := json.Unmarshal(buf, &req); err != nil {
			log.Debugf("bad request from %v: %v", sc.conn.RemoteAddr(), err)
			continue
		}
		s.handler(sc, req)
	}
}

// Broadcast notifies every connected client.
func (s *Server) Broadcast(method string, params ...interface{}) {
	s.mx.Lock()
	conns := make([]*ServerConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mx.Unlock()
	for _, c := range conns {
		if err := c.Notify(method, params...); err != nil {
			log.Debugf("notify %v: %v", c.conn.RemoteAddr(), err)
		}
	}
}

// Clients is the number of open connections.
func (s *Server) Clients() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return len(s.conns)
}

// Drop closes every open connection but keeps listening.
func (s *Server) Drop() {
	s.mx.Lock()
	defer s.mx.Unlock()
	for c := range s.conns {
		c.conn.Close()
	}
}

func (s *Server) Shutdown(ctx context.Context) {
	close(s.done)
	s.listener.Close()
	s.Drop()

	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
	}
}
