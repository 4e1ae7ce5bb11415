// Package ipc exposes a running wallet session to other local processes
// over a unix socket (TCP on Windows): clients send commands and may
// subscribe to the session's events.
package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
)

const windowsSocketAddr = "127.0.0.1:7070"

// maxMessageSize bounds a single line on the socket.
const maxMessageSize = 1 << 20

var osType = runtime.GOOS

// listen opens the socket, replacing a stale unix socket file.
func listen(socketPath string) (net.Listener, error) {
	if osType == "windows" {
		return net.Listen("tcp", windowsSocketAddr)
	}

	if _, err := os.Stat(socketPath); err == nil {
		if err := os.Remove(socketPath); err != nil {
			return nil, fmt.Errorf("failed to remove existing socket "+
				"file: %v", err)
		}
	}

	return net.Listen("unix", socketPath)
}

func dial(socketPath string) (net.Conn, error) {
	if osType == "windows" {
		return net.Dial("tcp", windowsSocketAddr)
	}
	return net.Dial("unix", socketPath)
}

// peer is one client connection. Writes are serialized since responses and
// broadcasts race.
type peer struct {
	conn net.Conn

	writeMu sync.Mutex
	enc     *json.Encoder

	subscribed atomic.Bool
}

func (p *peer) send(env Envelope) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	return p.enc.Encode(env)
}

// Server accepts client connections and dispatches their commands.
type Server struct {
	listener net.Listener
	handler  Handler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mutex sync.Mutex
	peers map[net.Conn]*peer
}

// NewServer listens on socketPath and starts accepting connections.
func NewServer(socketPath string, handler Handler) (*Server, error) {
	listener, err := listen(socketPath)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		listener: listener,
		handler:  handler,
		ctx:      ctx,
		cancel:   cancel,
		peers:    make(map[net.Conn]*peer),
	}

	s.wg.Add(1)
	go s.accept()

	log.Infof("IPC server listening on %v", listener.Addr())

	return s, nil
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) accept() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warnf("Accept failed: %v", err)
			continue
		}

		p := &peer{conn: conn, enc: json.NewEncoder(conn)}
		s.mutex.Lock()
		s.peers[conn] = p
		s.mutex.Unlock()

		s.wg.Add(1)
		go s.handleConnection(p)
	}
}

func (s *Server) handleConnection(p *peer) {
	defer s.wg.Done()
	defer func() {
		s.mutex.Lock()
		delete(s.peers, p.conn)
		s.mutex.Unlock()
		p.conn.Close()
	}()

	scanner := bufio.NewScanner(p.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)

	for scanner.Scan() {
		var cmd Command
		if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil {
			log.Debugf("Failed to parse command: %v", err)
			continue
		}

		resp := s.dispatch(p, cmd)
		if err := p.send(resp); err != nil {
			log.Debugf("Failed to send response for command %d: %v",
				cmd.ID, err)
			return
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.Debugf("Failed to read from connection: %v", err)
	}
}

func (s *Server) dispatch(p *peer, cmd Command) Envelope {
	resp := Envelope{Type: TypeResponse, ID: cmd.ID}

	if cmd.Command == CommandSubscribe {
		p.subscribed.Store(true)
		resp.Result = json.RawMessage(`true`)
		return resp
	}

	if s.handler == nil {
		resp.Error = "no command handler"
		return resp
	}

	result, err := s.handler(s.ctx, cmd)
	if err != nil {
		resp.Error = err.Error()
		return resp
	}

	data, err := json.Marshal(result)
	if err != nil {
		resp.Error = fmt.Sprintf("unable to encode result: %v", err)
		return resp
	}
	resp.Result = data

	return resp
}

// Broadcast sends event to every subscribed connection. Connections that
// fail the write are dropped.
func (s *Server) Broadcast(event interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Errorf("Failed to marshal event: %v", err)
		return
	}
	env := Envelope{Type: TypeEvent, Event: data}

	s.mutex.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		if p.subscribed.Load() {
			peers = append(peers, p)
		}
	}
	s.mutex.Unlock()

	for _, p := range peers {
		if err := p.send(env); err != nil {
			log.Debugf("Dropping subscriber: %v", err)
			p.conn.Close()
		}
	}
}

// Close stops accepting connections, closes the open ones and waits for
// their handlers.
func (s *Server) Close() error {
	s.cancel()
	err := s.listener.Close()

	s.mutex.Lock()
	for conn := range s.peers {
		conn.Close()
	}
	s.mutex.Unlock()

	s.wg.Wait()

	return err
}

// Client talks to a Server.
type Client struct {
	conn    net.Conn
	scanner *bufio.Scanner
	enc     *json.Encoder
	nextID  atomic.Int32

	// events buffers events read while waiting for a response.
	events []json.RawMessage
}

// NewClient connects to the server at socketPath.
func NewClient(socketPath string) (*Client, error) {
	conn, err := dial(socketPath)
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)

	return &Client{
		conn:    conn,
		scanner: scanner,
		enc:     json.NewEncoder(conn),
	}, nil
}

func (c *Client) read() (Envelope, error) {
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return Envelope{}, err
		}
		return Envelope{}, io.EOF
	}

	var env Envelope
	if err := json.Unmarshal(c.scanner.Bytes(), &env); err != nil {
		return Envelope{}, fmt.Errorf("error unmarshaling message: %v", err)
	}

	return env, nil
}

// SendCommand runs command on the server and decodes its result into
// result, which may be nil.
func (c *Client) SendCommand(command string, args []string,
	result interface{}) error {

	cmd := Command{
		ID:      int(c.nextID.Add(1)),
		Command: command,
		Args:    args,
	}
	if err := c.enc.Encode(cmd); err != nil {
		return fmt.Errorf("error writing command to connection: %v", err)
	}

	for {
		env, err := c.read()
		if err != nil {
			return fmt.Errorf("error reading response: %w", err)
		}

		if env.Type == TypeEvent {
			c.events = append(c.events, env.Event)
			continue
		}
		if env.ID != cmd.ID {
			continue
		}

		if env.Error != "" {
			return &RemoteError{Command: command, Message: env.Error}
		}
		if result == nil || len(env.Result) == 0 {
			return nil
		}
		return json.Unmarshal(env.Result, result)
	}
}

// Subscribe asks the server to stream events to this client.
func (c *Client) Subscribe() error {
	return c.SendCommand(CommandSubscribe, nil, nil)
}

// NextEvent blocks until an event arrives and decodes it into v.
func (c *Client) NextEvent(v interface{}) error {
	if len(c.events) > 0 {
		ev := c.events[0]
		c.events = c.events[1:]
		return json.Unmarshal(ev, v)
	}

	for {
		env, err := c.read()
		if err != nil {
			return err
		}
		if env.Type == TypeEvent {
			return json.Unmarshal(env.Event, v)
		}
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
