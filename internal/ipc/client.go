package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"llmbridge/internal/broker"
	"llmbridge/internal/connection"
)

// ErrDaemonNotRunning indicates the discovery file is missing or the
// daemon cannot be reached on the published port.
var ErrDaemonNotRunning = errors.New("daemon is not running")

// Client is a synchronous wire client for the daemon. Not safe for
// concurrent use.
type Client struct {
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
}

// response is the flat superset of everything the daemon writes back.
type response struct {
	Command string          `json:"command"`
	Status  json.RawMessage `json:"status"`
	Result  json.RawMessage `json:"result"`
	Error   string          `json:"error"`
	Chunk   json.RawMessage `json:"chunk"`
	Done    bool            `json:"done"`
}

// Dial connects to a daemon on the given host and port.
func Dial(host string, port int, timeout time.Duration) (*Client, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDaemonNotRunning, err)
	}
	return &Client{
		conn:    conn,
		reader:  bufio.NewReaderSize(conn, 64*1024),
		timeout: timeout,
	}, nil
}

// DialPortFile discovers the daemon's port from the discovery file and
// connects to it.
func DialPortFile(portFile, host string, timeout time.Duration) (*Client, error) {
	data, err := os.ReadFile(portFile)
	if err != nil {
		return nil, fmt.Errorf("%w: no port file at %s", ErrDaemonNotRunning, portFile)
	}
	port, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || port < 1 || port > 65535 {
		return nil, fmt.Errorf("%w: malformed port file %s", ErrDaemonNotRunning, portFile)
	}
	return Dial(host, port, timeout)
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Send writes one command without waiting for a reply.
func (c *Client) Send(req Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if c.timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	_, err = c.conn.Write(append(data, '\n'))
	return err
}

// readResponse returns the next non-event line. Unsolicited broadcast
// events arriving in between are skipped.
func (c *Client) readResponse(deadline time.Duration) (response, error) {
	if deadline > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
	}
	for {
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			return response{}, err
		}
		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			return response{}, fmt.Errorf("malformed response: %w", err)
		}
		if resp.Command != "" {
			continue
		}
		return resp, nil
	}
}

// ReadEvent blocks until the next unsolicited event arrives. Non-event
// lines are discarded.
func (c *Client) ReadEvent(deadline time.Duration) (StatusEvent, error) {
	if deadline > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
	}
	for {
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			return StatusEvent{}, err
		}
		var ev StatusEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return StatusEvent{}, fmt.Errorf("malformed event: %w", err)
		}
		if ev.Command != EventConnectionStatusChanged {
			continue
		}
		return ev, nil
	}
}

// Ping verifies the daemon is alive.
func (c *Client) Ping() error {
	if err := c.Send(Request{Command: CommandPing}); err != nil {
		return err
	}
	resp, err := c.readResponse(c.timeout)
	if err != nil {
		return err
	}
	var pong string
	if err := json.Unmarshal(resp.Status, &pong); err != nil || pong != "pong" {
		return fmt.Errorf("unexpected ping response")
	}
	return nil
}

// ConnectionStatus fetches every connection's current snapshot.
func (c *Client) ConnectionStatus() (map[string]connection.StatusPayload, error) {
	if err := c.Send(Request{Command: CommandGetConnectionStatus}); err != nil {
		return nil, err
	}
	resp, err := c.readResponse(c.timeout)
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	var status map[string]connection.StatusPayload
	if err := json.Unmarshal(resp.Status, &status); err != nil {
		return nil, fmt.Errorf("malformed status response: %w", err)
	}
	return status, nil
}

// ProxyRequest forwards a unary call through the daemon.
func (c *Client) ProxyRequest(method, path string, data json.RawMessage, connectionType string) (json.RawMessage, error) {
	req := Request{
		Command:        CommandProxyRequest,
		Method:         method,
		Path:           path,
		Data:           data,
		ConnectionType: connectionType,
	}
	if err := c.Send(req); err != nil {
		return nil, err
	}
	// The daemon's own 30s submission deadline governs; leave headroom so
	// its timeout error reaches us instead of a socket deadline.
	resp, err := c.readResponse(c.timeout + 5*time.Second)
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	return resp.Result, nil
}

// StreamChat streams a chat and invokes fn for every chunk. It returns
// once the daemon sends the done marker or an error.
func (c *Client) StreamChat(model string, messages []broker.ChatMessage, connectionType string, fn func(json.RawMessage) error) error {
	req := Request{
		Command:        CommandStreamChat,
		Model:          model,
		Messages:       messages,
		ConnectionType: connectionType,
	}
	if err := c.Send(req); err != nil {
		return err
	}
	for {
		resp, err := c.readResponse(0)
		if err != nil {
			return err
		}
		if resp.Error != "" {
			return errors.New(resp.Error)
		}
		if resp.Done {
			return nil
		}
		if resp.Chunk == nil {
			continue
		}
		if err := fn(resp.Chunk); err != nil {
			return err
		}
	}
}

// UpdateAuthToken sets or clears the relay token. Fire-and-forget.
func (c *Client) UpdateAuthToken(token string) error {
	return c.Send(Request{Command: CommandUpdateAuthToken, Token: token})
}

// UpdateLocalTarget repoints the local backend and waits for the ack.
func (c *Client) UpdateLocalTarget(host string, port int) error {
	if err := c.Send(Request{Command: CommandUpdateLocalTarget, Host: host, Port: port}); err != nil {
		return err
	}
	resp, err := c.readResponse(c.timeout)
	if err != nil {
		return err
	}
	if resp.Error != "" {
		return errors.New(resp.Error)
	}
	return nil
}

// Quit asks the daemon to shut down. Fire-and-forget.
func (c *Client) Quit() error {
	return c.Send(Request{Command: CommandQuit})
}
