package rpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Client is a persistent connection to a daemon's Unix socket. One call is one
// newline-delimited Request written and one newline-delimited Response read back;
// the connection is reused across calls.
type Client struct {
	conn       net.Conn
	socketPath string
	timeout    time.Duration
}

// Dial connects to socketPath with the given per-call timeout (0 disables deadlines).
func Dial(socketPath string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", socketPath, err)
	}
	return &Client{conn: conn, socketPath: socketPath, timeout: timeout}, nil
}

// TryDial is Dial but returns (nil, nil) instead of an error when no daemon is
// listening, letting callers fall back to starting one.
func TryDial(socketPath string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 200*time.Millisecond)
	if err != nil {
		return nil, nil
	}
	return &Client{conn: conn, socketPath: socketPath, timeout: timeout}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Call sends one operation with args marshaled to JSON and returns the decoded
// Response. args may be nil.
func (c *Client) Call(workspace, operation string, args any, maxChars *int) (*Response, error) {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal args: %w", err)
	}

	req := Request{
		Operation: operation,
		Args:      argsJSON,
		Workspace: workspace,
		MaxChars:  maxChars,
	}
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	if c.timeout > 0 {
		if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
			return nil, fmt.Errorf("set deadline: %w", err)
		}
	}

	w := bufio.NewWriter(c.conn)
	if _, err := w.Write(reqJSON); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}
	if err := w.WriteByte('\n'); err != nil {
		return nil, fmt.Errorf("write newline: %w", err)
	}
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}

	r := bufio.NewReader(c.conn)
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if !resp.Success {
		return &resp, fmt.Errorf("%s: %s", resp.Code, resp.Error)
	}
	return &resp, nil
}

// Ping verifies the daemon is alive and responding.
func (c *Client) Ping() error {
	_, err := c.Call("", OpPing, nil, nil)
	return err
}
