// Package client implements the one-shot control client (C9): connect,
// send one JSON request, read one JSON response line (spec.md §4.9).
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/nishisan-dev/egd/internal/control"
)

// totalTimeout bounds the whole round trip, connect through response.
const totalTimeout = 30 * time.Second

// Client talks to a running daemon's loopback control server.
type Client struct {
	address string
}

// New builds a Client for the daemon listening on 127.0.0.1:port.
func New(port int) *Client {
	return &Client{address: fmt.Sprintf("127.0.0.1:%d", port)}
}

// Remaining is reported back to the caller so CLI output can show the
// operator how much of the 30-second budget is left after connecting.
type Remaining struct {
	AfterConnect time.Duration
}

// Call sends command and decodes the single-line JSON response.
// Connection failures (refused, unreachable, timeout) are surfaced with
// human-readable context rather than a bare net.OpError.
func (c *Client) Call(ctx context.Context, command string) (control.Response, Remaining, error) {
	deadline := time.Now().Add(totalTimeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return control.Response{}, Remaining{}, humanizeDialError(c.address, err)
	}
	defer conn.Close()

	remaining := Remaining{AfterConnect: time.Until(deadline)}
	conn.SetDeadline(deadline)

	req, err := json.Marshal(control.Request{Command: command})
	if err != nil {
		return control.Response{}, remaining, fmt.Errorf("encoding request: %w", err)
	}
	req = append(req, '\n')
	if _, err := conn.Write(req); err != nil {
		return control.Response{}, remaining, fmt.Errorf("sending request: %w", err)
	}

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		return control.Response{}, remaining, fmt.Errorf("reading response: %w", err)
	}

	var resp control.Response
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return control.Response{}, remaining, fmt.Errorf("decoding response: %w", err)
	}
	return resp, remaining, nil
}

func humanizeDialError(address string, err error) error {
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return fmt.Errorf("timed out connecting to %s: %w", address, err)
	}
	if opErr, ok := err.(*net.OpError); ok && opErr.Op == "dial" {
		return fmt.Errorf("could not reach daemon at %s (is it running?): %w", address, err)
	}
	return fmt.Errorf("connecting to %s: %w", address, err)
}
