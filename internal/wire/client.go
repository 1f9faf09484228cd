package wire

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/cpape/butler/internal/inventory"
)

// Client is a short-lived wire client: each call opens a connection,
// sends one request, reads one response, and closes — matching the
// at-least-once, no-session protocol the coordinator expects.
type Client struct {
	Addr    string
	Timeout time.Duration
}

// RequestBlock asks the coordinator for a new block. A nil block with
// a nil error means "stop" (no more work).
func (c *Client) RequestBlock() (inventory.Block, error) {
	resp, err := c.roundTrip("1")
	if err != nil {
		return nil, err
	}
	if resp == StopToken {
		return nil, nil
	}
	fields := strings.Fields(resp)
	block := make(inventory.Block, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed block response %q: %w", resp, err)
		}
		block[i] = v
	}
	return block, nil
}

// ConfirmBlock reports a finished block. The returned bool is true if
// the coordinator accepted the confirm (the block was still in
// flight), matching the wire's 0=accept/1=reject encoding, already
// inverted back to a normal boolean here.
func (c *Client) ConfirmBlock(b inventory.Block) (bool, error) {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = strconv.FormatInt(v, 10)
	}
	resp, err := c.roundTrip(strings.Join(parts, " "))
	if err != nil {
		return false, err
	}
	return resp == "0", nil
}

func (c *Client) roundTrip(request string) (string, error) {
	conn, err := net.DialTimeout("tcp", c.Addr, c.dialTimeout())
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if err := WriteLine(conn, request); err != nil {
		return "", err
	}

	resp, err := ReadLine(bufio.NewReader(conn))
	if err != nil {
		return "", err
	}
	return resp, nil
}

func (c *Client) dialTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 10 * time.Second
}
