package rpcserver

import (
	"context"
	"fmt"
	"net"
	"strconv"
)

// Client is a single channel to a Server: one TCP connection over which
// requests and responses are exchanged in order, one at a time.
type Client struct {
	conn net.Conn
}

// Dial opens a channel to a Server listening on 127.0.0.1:port.
func Dial(ctx context.Context, port int) (*Client, error) {
	var d net.Dialer

	conn, err := d.DialContext(ctx, "tcp", "127.0.0.1:"+strconv.Itoa(port))
	if err != nil {
		return nil, fmt.Errorf("rpcserver: dial: %w", err)
	}

	return &Client{conn: conn}, nil
}

// Call sends req and waits for the matching Response.
func (c *Client) Call(req Request) (Response, error) {
	if err := writeFrame(c.conn, req); err != nil {
		return Response{}, err
	}

	var resp Response
	if err := readFrame(c.conn, &resp); err != nil {
		return Response{}, err
	}

	return resp, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
