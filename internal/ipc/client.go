package ipc

import (
	"errors"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"

	"harmonix/internal/protocol"
)

// dialTimeout bounds connecting to a daemon that is not there.
const dialTimeout = 2 * time.Second

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, dialTimeout)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
	}
	return nil
}

func (c *Client) call(method string, req, resp any) error {
	return c.client.Call(serviceName+"."+method, req, resp)
}

// Convert runs an invocation on the daemon and waits for its outcome.
func (c *Client) Convert(req protocol.Request) (*ConvertResponse, error) {
	var resp ConvertResponse
	if err := c.call("Convert", ConvertRequest{Request: req}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Start launches an invocation on the daemon.
func (c *Client) Start(req protocol.Request) (*StartResponse, error) {
	var resp StartResponse
	if err := c.call("Start", StartRequest{Request: req}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Progress returns worker messages after the cursor.
func (c *Client) Progress(req ProgressRequest) (*ProgressResponse, error) {
	var resp ProgressResponse
	if err := c.call("Progress", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Outcome fetches an invocation's state, optionally waiting for it to settle.
func (c *Client) Outcome(req OutcomeRequest) (*OutcomeResponse, error) {
	var resp OutcomeResponse
	if err := c.call("Outcome", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cancel stops a running invocation.
func (c *Client) Cancel(id string) (*CancelResponse, error) {
	var resp CancelResponse
	if err := c.call("Cancel", CancelRequest{InvocationID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call("Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History lists recorded invocations.
func (c *Client) History(limit int, statuses []string) (*HistoryResponse, error) {
	var resp HistoryResponse
	if err := c.call("History", HistoryRequest{Limit: limit, Statuses: statuses}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
