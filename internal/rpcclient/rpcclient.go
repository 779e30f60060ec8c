// Package rpcclient is a thin jrpc2 client over the Manager's RPC surface.
// It plays the role the OpenVPN client-connect/client-disconnect/
// register_challenge hook scripts play against the real daemon: callers
// outside this repo shell out to those scripts, but integration tests and
// any in-process tooling can use this client directly instead of spawning
// them.
package rpcclient

import (
	"context"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/jhttp"
)

// DialTimeout is a timeout value exported for callers. New does not apply
// it: New performs no network I/O, and the transport dials lazily per
// request.
const DialTimeout = 15 * time.Second

// Client calls the Manager's register_challenge/connect_user/
// disconnect_user methods over JSON-RPC-over-HTTP at /RPC2.
type Client struct {
	rpc *jrpc2.Client
}

var noResult interface{}

// New returns a Client posting requests to baseURL + "/RPC2" (baseURL like
// "http://127.0.0.1:8000").
func New(baseURL string) *Client {
	ch := jhttp.NewChannel(baseURL+"/RPC2", nil)
	return &Client{rpc: jrpc2.NewClient(ch, nil)}
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.rpc.Close()
}

// RegisterChallenge mirrors the startup script's one-shot call on daemon
// boot.
func (c *Client) RegisterChallenge(ctx context.Context, name, hostVeth string, composeFiles []string) error {
	req := struct {
		Name         string   `json:"name"`
		HostVeth     string   `json:"host_veth"`
		ComposeFiles []string `json:"compose_files"`
	}{Name: name, HostVeth: hostVeth, ComposeFiles: composeFiles}

	return c.rpc.CallResult(ctx, "register_challenge", req, &noResult)
}

// ConnectUser mirrors the client-connect hook: it returns the VLAN ID the
// hook script writes into the per-client dynamic config as
// "vlan-pvid <N>".
func (c *Client) ConnectUser(ctx context.Context, challenge, cn, ip string, port int) (int, error) {
	req := struct {
		Challenge string `json:"challenge"`
		CN        string `json:"cn"`
		IP        string `json:"ip"`
		Port      int    `json:"port"`
	}{Challenge: challenge, CN: cn, IP: ip, Port: port}

	var vlan int
	if err := c.rpc.CallResult(ctx, "connect_user", req, &vlan); err != nil {
		return 0, err
	}
	return vlan, nil
}

// DisconnectUser mirrors the client-disconnect hook.
func (c *Client) DisconnectUser(ctx context.Context, challenge, cn, ip string, port int) error {
	req := struct {
		Challenge string `json:"challenge"`
		CN        string `json:"cn"`
		IP        string `json:"ip"`
		Port      int    `json:"port"`
	}{Challenge: challenge, CN: cn, IP: ip, Port: port}

	return c.rpc.CallResult(ctx, "disconnect_user", req, &noResult)
}
