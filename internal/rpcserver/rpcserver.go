// Package rpcserver exposes the Manager's three remote procedures over
// JSON-RPC-over-HTTP, mounted at /RPC2 only.
package rpcserver

import (
	"context"
	"math"
	"net/http"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"
	"github.com/creachadair/jrpc2/jhttp"
)

// managerAPI is the subset of *manager.Manager the RPC surface depends on.
// Declared as an interface so tests can substitute a fake Manager.
type managerAPI interface {
	RegisterChallenge(name, hostVeth string, composeFiles []string) error
	ConnectUser(challengeName, cn, ip string, port int) (int, error)
	DisconnectUser(challengeName, cn, ip string, port int) error
}

// Server is the RPC-addressable front end over a Manager.
type Server struct {
	m      managerAPI
	bridge *jhttp.Bridge
}

// New wraps m for RPC dispatch.
func New(m managerAPI) *Server {
	return &Server{m: m}
}

// RegisterChallengeRequest is the register_challenge parameter tuple.
type RegisterChallengeRequest struct {
	Name         string   `json:"name"`
	HostVeth     string   `json:"host_veth"`
	ComposeFiles []string `json:"compose_files"`
}

// ConnectUserRequest is the connect_user parameter tuple.
type ConnectUserRequest struct {
	Challenge string `json:"challenge"`
	CN        string `json:"cn"`
	IP        string `json:"ip"`
	Port      int    `json:"port"`
}

// DisconnectUserRequest is the disconnect_user parameter tuple.
type DisconnectUserRequest struct {
	Challenge string `json:"challenge"`
	CN        string `json:"cn"`
	IP        string `json:"ip"`
	Port      int    `json:"port"`
}

func (s *Server) RegisterChallenge(ctx context.Context, req RegisterChallengeRequest) error {
	return s.m.RegisterChallenge(req.Name, req.HostVeth, req.ComposeFiles)
}

func (s *Server) ConnectUser(ctx context.Context, req ConnectUserRequest) (int, error) {
	return s.m.ConnectUser(req.Challenge, req.CN, req.IP, req.Port)
}

func (s *Server) DisconnectUser(ctx context.Context, req DisconnectUserRequest) error {
	return s.m.DisconnectUser(req.Challenge, req.CN, req.IP, req.Port)
}

// Handler returns an http.Handler that answers JSON-RPC requests on /RPC2
// only; any other path 404s via the default ServeMux behavior, matching
// the original XML-RPC server's rpc_paths restriction.
func (s *Server) Handler() http.Handler {
	bridge := jhttp.NewBridge(handler.Map{
		"register_challenge": handler.New(s.RegisterChallenge),
		"connect_user":       handler.New(s.ConnectUser),
		"disconnect_user":    handler.New(s.DisconnectUser),
	}, &jhttp.BridgeOptions{
		Server: &jrpc2.ServerOptions{Concurrency: math.MaxInt},
	})

	mux := http.NewServeMux()
	mux.Handle("/RPC2", bridge)
	return mux
}
