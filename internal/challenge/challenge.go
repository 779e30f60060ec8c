// Package challenge implements the Challenge registry and the per-user
// cluster/VLAN lifecycle state machine that is the heart of the Manager.
package challenge

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/naumachia-net/manager/internal/cndecode"
	"github.com/naumachia-net/manager/internal/containergw"
	"github.com/naumachia-net/manager/internal/netlinkgw"
	"github.com/naumachia-net/manager/internal/vlanalloc"
)

// TopologyError reports that a just-booted cluster's expected default
// network could not be found.
type TopologyError struct {
	ProjectID string
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("topology: default network for project %q not found", e.ProjectID)
}

// env carries the shared, immutable-after-construction capabilities a User
// needs to act (compose files, host veth, gateways). Users hold a pointer
// to this rather than to the owning Challenge: it is access-only, never
// used to reach back into the Challenge's user registry.
type env struct {
	challengeName string
	hostVeth      string
	composeFiles  []string
	netlink       netlinkgw.Gateway
	containers    containergw.Gateway
}

// Challenge is a named bundle of compose files plus a host VETH, and the
// registry of Users connected to it.
type Challenge struct {
	Name         string
	HostVeth     string
	ComposeFiles []string

	env *env

	usersMu sync.Mutex
	users   map[string]*User
	vlans   *vlanalloc.Allocator
}

// New constructs a Challenge and brings its host VETH up. Idempotent:
// bringing an already-up interface up again is a no-op at the netlink
// layer.
func New(name, hostVeth string, composeFiles []string, nl netlinkgw.Gateway, cg containergw.Gateway) (*Challenge, error) {
	if err := nl.EnsureUp(hostVeth); err != nil {
		return nil, err
	}

	return &Challenge{
		Name:         name,
		HostVeth:     hostVeth,
		ComposeFiles: composeFiles,
		env: &env{
			challengeName: name,
			hostVeth:      hostVeth,
			composeFiles:  composeFiles,
			netlink:       nl,
			containers:    cg,
		},
		users: make(map[string]*User),
		vlans: vlanalloc.New(),
	}, nil
}

// getOrCreateUser returns the User for cn, allocating a VLAN and creating
// it under a single critical section if this is the first sighting of cn.
func (c *Challenge) getOrCreateUser(cn string) (*User, error) {
	c.usersMu.Lock()
	defer c.usersMu.Unlock()

	if u, ok := c.users[cn]; ok {
		return u, nil
	}

	vlan, err := c.vlans.Allocate()
	if err != nil {
		return nil, err
	}

	display := cn
	if decoded, err := cndecode.Decode(cn); err != nil {
		logrus.WithError(err).WithField("cn", cn).Warn("failed to decode common name, using raw form")
	} else {
		display = decoded
	}

	u := newUser(cn, display, vlan, c.Name, c.env)
	c.users[cn] = u
	return u, nil
}

// ConnectUser gets or creates the User for cn, adds the connection, and
// returns the user's VLAN ID.
func (c *Challenge) ConnectUser(cn, ip string, port int) (int, error) {
	u, err := c.getOrCreateUser(cn)
	if err != nil {
		return 0, err
	}

	if err := u.AddConnection(ip, port); err != nil {
		return 0, err
	}

	return u.VLAN(), nil
}

// DisconnectUser gets or creates the User for cn (disconnect for an
// unknown cn must never fail) and removes the connection.
func (c *Challenge) DisconnectUser(cn, ip string, port int) error {
	u, err := c.getOrCreateUser(cn)
	if err != nil {
		logrus.WithError(err).WithField("cn", cn).Warn("disconnect for cn that failed get-or-create, ignoring")
		return nil
	}

	return u.RemoveConnection(ip, port)
}

// DisconnectAll stops every User's cluster. Invoked at Manager shutdown.
func (c *Challenge) DisconnectAll() {
	c.usersMu.Lock()
	users := make([]*User, 0, len(c.users))
	for _, u := range c.users {
		users = append(users, u)
	}
	c.usersMu.Unlock()

	for _, u := range users {
		u.Stop()
	}
}

func projectID(cn, challengeName string) string {
	return strings.ToLower(cn) + "_" + challengeName
}
