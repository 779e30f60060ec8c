// Package manager implements the top-level registry of challenges and
// routes RPC calls into the right Challenge.
package manager

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/naumachia-net/manager/internal/challenge"
	"github.com/naumachia-net/manager/internal/containergw"
	"github.com/naumachia-net/manager/internal/netlinkgw"
)

// UnknownChallengeError reports an RPC call against a challenge name that
// was never registered.
type UnknownChallengeError struct {
	Name string
}

func (e *UnknownChallengeError) Error() string {
	return fmt.Sprintf("unknown challenge %q", e.Name)
}

// Manager owns the set of registered challenges and the shared gateway
// handles they're built from.
type Manager struct {
	netlink    netlinkgw.Gateway
	containers containergw.Gateway

	mu         sync.Mutex
	challenges map[string]*challenge.Challenge
}

// New constructs a Manager over the given gateways. The gateways are owned
// by the Manager for its entire lifetime and released in Stop.
func New(nl netlinkgw.Gateway, cg containergw.Gateway) *Manager {
	return &Manager{
		netlink:    nl,
		containers: cg,
		challenges: make(map[string]*challenge.Challenge),
	}
}

// RegisterChallenge constructs and stores a Challenge. Re-registering an
// already-known name is a warned no-op, not an error.
func (m *Manager) RegisterChallenge(name, hostVeth string, composeFiles []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.challenges[name]; ok {
		logrus.WithField("challenge", name).Warn("duplicate register_challenge, ignoring")
		return nil
	}

	c, err := challenge.New(name, hostVeth, composeFiles, m.netlink, m.containers)
	if err != nil {
		return err
	}

	m.challenges[name] = c
	return nil
}

func (m *Manager) lookup(name string) (*challenge.Challenge, error) {
	m.mu.Lock()
	c, ok := m.challenges[name]
	m.mu.Unlock()

	if !ok {
		return nil, &UnknownChallengeError{Name: name}
	}
	return c, nil
}

// ConnectUser routes to the named challenge and returns the user's VLAN
// ID.
func (m *Manager) ConnectUser(challengeName, cn, ip string, port int) (int, error) {
	c, err := m.lookup(challengeName)
	if err != nil {
		return 0, err
	}
	return c.ConnectUser(cn, ip, port)
}

// DisconnectUser routes to the named challenge. An unknown challenge here
// is still surfaced as an error: unlike an unknown user, an unknown
// challenge indicates a misconfigured caller, not a stale hook.
func (m *Manager) DisconnectUser(challengeName, cn, ip string, port int) error {
	c, err := m.lookup(challengeName)
	if err != nil {
		return err
	}
	return c.DisconnectUser(cn, ip, port)
}

// Stop disconnects every user of every challenge, then releases the
// shared gateway handles.
func (m *Manager) Stop() {
	m.mu.Lock()
	challenges := make([]*challenge.Challenge, 0, len(m.challenges))
	for _, c := range m.challenges {
		challenges = append(challenges, c)
	}
	m.mu.Unlock()

	for _, c := range challenges {
		c.DisconnectAll()
	}

	if err := m.containers.Close(); err != nil {
		logrus.WithError(err).Error("failed to close container gateway")
	}
	if err := m.netlink.Close(); err != nil {
		logrus.WithError(err).Error("failed to close netlink gateway")
	}
}
