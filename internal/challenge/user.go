package challenge

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	staleCleanupTimeoutSeconds = 3
	teardownTimeoutSeconds     = 10
	shutdownTimeoutSeconds     = 2
)

// User owns one (challenge, common-name) pair's cluster lifecycle,
// connection set, and VLAN wiring. Every mutating method is serialised
// under mu; mu is not reentrant, so public methods lock-and-delegate to
// unexported *Locked cores that assume the lock is already held.
type User struct {
	CN          string
	DisplayName string
	ProjectID   string

	vlan int // stable for the User's lifetime; never reassigned or released

	env *env

	mu          sync.Mutex
	connections map[string]struct{}
}

func newUser(cn, displayName string, vlan int, challengeName string, e *env) *User {
	return &User{
		CN:          cn,
		DisplayName: displayName,
		ProjectID:   projectID(cn, challengeName),
		vlan:        vlan,
		env:         e,
		connections: make(map[string]struct{}),
	}
}

// VLAN returns the user's assigned VLAN ID. It never changes after
// creation, so no locking is needed.
func (u *User) VLAN() int {
	return u.vlan
}

func connKey(ip string, port int) string {
	return fmt.Sprintf("%s:%d", ip, port)
}

// AddConnection records a live tunnel for (ip, port), booting the cluster
// and bridging its VLAN first if this is the user's first connection.
func (u *User) AddConnection(ip string, port int) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.addConnectionLocked(connKey(ip, port))
}

func (u *User) addConnectionLocked(addr string) error {
	if len(u.connections) == 0 {
		running, err := u.env.containers.ComposeIsRunning(u.ProjectID, u.env.composeFiles)
		if err != nil {
			return err
		}
		if running {
			logrus.WithField("project", u.ProjectID).Warn("cluster already running at connect, clearing stale state")
			if err := u.stopComposeLocked(staleCleanupTimeoutSeconds); err != nil {
				return err
			}
		}

		if err := u.env.containers.ComposeUp(u.ProjectID, u.env.composeFiles); err != nil {
			return err
		}

		if err := u.ensureVLANBridgedLocked(); err != nil {
			return err
		}
	}

	u.connections[addr] = struct{}{}
	return nil
}

// RemoveConnection drops a tunnel for (ip, port). If this drains the
// connection set, the cluster is torn down and the VLAN sub-interface
// removed.
func (u *User) RemoveConnection(ip string, port int) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.removeConnectionLocked(connKey(ip, port))
}

func (u *User) removeConnectionLocked(addr string) error {
	if _, ok := u.connections[addr]; !ok {
		logrus.WithField("addr", addr).Warn("disconnect for unknown connection, ignoring")
		return nil
	}
	delete(u.connections, addr)

	if len(u.connections) > 0 {
		return nil
	}

	running, err := u.env.containers.ComposeIsRunning(u.ProjectID, u.env.composeFiles)
	if err != nil {
		return err
	}
	if !running {
		logrus.WithField("project", u.ProjectID).Warn("cluster already down at full drain, leaving vlan alone")
		return nil
	}

	if err := u.stopComposeLocked(teardownTimeoutSeconds); err != nil {
		logrus.WithError(err).WithField("project", u.ProjectID).Error("compose_down failed on drain, still removing vlan")
	}

	return u.ensureVLANGoneLocked()
}

// Stop tears down the cluster unconditionally. Invoked at Manager
// shutdown for every User regardless of connection state.
func (u *User) Stop() {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.stopComposeLocked(shutdownTimeoutSeconds); err != nil {
		logrus.WithError(err).WithField("project", u.ProjectID).Error("compose_down failed during shutdown")
	}
}

func (u *User) stopComposeLocked(timeoutSeconds int) error {
	return u.env.containers.ComposeDown(u.ProjectID, u.env.composeFiles, timeoutSeconds)
}

// vlanIfname truncates the host veth name to fit the kernel's 15-byte
// interface name limit once the ".<vlan>" suffix is appended.
func vlanIfname(hostVeth string, vlan int) string {
	suffix := fmt.Sprintf(".%d", vlan)
	maxBase := 15 - len(suffix)
	base := hostVeth
	if len(base) > maxBase {
		base = base[:maxBase]
	}
	return base + suffix
}

func (u *User) ensureVLANBridgedLocked() error {
	ifname := vlanIfname(u.env.hostVeth, u.vlan)

	link, err := u.env.netlink.Interface(ifname)
	if err != nil {
		return err
	}
	if link == nil {
		if _, err := u.env.netlink.CreateVLAN(ifname, u.env.hostVeth, u.vlan); err != nil {
			return err
		}
	}
	if err := u.env.netlink.EnsureUp(ifname); err != nil {
		return err
	}

	netName := u.ProjectID + "_default"
	net, err := u.env.containers.FindNetwork(netName)
	if err != nil {
		return err
	}
	if net == nil {
		return &TopologyError{ProjectID: u.ProjectID}
	}

	bridgeName := "br-" + shortID(net.ID)

	addrs, err := u.env.netlink.ListAddresses(bridgeName)
	if err != nil {
		return err
	}
	for _, a := range addrs {
		if err := u.env.netlink.RemoveAddress(bridgeName, a); err != nil {
			return err
		}
	}

	return u.env.netlink.AddPort(bridgeName, ifname)
}

func (u *User) ensureVLANGoneLocked() error {
	ifname := vlanIfname(u.env.hostVeth, u.vlan)
	return u.env.netlink.RemoveInterface(ifname)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
