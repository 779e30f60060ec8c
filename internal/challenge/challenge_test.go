package challenge

import (
	"encoding/base32"
	"errors"
	"strings"
	"testing"
)

func encodeCN(name string) string {
	return strings.TrimRight(base32.StdEncoding.EncodeToString([]byte(name)), "=")
}

func newTestChallenge(t *testing.T) (*Challenge, *fakeNetlink, *fakeContainers) {
	t.Helper()
	nl := newFakeNetlink()
	cg := newFakeContainers()
	c, err := New("example", "host0", []string{"ex.yml"}, nl, cg)
	if err != nil {
		t.Fatalf("New(): %v", err)
	}
	return c, nl, cg
}

func TestRegisterBringsVethUp(t *testing.T) {
	t.Parallel()

	_, nl, _ := newTestChallenge(t)
	if !nl.up["host0"] {
		t.Fatal("expected host veth to be brought up on registration")
	}
}

// Scenario 1: register + first connect.
func TestConnectUserFirstConnection(t *testing.T) {
	t.Parallel()

	c, nl, cg := newTestChallenge(t)
	cn := encodeCN("MFRGG")

	vlan, err := c.ConnectUser(cn, "10.8.0.2", 49152)
	if err != nil {
		t.Fatalf("ConnectUser(): %v", err)
	}
	if vlan < 10 || vlan > 4000 {
		t.Fatalf("vlan %d out of range", vlan)
	}

	projectID := strings.ToLower(cn) + "_example"
	if !cg.cluster(projectID).running {
		t.Fatalf("expected project %q running", projectID)
	}

	ifname := vlanIfname("host0", vlan)
	if !nl.ifaces[ifname] {
		t.Fatalf("expected vlan interface %q to exist", ifname)
	}
	if nl.master[ifname] == "" {
		t.Fatalf("expected vlan interface %q to be bridged", ifname)
	}
}

// Scenario 2: second connect from same user reuses the vlan and doesn't
// reboot the cluster.
func TestConnectUserSecondConnectionSameUser(t *testing.T) {
	t.Parallel()

	c, _, cg := newTestChallenge(t)
	cn := encodeCN("MFRGG")

	vlan1, err := c.ConnectUser(cn, "10.8.0.2", 49152)
	if err != nil {
		t.Fatalf("ConnectUser() #1: %v", err)
	}
	vlan2, err := c.ConnectUser(cn, "10.8.0.2", 49153)
	if err != nil {
		t.Fatalf("ConnectUser() #2: %v", err)
	}
	if vlan1 != vlan2 {
		t.Fatalf("vlan changed across connections: %d != %d", vlan1, vlan2)
	}

	projectID := strings.ToLower(cn) + "_example"
	if cg.cluster(projectID).upCount != 1 {
		t.Fatalf("compose_up invoked %d times, want 1", cg.cluster(projectID).upCount)
	}
}

// Scenario 3: full drain tears the cluster and vlan down; partial drain
// does not.
func TestFullDrainTearsDownCluster(t *testing.T) {
	t.Parallel()

	c, nl, cg := newTestChallenge(t)
	cn := encodeCN("MFRGG")

	if _, err := c.ConnectUser(cn, "10.8.0.2", 49152); err != nil {
		t.Fatalf("ConnectUser() #1: %v", err)
	}
	vlan, err := c.ConnectUser(cn, "10.8.0.2", 49153)
	if err != nil {
		t.Fatalf("ConnectUser() #2: %v", err)
	}

	projectID := strings.ToLower(cn) + "_example"
	ifname := vlanIfname("host0", vlan)

	if err := c.DisconnectUser(cn, "10.8.0.2", 49153); err != nil {
		t.Fatalf("DisconnectUser() #1: %v", err)
	}
	if !cg.cluster(projectID).running {
		t.Fatal("cluster should still be running after partial drain")
	}
	if !nl.ifaces[ifname] {
		t.Fatal("vlan interface should still exist after partial drain")
	}

	if err := c.DisconnectUser(cn, "10.8.0.2", 49152); err != nil {
		t.Fatalf("DisconnectUser() #2: %v", err)
	}
	if cg.cluster(projectID).running {
		t.Fatal("cluster should be torn down after full drain")
	}
	if nl.ifaces[ifname] {
		t.Fatal("vlan interface should be removed after full drain")
	}
}

// Scenario 4: stale cluster already running before first connect is
// cleaned up and rebooted.
func TestStaleClusterCleanedUpOnConnect(t *testing.T) {
	t.Parallel()

	c, _, cg := newTestChallenge(t)
	cn := encodeCN("MFRGG")
	projectID := strings.ToLower(cn) + "_example"

	cg.cluster(projectID).running = true

	if _, err := c.ConnectUser(cn, "10.8.0.2", 49152); err != nil {
		t.Fatalf("ConnectUser(): %v", err)
	}
	if cg.cluster(projectID).upCount != 1 {
		t.Fatalf("compose_up invoked %d times, want 1", cg.cluster(projectID).upCount)
	}
	if !cg.cluster(projectID).running {
		t.Fatal("cluster should be running after reconnect")
	}
}

// Scenario 5: disconnect for an unknown (cn, addr) is a successful no-op.
func TestDisconnectUnknownUserIsNoop(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestChallenge(t)
	if err := c.DisconnectUser(encodeCN("ZZZZ"), "1.2.3.4", 9); err != nil {
		t.Fatalf("DisconnectUser() for unknown user: %v", err)
	}
}

func TestConnectUserMissingDefaultNetworkIsTopologyError(t *testing.T) {
	t.Parallel()

	c, err := New("example2", "host1", nil, newFakeNetlink(), &noNetworkContainers{fakeContainers: newFakeContainers()})
	if err != nil {
		t.Fatalf("New(): %v", err)
	}

	_, err = c.ConnectUser(encodeCN("MFRGG"), "10.8.0.2", 1)

	var topErr *TopologyError
	if !errors.As(err, &topErr) {
		t.Fatalf("expected *TopologyError, got %v (%T)", err, err)
	}
}

// noNetworkContainers runs compose_up/down/top normally but never reports
// a default network, to exercise the TopologyError path.
type noNetworkContainers struct {
	*fakeContainers
}

func (n *noNetworkContainers) ComposeUp(projectID string, composeFiles []string) error {
	n.cluster(projectID).running = true
	n.cluster(projectID).upCount++
	return nil
}
