package challenge

import (
	"github.com/vishvananda/netlink"

	"github.com/naumachia-net/manager/internal/containergw"
	"github.com/naumachia-net/manager/internal/netlinkgw"
)

// fakeLink is a minimal netlink.Link for tests; it carries no real kernel
// state, only a name.
type fakeLink struct {
	name string
}

func (f *fakeLink) Attrs() *netlink.LinkAttrs { return &netlink.LinkAttrs{Name: f.name} }
func (f *fakeLink) Type() string              { return "fake" }

type fakeNetlink struct {
	ifaces  map[string]bool
	up      map[string]bool
	master  map[string]string // member -> bridge
	addrs   map[string][]netlinkgw.Addr
	removed []string
}

func newFakeNetlink() *fakeNetlink {
	return &fakeNetlink{
		ifaces: make(map[string]bool),
		up:     make(map[string]bool),
		master: make(map[string]string),
		addrs:  make(map[string][]netlinkgw.Addr),
	}
}

func (f *fakeNetlink) Interface(name string) (netlink.Link, error) {
	if f.ifaces[name] {
		return &fakeLink{name: name}, nil
	}
	return nil, nil
}

func (f *fakeNetlink) EnsureUp(name string) error {
	f.up[name] = true
	return nil
}

func (f *fakeNetlink) CreateVLAN(ifname, parentName string, vlanID int) (netlink.Link, error) {
	f.ifaces[ifname] = true
	return &fakeLink{name: ifname}, nil
}

func (f *fakeNetlink) RemoveInterface(name string) error {
	if f.ifaces[name] {
		delete(f.ifaces, name)
		delete(f.up, name)
		delete(f.master, name)
		f.removed = append(f.removed, name)
	}
	return nil
}

func (f *fakeNetlink) ListAddresses(name string) ([]netlinkgw.Addr, error) {
	return f.addrs[name], nil
}

func (f *fakeNetlink) RemoveAddress(name string, a netlinkgw.Addr) error {
	var remaining []netlinkgw.Addr
	for _, existing := range f.addrs[name] {
		if existing != a {
			remaining = append(remaining, existing)
		}
	}
	f.addrs[name] = remaining
	return nil
}

func (f *fakeNetlink) AddPort(bridgeName, memberName string) error {
	f.master[memberName] = bridgeName
	return nil
}

func (f *fakeNetlink) Close() error {
	return nil
}

type fakeCluster struct {
	running bool
	upCount int
}

type fakeContainers struct {
	clusters map[string]*fakeCluster
	networks map[string]*containergw.Network
}

func newFakeContainers() *fakeContainers {
	return &fakeContainers{
		clusters: make(map[string]*fakeCluster),
		networks: make(map[string]*containergw.Network),
	}
}

func (f *fakeContainers) cluster(projectID string) *fakeCluster {
	c, ok := f.clusters[projectID]
	if !ok {
		c = &fakeCluster{}
		f.clusters[projectID] = c
	}
	return c
}

func (f *fakeContainers) ComposeUp(projectID string, composeFiles []string) error {
	c := f.cluster(projectID)
	c.running = true
	c.upCount++
	f.networks[projectID+"_default"] = &containergw.Network{ID: projectID + "net123456789", Name: projectID + "_default"}
	return nil
}

func (f *fakeContainers) ComposeDown(projectID string, composeFiles []string, timeoutSeconds int) error {
	c := f.cluster(projectID)
	c.running = false
	return nil
}

func (f *fakeContainers) ComposeIsRunning(projectID string, composeFiles []string) (bool, error) {
	return f.cluster(projectID).running, nil
}

func (f *fakeContainers) FindNetwork(name string) (*containergw.Network, error) {
	return f.networks[name], nil
}

func (f *fakeContainers) Close() error {
	return nil
}
