// Package netlinkgw wraps the host network namespace operations the
// Manager needs: interface lookup, VLAN sub-interface lifecycle, bridge
// enslavement and address stripping.
package netlinkgw

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// NetlinkError wraps any failure from a host-network mutation.
type NetlinkError struct {
	Op  string
	Err error
}

func (e *NetlinkError) Error() string {
	return fmt.Sprintf("netlink %s: %v", e.Op, e.Err)
}

func (e *NetlinkError) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &NetlinkError{Op: op, Err: err}
}

// Addr is an interface address as returned by ListAddresses.
type Addr struct {
	IP        string
	PrefixLen int
}

// Gateway is the capability surface the rest of the Manager depends on.
// Tests substitute a fake implementation; production wires netlinkGateway.
type Gateway interface {
	Interface(name string) (netlink.Link, error)
	EnsureUp(name string) error
	CreateVLAN(ifname, parentName string, vlanID int) (netlink.Link, error)
	RemoveInterface(name string) error
	ListAddresses(name string) ([]Addr, error)
	RemoveAddress(name string, a Addr) error
	AddPort(bridgeName, memberName string) error
	Close() error
}

type netlinkGateway struct{}

// New returns a Gateway backed by the real host netlink namespace.
func New() Gateway {
	return &netlinkGateway{}
}

func (g *netlinkGateway) Interface(name string) (netlink.Link, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		var lnf netlink.LinkNotFoundError
		if errors.As(err, &lnf) {
			return nil, nil
		}
		return nil, wrap("interface "+name, err)
	}
	return link, nil
}

func (g *netlinkGateway) EnsureUp(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return wrap("ensure_up lookup "+name, err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return wrap("ensure_up "+name, err)
	}
	return nil
}

// CreateVLAN creates a VLAN sub-interface named ifname with the given
// parent and 802.1Q tag. It is idempotent only when ifname already exists
// with that same parent and VLAN ID; if it exists with a different parent
// or tag (a stale interface, or a foreign one squatting on the truncated
// name), it fails with a NetlinkError rather than silently handing back
// the wrong interface.
func (g *netlinkGateway) CreateVLAN(ifname, parentName string, vlanID int) (netlink.Link, error) {
	parent, err := netlink.LinkByName(parentName)
	if err != nil {
		return nil, wrap("create_vlan parent lookup "+parentName, err)
	}

	if existing, err := netlink.LinkByName(ifname); err == nil {
		if err := checkVLANMatch(existing, parent, vlanID); err != nil {
			return nil, err
		}
		return existing, nil
	}

	la := netlink.NewLinkAttrs()
	la.Name = ifname
	la.ParentIndex = parent.Attrs().Index
	vlan := &netlink.Vlan{LinkAttrs: la, VlanId: vlanID}

	if err := netlink.LinkAdd(vlan); err != nil && !errors.Is(err, unix.EEXIST) {
		return nil, wrap("create_vlan "+ifname, err)
	}

	link, err := netlink.LinkByName(ifname)
	if err != nil {
		return nil, wrap("create_vlan refetch "+ifname, err)
	}
	if err := checkVLANMatch(link, parent, vlanID); err != nil {
		return nil, err
	}
	return link, nil
}

// checkVLANMatch verifies link is a VLAN sub-interface of parent tagged
// vlanID, returning a NetlinkError describing the mismatch otherwise.
func checkVLANMatch(link, parent netlink.Link, vlanID int) error {
	vlan, ok := link.(*netlink.Vlan)
	if !ok {
		return &NetlinkError{
			Op:  "create_vlan " + link.Attrs().Name,
			Err: fmt.Errorf("interface %q already exists and is not a vlan sub-interface", link.Attrs().Name),
		}
	}
	if link.Attrs().ParentIndex != parent.Attrs().Index || vlan.VlanId != vlanID {
		return &NetlinkError{
			Op: "create_vlan " + link.Attrs().Name,
			Err: fmt.Errorf("interface %q already exists with parent index %d vlan %d, want parent index %d vlan %d",
				link.Attrs().Name, link.Attrs().ParentIndex, vlan.VlanId, parent.Attrs().Index, vlanID),
		}
	}
	return nil
}

// RemoveInterface deletes an interface by name. Missing interfaces are a
// no-op.
func (g *netlinkGateway) RemoveInterface(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		var lnf netlink.LinkNotFoundError
		if errors.As(err, &lnf) {
			return nil
		}
		return wrap("remove_interface lookup "+name, err)
	}

	if err := netlink.LinkDel(link); err != nil {
		return wrap("remove_interface "+name, err)
	}
	return nil
}

func (g *netlinkGateway) ListAddresses(name string) ([]Addr, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return nil, wrap("list_addresses lookup "+name, err)
	}

	addrs, err := netlink.AddrList(link, netlink.FAMILY_ALL)
	if err != nil {
		return nil, wrap("list_addresses "+name, err)
	}

	out := make([]Addr, 0, len(addrs))
	for _, a := range addrs {
		ones, _ := a.Mask.Size()
		out = append(out, Addr{IP: a.IP.String(), PrefixLen: ones})
	}
	return out, nil
}

func (g *netlinkGateway) RemoveAddress(name string, a Addr) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return wrap("remove_address lookup "+name, err)
	}

	parsed, err := netlink.ParseAddr(fmt.Sprintf("%s/%d", a.IP, a.PrefixLen))
	if err != nil {
		return wrap("remove_address parse", err)
	}

	if err := netlink.AddrDel(link, parsed); err != nil {
		return wrap("remove_address "+name, err)
	}
	return nil
}

// AddPort enslaves memberName to bridgeName. Idempotent: if the member is
// already enslaved to that bridge, it's a no-op.
func (g *netlinkGateway) AddPort(bridgeName, memberName string) error {
	bridge, err := netlink.LinkByName(bridgeName)
	if err != nil {
		return wrap("add_port bridge lookup "+bridgeName, err)
	}

	member, err := netlink.LinkByName(memberName)
	if err != nil {
		return wrap("add_port member lookup "+memberName, err)
	}

	if member.Attrs().MasterIndex == bridge.Attrs().Index {
		logrus.WithField("member", memberName).Debug("already enslaved to bridge")
		return nil
	}

	if err := netlink.LinkSetMaster(member, bridge); err != nil {
		return wrap("add_port "+memberName+" -> "+bridgeName, err)
	}
	return nil
}

// Close releases any resources held by the gateway. netlinkGateway talks
// to the host namespace through package-level netlink calls and holds
// nothing between them, so this is a no-op; it exists so Manager.Stop has
// a single handle-release call site regardless of which Gateway
// implementation it holds.
func (g *netlinkGateway) Close() error {
	return nil
}
