package cluster

import (
	"errors"
	"fmt"

	"github.com/yourusername/plb/internal/proxmox"
)

// fakeGateway serves canned hypervisor answers for builder and sampler tests.
type fakeGateway struct {
	status    []proxmox.ClusterStatusEntry
	ha        proxmox.HAManagerStatus
	resources []proxmox.ClusterResource
	rrd       map[int][]proxmox.RRDPoint
	rrdErr    map[int]error
	rrdCalls  int

	statusErr    error
	haErr        error
	resourcesErr error
}

func newFakeGateway() *fakeGateway {
	gw := &fakeGateway{
		status: []proxmox.ClusterStatusEntry{
			{Type: "cluster", Name: "testcl", Nodes: 2},
		},
		rrd:    make(map[int][]proxmox.RRDPoint),
		rrdErr: make(map[int]error),
	}
	gw.ha.ManagerStatus.MasterNode = "alpha"
	gw.ha.Quorum.Quorate = true
	return gw
}

func (g *fakeGateway) Authenticate() error { return nil }

func (g *fakeGateway) GetClusterStatus() ([]proxmox.ClusterStatusEntry, error) {
	return g.status, g.statusErr
}

func (g *fakeGateway) GetClusterResources() ([]proxmox.ClusterResource, error) {
	return g.resources, g.resourcesErr
}

func (g *fakeGateway) GetHAStatus() (*proxmox.HAManagerStatus, error) {
	if g.haErr != nil {
		return nil, g.haErr
	}
	ha := g.ha
	return &ha, nil
}

func (g *fakeGateway) GetRRDData(node string, kind proxmox.GuestKind, vmid int, timeframe string) ([]proxmox.RRDPoint, error) {
	g.rrdCalls++
	if err := g.rrdErr[vmid]; err != nil {
		return nil, err
	}
	if points, ok := g.rrd[vmid]; ok {
		return points, nil
	}
	return nil, nil
}

func (g *fakeGateway) GetMigrateCheck(node string, vmid int) (*proxmox.MigrateCheck, error) {
	return nil, errors.New("not implemented")
}

func (g *fakeGateway) MigrateGuest(node string, kind proxmox.GuestKind, vmid int, target string) (string, error) {
	return "", errors.New("not implemented")
}

func (g *fakeGateway) ListGuests(node string, kind proxmox.GuestKind) ([]proxmox.GuestListEntry, error) {
	return nil, errors.New("not implemented")
}

func (g *fakeGateway) ResumeGuest(node string, vmid int) error {
	return errors.New("not implemented")
}

var _ proxmox.Gateway = (*fakeGateway)(nil)

// nodeResource builds a node entry for the resource inventory.
func nodeResource(name string, maxCPU int, cpu float64, maxMem, mem int64) proxmox.ClusterResource {
	return proxmox.ClusterResource{
		ID:     fmt.Sprintf("node/%s", name),
		Type:   "node",
		Node:   name,
		Status: "online",
		MaxCPU: maxCPU,
		CPU:    cpu,
		MaxMem: maxMem,
		Mem:    mem,
	}
}

// guestResource builds a running guest entry.
func guestResource(kind string, vmid int, node string, mem int64) proxmox.ClusterResource {
	return proxmox.ClusterResource{
		ID:     fmt.Sprintf("%s/%d", kind, vmid),
		Type:   kind,
		Node:   node,
		Status: "running",
		VMID:   vmid,
		Mem:    mem,
	}
}
