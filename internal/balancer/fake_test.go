package balancer

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yourusername/plb/internal/cluster"
	"github.com/yourusername/plb/internal/config"
	"github.com/yourusername/plb/internal/proxmox"
)

// fakeGateway lets each test script the hypervisor's behavior through
// function fields; unset fields answer with harmless defaults.
type fakeGateway struct {
	authenticate  func() error
	clusterStatus func() ([]proxmox.ClusterStatusEntry, error)
	resources     func() ([]proxmox.ClusterResource, error)
	haStatus      func() (*proxmox.HAManagerStatus, error)
	rrdData       func(node string, kind proxmox.GuestKind, vmid int, timeframe string) ([]proxmox.RRDPoint, error)
	migrateCheck  func(node string, vmid int) (*proxmox.MigrateCheck, error)
	migrate       func(node string, kind proxmox.GuestKind, vmid int, target string) (string, error)
	listGuests    func(node string, kind proxmox.GuestKind) ([]proxmox.GuestListEntry, error)
	resume        func(node string, vmid int) error

	migrations []string // "vmid:donor->target" in submission order
	resumed    []int
}

func (g *fakeGateway) Authenticate() error {
	if g.authenticate != nil {
		return g.authenticate()
	}
	return nil
}

func (g *fakeGateway) GetClusterStatus() ([]proxmox.ClusterStatusEntry, error) {
	if g.clusterStatus != nil {
		return g.clusterStatus()
	}
	return []proxmox.ClusterStatusEntry{{Type: "cluster", Name: "testcl"}}, nil
}

func (g *fakeGateway) GetClusterResources() ([]proxmox.ClusterResource, error) {
	if g.resources != nil {
		return g.resources()
	}
	return nil, nil
}

func (g *fakeGateway) GetHAStatus() (*proxmox.HAManagerStatus, error) {
	if g.haStatus != nil {
		return g.haStatus()
	}
	ha := &proxmox.HAManagerStatus{}
	ha.ManagerStatus.MasterNode = "alpha"
	ha.Quorum.Quorate = true
	return ha, nil
}

func (g *fakeGateway) GetRRDData(node string, kind proxmox.GuestKind, vmid int, timeframe string) ([]proxmox.RRDPoint, error) {
	if g.rrdData != nil {
		return g.rrdData(node, kind, vmid, timeframe)
	}
	return nil, nil
}

func (g *fakeGateway) GetMigrateCheck(node string, vmid int) (*proxmox.MigrateCheck, error) {
	if g.migrateCheck != nil {
		return g.migrateCheck(node, vmid)
	}
	return &proxmox.MigrateCheck{}, nil
}

func (g *fakeGateway) MigrateGuest(node string, kind proxmox.GuestKind, vmid int, target string) (string, error) {
	if g.migrate != nil {
		taskID, err := g.migrate(node, kind, vmid, target)
		if err == nil {
			g.migrations = append(g.migrations, fmt.Sprintf("%d:%s->%s", vmid, node, target))
		}
		return taskID, err
	}
	g.migrations = append(g.migrations, fmt.Sprintf("%d:%s->%s", vmid, node, target))
	return "UPID:task", nil
}

func (g *fakeGateway) ListGuests(node string, kind proxmox.GuestKind) ([]proxmox.GuestListEntry, error) {
	if g.listGuests != nil {
		return g.listGuests(node, kind)
	}
	return nil, nil
}

func (g *fakeGateway) ResumeGuest(node string, vmid int) error {
	g.resumed = append(g.resumed, vmid)
	if g.resume != nil {
		return g.resume(node, vmid)
	}
	return nil
}

var _ proxmox.Gateway = (*fakeGateway)(nil)

// fakeNotifier captures messages.
type fakeNotifier struct {
	messages []string
}

func (n *fakeNotifier) Notify(message string) {
	n.messages = append(n.messages, message)
}

// testConfig parses a config with the given extra YAML appended.
func testConfig(t *testing.T, extra string) *config.Config {
	t.Helper()
	doc := `
proxmox:
  url: {ip: 10.0.0.10, port: 8006}
  auth: {username: u, password: p}
parameters:
  deviation: 10
  threshold: 95
  lxc_migration: "ON"
  perturbation_seed: 42
balancing: {weight_ram: 1, weight_cpu: 1, memory_oom_threshold: 90, cpu_threshold: 85}
` + extra
	cfg, err := config.Parse([]byte(doc))
	require.NoError(t, err)
	return cfg
}

// testNode builds an included node with derived fields filled in.
func testNode(name string, maxCPU int, cpuFraction float64, maxMem, usedMem int64) *cluster.Node {
	return &cluster.Node{
		Name:        name,
		Status:      "online",
		MaxCPU:      maxCPU,
		CPUFraction: cpuFraction,
		CPUUsed:     float64(maxCPU) * cpuFraction,
		MaxMem:      maxMem,
		UsedMem:     usedMem,
		FreeMem:     maxMem - usedMem,
		MemLoad:     float64(usedMem) / float64(maxMem),
	}
}

// testSnapshot assembles a quorate snapshot from included nodes and guests
// and computes the aggregates the builder would have produced.
func testSnapshot(nodes []*cluster.Node, guests []*cluster.Guest) *cluster.Snapshot {
	snap := &cluster.Snapshot{
		Name:           "testcl",
		MasterNode:     "alpha",
		Quorate:        true,
		Nodes:          make(map[string]*cluster.Node),
		IncludedNodes:  make(map[string]*cluster.Node),
		Guests:         make(map[int]*cluster.Guest),
		IncludedGuests: make(map[int]*cluster.Guest),
	}
	var cpuUsed float64
	for _, n := range nodes {
		snap.Nodes[n.Name] = n
		snap.IncludedNodes[n.Name] = n
		snap.ClMaxMem += n.MaxMem
		snap.ClUsedMem += n.UsedMem
		snap.ClMaxCPU += n.MaxCPU
		cpuUsed += n.CPUUsed
	}
	if snap.ClMaxMem > 0 {
		snap.MemLoad = float64(snap.ClUsedMem) / float64(snap.ClMaxMem)
		snap.MemLoadIncluded = snap.MemLoad
	}
	if snap.ClMaxCPU > 0 {
		snap.ClCPULoad = cpuUsed / float64(snap.ClMaxCPU)
		snap.ClCPULoadIncluded = snap.ClCPULoad
	}
	for _, g := range guests {
		if g.Status == "" {
			g.Status = "running"
		}
		if g.Kind == "" {
			g.Kind = proxmox.KindVM
		}
		snap.Guests[g.VMID] = g
		snap.IncludedGuests[g.VMID] = g
	}
	return snap
}
