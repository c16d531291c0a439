package cluster

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/plb/internal/config"
	"github.com/yourusername/plb/internal/proxmox"
)

// Node is one hypervisor host as seen in a snapshot.
type Node struct {
	Name        string
	Status      string
	IsMaster    bool
	Group       string // "" = implicit no-group bucket
	MaxCPU      int
	CPUFraction float64 // instantaneous, 0..1
	CPUUsed     float64 // MaxCPU * CPUFraction
	MaxMem      int64   // bytes
	UsedMem     int64   // bytes
	FreeMem     int64
	MemLoad     float64 // UsedMem / MaxMem

	// Deviation is written by the imbalance detector each iteration.
	Deviation float64
}

// Guest is one running workload unit.
type Guest struct {
	VMID   int
	Kind   proxmox.GuestKind
	Node   string
	Mem    int64 // bytes, as the hypervisor reports them
	Status string

	// CPUTrend is the hourly average CPU fraction, written by the trend
	// sampler. Zero until the sampler has run this iteration.
	CPUTrend float64
}

// Snapshot is the in-memory cluster state for one balancing iteration.
// It is built fresh each iteration and discarded at the end; only the
// trend sampler and the imbalance detector mutate it.
type Snapshot struct {
	Name       string
	MasterNode string
	Quorate    bool

	Nodes          map[string]*Node // online nodes
	IncludedNodes  map[string]*Node // online, not excluded
	OfflineNodes   []string         // dropped from balancing, kept for reporting
	Guests         map[int]*Guest   // running guests
	IncludedGuests map[int]*Guest   // running, on an included node, not excluded

	ClMaxMem          int64
	ClUsedMem         int64
	MemLoad           float64
	MemLoadIncluded   float64
	ClMaxCPU          int
	ClCPULoad         float64
	ClCPULoadIncluded float64
}

// IncludedGuestsOn returns the included guests hosted on a node, ordered by
// vmid so every iteration walks them the same way.
func (s *Snapshot) IncludedGuestsOn(node string) []*Guest {
	var guests []*Guest
	for _, g := range s.IncludedGuests {
		if g.Node == node {
			guests = append(guests, g)
		}
	}
	sort.Slice(guests, func(i, j int) bool { return guests[i].VMID < guests[j].VMID })
	return guests
}

// IncludedNodeNames returns the included node names in sorted order.
func (s *Snapshot) IncludedNodeNames() []string {
	names := make([]string, 0, len(s.IncludedNodes))
	for name := range s.IncludedNodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SumDeviations totals the per-node deviations the detector wrote, in
// node-name order so equal snapshots give bit-identical sums.
func (s *Snapshot) SumDeviations() float64 {
	var sum float64
	for _, name := range s.IncludedNodeNames() {
		sum += s.IncludedNodes[name].Deviation
	}
	return sum
}

// Builder materializes snapshots from the hypervisor gateway.
type Builder struct {
	gw  proxmox.Gateway
	cfg *config.Config
}

// NewBuilder creates a snapshot builder.
func NewBuilder(gw proxmox.Gateway, cfg *config.Config) *Builder {
	return &Builder{gw: gw, cfg: cfg}
}

// Build fetches cluster status, HA state and the resource inventory and
// materializes a consistent snapshot. Any fetch failure is fatal for the
// iteration.
func (b *Builder) Build() (*Snapshot, error) {
	snap := &Snapshot{
		Nodes:          make(map[string]*Node),
		IncludedNodes:  make(map[string]*Node),
		Guests:         make(map[int]*Guest),
		IncludedGuests: make(map[int]*Guest),
	}

	status, err := b.gw.GetClusterStatus()
	if err != nil {
		return nil, fmt.Errorf("could not get cluster status: %w", err)
	}
	for _, entry := range status {
		if entry.Type == "cluster" {
			snap.Name = entry.Name
		}
	}

	ha, err := b.gw.GetHAStatus()
	if err != nil {
		return nil, fmt.Errorf("could not get HA manager status: %w", err)
	}
	snap.MasterNode = ha.ManagerStatus.MasterNode
	snap.Quorate = bool(ha.Quorum.Quorate)
	if !snap.Quorate {
		logrus.Warn("Cluster quorum is not reached")
	}

	resources, err := b.gw.GetClusterResources()
	if err != nil {
		return nil, fmt.Errorf("could not get cluster resources: %w", err)
	}

	for _, item := range resources {
		if item.Type != "node" {
			continue
		}
		// A host without memory or cores is either rebooting or lying;
		// treat it like an offline node.
		if item.Status != "online" || item.MaxMem <= 0 || item.MaxCPU <= 0 {
			snap.OfflineNodes = append(snap.OfflineNodes, item.Node)
			continue
		}
		node := &Node{
			Name:        item.Node,
			Status:      item.Status,
			IsMaster:    item.Node == snap.MasterNode,
			Group:       b.cfg.GroupOf(item.Node),
			MaxCPU:      item.MaxCPU,
			CPUFraction: item.CPU,
			CPUUsed:     float64(item.MaxCPU) * item.CPU,
			MaxMem:      item.MaxMem,
			UsedMem:     item.Mem,
			FreeMem:     item.MaxMem - item.Mem,
			MemLoad:     float64(item.Mem) / float64(item.MaxMem),
		}
		snap.Nodes[node.Name] = node
		if !b.cfg.ExcludedNodes[node.Name] {
			snap.IncludedNodes[node.Name] = node
		}
	}
	if len(snap.Nodes) == 0 {
		return nil, fmt.Errorf("no online nodes in cluster resources")
	}

	for _, item := range resources {
		if item.Type != string(proxmox.KindVM) && item.Type != string(proxmox.KindContainer) {
			continue
		}
		if item.Status != "running" {
			continue
		}
		guest := &Guest{
			VMID:   item.VMID,
			Kind:   proxmox.GuestKind(item.Type),
			Node:   item.Node,
			Mem:    item.Mem,
			Status: item.Status,
		}
		snap.Guests[guest.VMID] = guest
		_, onIncludedNode := snap.IncludedNodes[guest.Node]
		if onIncludedNode && !b.cfg.ExcludedGuests[guest.VMID] {
			snap.IncludedGuests[guest.VMID] = guest
		}
	}

	b.aggregate(snap)
	return snap, nil
}

// aggregate fills the cluster-wide and included-only totals. Nodes are all
// populated by the time this runs.
func (b *Builder) aggregate(snap *Snapshot) {
	var maxMemIncl, usedMemIncl int64
	var maxCPUIncl int
	var cpuUsedIncl float64
	var cpuUsedAll float64

	for _, node := range snap.Nodes {
		snap.ClMaxMem += node.MaxMem
		snap.ClUsedMem += node.UsedMem
		snap.ClMaxCPU += node.MaxCPU
		cpuUsedAll += node.CPUUsed
		if _, ok := snap.IncludedNodes[node.Name]; ok {
			maxMemIncl += node.MaxMem
			usedMemIncl += node.UsedMem
			maxCPUIncl += node.MaxCPU
			cpuUsedIncl += node.CPUUsed
		}
	}

	snap.MemLoad = float64(snap.ClUsedMem) / float64(snap.ClMaxMem)
	snap.ClCPULoad = cpuUsedAll / float64(snap.ClMaxCPU)
	if maxMemIncl > 0 {
		snap.MemLoadIncluded = float64(usedMemIncl) / float64(maxMemIncl)
	}
	if maxCPUIncl > 0 {
		snap.ClCPULoadIncluded = cpuUsedIncl / float64(maxCPUIncl)
	}
}
