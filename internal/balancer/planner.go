package balancer

import (
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/plb/internal/cluster"
	"github.com/yourusername/plb/internal/config"
	"github.com/yourusername/plb/internal/proxmox"
)

// Variant is one candidate single-guest migration and the total deviation
// the cluster would have after it.
type Variant struct {
	Donor          string
	Recipient      string
	VMID           int
	ProjectedTotal float64
}

// Planner enumerates beneficial migrations over a snapshot with deviations
// already written by the detector.
type Planner struct {
	weightRAM    float64
	weightCPU    float64
	lxcMigration bool
}

// NewPlanner creates a planner.
func NewPlanner(cfg *config.Config) *Planner {
	return &Planner{
		weightRAM:    cfg.Balancing.WeightRAM,
		weightCPU:    cfg.Balancing.WeightCPU,
		lxcMigration: cfg.Parameters.LXCMigration.On(),
	}
}

// migratable returns the guests on a node that may move: included guests,
// minus containers when container migration is off.
func (p *Planner) migratable(snap *cluster.Snapshot, node string) []*cluster.Guest {
	guests := snap.IncludedGuestsOn(node)
	if p.lxcMigration {
		return guests
	}
	vms := guests[:0:0]
	for _, g := range guests {
		if g.Kind != proxmox.KindContainer {
			vms = append(vms, g)
		}
	}
	return vms
}

// Plan evaluates every (donor, recipient, guest) combination inside group
// boundaries and keeps the ones that strictly reduce the total deviation.
// The result is sorted ascending by projected total; ties keep discovery
// order, which is deterministic because nodes and guests are walked sorted.
func (p *Planner) Plan(snap *cluster.Snapshot) []Variant {
	estimates := NodeCPUEstimates(snap)
	avgRAM, avgCPU := clusterAverages(snap, estimates)
	sumDeviations := snap.SumDeviations()
	names := snap.IncludedNodeNames()

	logrus.Info("Calculating possible migrations")

	var variants []Variant
	for _, donorName := range names {
		for _, recipientName := range names {
			if donorName == recipientName {
				continue
			}
			donor := snap.IncludedNodes[donorName]
			recipient := snap.IncludedNodes[recipientName]
			if donor.Group != recipient.Group {
				continue
			}

			// Deviations of bystander nodes are taken as unchanged.
			base := sumDeviations - donor.Deviation - recipient.Deviation

			for _, guest := range p.migratable(snap, donorName) {
				donorLoad := float64(donor.UsedMem-guest.Mem) / float64(donor.MaxMem)
				recipientLoad := float64(recipient.UsedMem+guest.Mem) / float64(recipient.MaxMem)

				// Moving a guest rarely moves its full trend with it;
				// half is the working approximation on both sides.
				donorCPU := math.Max(0, estimates[donorName]-guest.CPUTrend/2)
				recipientCPU := math.Min(1, estimates[recipientName]+guest.CPUTrend/2)

				donorDev := p.weightRAM*math.Abs(donorLoad-avgRAM) + p.weightCPU*math.Abs(donorCPU-avgCPU)
				recipientDev := p.weightRAM*math.Abs(recipientLoad-avgRAM) + p.weightCPU*math.Abs(recipientCPU-avgCPU)

				projected := base + donorDev + recipientDev
				if projected < sumDeviations {
					variants = append(variants, Variant{
						Donor:          donorName,
						Recipient:      recipientName,
						VMID:           guest.VMID,
						ProjectedTotal: projected,
					})
				}
			}
		}
	}

	sort.SliceStable(variants, func(i, j int) bool {
		return variants[i].ProjectedTotal < variants[j].ProjectedTotal
	})
	logrus.Infof("Found %d beneficial migration variants", len(variants))
	return variants
}
