package balancer

import (
	"github.com/sirupsen/logrus"

	"github.com/yourusername/plb/internal/cluster"
	"github.com/yourusername/plb/internal/config"
)

// Risk is the result of the resource-exhaustion check. Either flag forces
// balancing even when the deviation trigger stays quiet.
type Risk struct {
	OOM bool
	CPU bool
}

// Any reports whether any risk flag is raised.
func (r Risk) Any() bool { return r.OOM || r.CPU }

// EvaluateRisk checks every included node and the included cluster totals
// against the configured thresholds (percentages). Pure: the snapshot is
// only read.
func EvaluateRisk(snap *cluster.Snapshot, bal config.Balancing) Risk {
	var risk Risk

	for name, node := range snap.IncludedNodes {
		memPercent := node.MemLoad * 100
		cpuPercent := node.CPUUsed / float64(node.MaxCPU) * 100
		if memPercent > bal.MemoryOOMThreshold {
			logrus.Warnf("High OOM risk on node %s, mem load > %.0f%%", name, bal.MemoryOOMThreshold)
			risk.OOM = true
		}
		if cpuPercent > bal.CPUThreshold {
			logrus.Warnf("High CPU load on node %s, CPU load > %.0f%%", name, bal.CPUThreshold)
			risk.CPU = true
		}
	}

	if snap.MemLoadIncluded*100 > bal.MemoryOOMThreshold {
		logrus.Warnf("High OOM risk on entire cluster, mem load > %.0f%%", bal.MemoryOOMThreshold)
		risk.OOM = true
	}
	if snap.ClCPULoadIncluded*100 > bal.CPUThreshold {
		logrus.Warnf("Cluster CPU load > %.0f%%", bal.CPUThreshold)
		risk.CPU = true
	}

	return risk
}
