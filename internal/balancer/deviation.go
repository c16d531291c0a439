package balancer

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/yourusername/plb/internal/cluster"
	"github.com/yourusername/plb/internal/config"
)

// calmLimit is how many calm iterations the detector tolerates before it
// perturbs the threshold downward.
const calmLimit = 10

// NodeCPUEstimates computes each included node's CPU estimate: the mean
// CPU trend of its included guests, falling back to the instantaneous
// cpu_used/max_cpu ratio when the node hosts no included guests or when
// the trend mean is zero.
func NodeCPUEstimates(snap *cluster.Snapshot) map[string]float64 {
	estimates := make(map[string]float64, len(snap.IncludedNodes))
	for name, node := range snap.IncludedNodes {
		instantaneous := node.CPUUsed / float64(node.MaxCPU)
		guests := snap.IncludedGuestsOn(name)
		if len(guests) == 0 {
			estimates[name] = instantaneous
			continue
		}
		trends := make([]float64, len(guests))
		for i, g := range guests {
			trends[i] = g.CPUTrend
		}
		avg := stat.Mean(trends, nil)
		if avg > 0 {
			estimates[name] = avg
		} else {
			estimates[name] = instantaneous
		}
	}
	return estimates
}

// clusterAverages returns the RAM and CPU means the deviations are taken
// against.
func clusterAverages(snap *cluster.Snapshot, estimates map[string]float64) (avgRAM, avgCPU float64) {
	avgRAM = snap.MemLoadIncluded
	if len(estimates) == 0 {
		return avgRAM, snap.ClCPULoadIncluded
	}
	// Summed in node-name order so repeated runs give identical means.
	names := make([]string, 0, len(estimates))
	for name := range estimates {
		names = append(names, name)
	}
	sort.Strings(names)
	values := make([]float64, 0, len(estimates))
	for _, name := range names {
		values = append(values, estimates[name])
	}
	return avgRAM, stat.Mean(values, nil)
}

// Detector decides whether the cluster is imbalanced enough to act on. It
// owns the calm-iteration counter and the seeded random source behind the
// threshold perturbation, the only state that survives an iteration.
type Detector struct {
	weightRAM  float64
	weightCPU  float64
	configured float64 // steady threshold: configured deviation percent / 200
	rng        *rand.Rand
	calm       int
}

// NewDetector creates a detector. A zero seed falls back to the clock;
// tests pass a fixed seed to make the perturbation draw reproducible.
func NewDetector(cfg *config.Config) *Detector {
	seed := cfg.Parameters.PerturbationSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Detector{
		weightRAM:  cfg.Balancing.WeightRAM,
		weightCPU:  cfg.Balancing.WeightCPU,
		configured: cfg.ConfiguredDeviation(),
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// NoteCalm counts an iteration that ended without balancing.
func (d *Detector) NoteCalm() { d.calm++ }

// NoteBalanced resets the calm counter after the engine acted.
func (d *Detector) NoteBalanced() { d.calm = 0 }

// CalmIterations exposes the counter for reporting.
func (d *Detector) CalmIterations() int { return d.calm }

// operationalThreshold is the steady threshold, except after too many calm
// iterations, when it is perturbed downward to one of {CD/2, CD/4, CD/8}
// by a two-stage draw (2/3 for CD/2, then 5/6 for CD/4, else CD/8) and the
// calm counter resets. Small chronic imbalances below the steady threshold
// would otherwise be ignored forever.
func (d *Detector) operationalThreshold() float64 {
	if d.calm < calmLimit {
		return d.configured
	}
	d.calm = 0
	if d.rng.Float64() > 1.0/3.0 {
		return d.configured / 2
	}
	if d.rng.Float64() > 1.0/6.0 {
		return d.configured / 4
	}
	return d.configured / 8
}

// Detect writes each included node's deviation from the cluster means onto
// the snapshot and reports whether any node exceeds the operational
// threshold.
func (d *Detector) Detect(snap *cluster.Snapshot) bool {
	estimates := NodeCPUEstimates(snap)
	avgRAM, avgCPU := clusterAverages(snap, estimates)

	for name, node := range snap.IncludedNodes {
		ramDev := math.Abs(node.MemLoad - avgRAM)
		cpuDev := math.Abs(estimates[name] - avgCPU)
		node.Deviation = d.weightRAM*ramDev + d.weightCPU*cpuDev
	}

	threshold := d.operationalThreshold()
	for name, node := range snap.IncludedNodes {
		if node.Deviation > threshold {
			logrus.Infof("Deviation %.4f on node %s above %.4f, balancing needed", node.Deviation, name, threshold)
			return true
		}
	}
	logrus.Info("No significant deviation, no balancing needed")
	return false
}
