package cluster

import (
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/yourusername/plb/internal/proxmox"
)

// rrdTimeframe is the series window behind each guest's CPU trend.
const rrdTimeframe = "hour"

// TrendSampler pulls each included guest's recent CPU series and reduces it
// to a scalar hourly average. Safe to re-run on the same snapshot: after a
// migration the engine samples again to record the outcome.
type TrendSampler struct {
	gw proxmox.Gateway
}

// NewTrendSampler creates a trend sampler.
func NewTrendSampler(gw proxmox.Gateway) *TrendSampler {
	return &TrendSampler{gw: gw}
}

// Sample writes CPUTrend onto every included guest. Per-guest fetch failures
// are not fatal: a guest with no usable series gets a zero trend.
func (t *TrendSampler) Sample(snap *Snapshot) {
	for _, guest := range snap.IncludedGuests {
		points, err := t.gw.GetRRDData(guest.Node, guest.Kind, guest.VMID, rrdTimeframe)
		if err != nil {
			logrus.Debugf("No RRD data for guest %d on %s: %v", guest.VMID, guest.Node, err)
			guest.CPUTrend = 0
			continue
		}
		guest.CPUTrend = cpuTrend(points)
		logrus.Debugf("Guest %d CPU trend (hourly avg): %.2f%%", guest.VMID, guest.CPUTrend*100)
	}
}

// cpuTrend averages the cpu samples of a series, skipping gaps. An empty
// series yields 0.
func cpuTrend(points []proxmox.RRDPoint) float64 {
	var samples []float64
	for _, p := range points {
		if p.CPU != nil {
			samples = append(samples, *p.CPU)
		}
	}
	if len(samples) == 0 {
		return 0
	}
	return stat.Mean(samples, nil)
}
