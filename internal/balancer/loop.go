package balancer

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/plb/internal/cluster"
	"github.com/yourusername/plb/internal/config"
	"github.com/yourusername/plb/internal/history"
	"github.com/yourusername/plb/internal/notify"
	"github.com/yourusername/plb/internal/proxmox"
)

const (
	balancedSleep   = 300 * time.Second // cluster balanced, or we are not the master
	noVariantsSleep = 60 * time.Second  // trigger fired but nothing improves
	remeasureSleep  = 10 * time.Second  // settle time before re-measuring
)

// Engine is the top-level control loop: snapshot, trend, risk, detect,
// plan, execute, re-measure, sleep. One instance owns all the per-process
// state (detector counter, gateway auth) and runs forever until a fatal
// condition.
type Engine struct {
	cfg      *config.Config
	gw       proxmox.Gateway
	builder  *cluster.Builder
	sampler  *cluster.TrendSampler
	detector *Detector
	planner  *Planner
	executor *Executor
	notifier notify.Notifier
	hist     *history.Store

	// sleep and hostname are replaceable for tests.
	sleep    func(time.Duration)
	hostname func() (string, error)
}

// NewEngine wires an engine from its parts.
func NewEngine(cfg *config.Config, gw proxmox.Gateway, notifier notify.Notifier, hist *history.Store) *Engine {
	return &Engine{
		cfg:      cfg,
		gw:       gw,
		builder:  cluster.NewBuilder(gw, cfg),
		sampler:  cluster.NewTrendSampler(gw),
		detector: NewDetector(cfg),
		planner:  NewPlanner(cfg),
		executor: NewExecutor(gw, cfg, notifier, hist),
		notifier: notifier,
		hist:     hist,
		sleep:    time.Sleep,
		hostname: os.Hostname,
	}
}

// Run authenticates and iterates forever. It returns only on a fatal
// error; the supervisor restarts the process.
func (e *Engine) Run() error {
	logrus.Info("Attempting authentication...")
	if err := e.gw.Authenticate(); err != nil {
		e.notifier.Notify(fmt.Sprintf("Hypervisor (%s) unreachable or rejected authentication", e.cfg.BaseURL()))
		return fmt.Errorf("authentication: %w", err)
	}
	logrus.Info("Authentication successful")

	for {
		if err := e.RunOnce(); err != nil {
			return err
		}
	}
}

// RunOnce performs a single iteration of the control loop.
func (e *Engine) RunOnce() error {
	snap, err := e.builder.Build()
	if err != nil {
		e.notifier.Notify(fmt.Sprintf("Hypervisor (%s) unreachable", e.cfg.BaseURL()))
		return err
	}

	if e.cfg.Parameters.OnlyOnMaster.On() {
		host, err := e.hostname()
		if err != nil {
			return fmt.Errorf("resolving local hostname: %w", err)
		}
		if host != snap.MasterNode {
			logrus.Infof("This node (%s) is not the current cluster master (%s), waiting", host, snap.MasterNode)
			e.sleep(balancedSleep)
			return nil
		}
	}

	logrus.Infof("Cluster %s: %d nodes included, RAM load %.2f%%, CPU load %.2f%%",
		snap.Name, len(snap.IncludedNodes), snap.MemLoadIncluded*100, snap.ClCPULoadIncluded*100)

	if err := e.verifyClusterLoad(snap); err != nil {
		return err
	}

	e.sampler.Sample(snap)
	risk := EvaluateRisk(snap, e.cfg.Balancing)
	triggered := e.detector.Detect(snap)

	if !triggered && !risk.Any() {
		e.detector.NoteCalm()
		e.recordIteration(snap, risk, triggered, 0, false)
		logrus.Info("Cluster balanced, sleeping")
		e.sleep(balancedSleep)
		return nil
	}

	e.detector.NoteBalanced()
	variants := e.planner.Plan(snap)
	if len(variants) == 0 {
		e.recordIteration(snap, risk, true, 0, false)
		logrus.Info("No variants found, waiting before next attempt")
		e.sleep(noVariantsSleep)
		return nil
	}

	moved := false
	if !snap.Quorate {
		// No writes on a cluster that cannot agree with itself.
		logrus.Warn("Cluster is not quorate, skipping migration execution")
	} else {
		moved, err = e.executor.Execute(snap, variants)
		if err != nil {
			e.recordIteration(snap, risk, true, len(variants), moved)
			return err
		}
	}
	e.recordIteration(snap, risk, true, len(variants), moved)

	logrus.Info("Post-migration pause for cluster re-evaluation")
	e.sleep(remeasureSleep)
	e.sampler.Sample(snap)
	riskAfter := EvaluateRisk(snap, e.cfg.Balancing)
	if riskAfter.Any() {
		logrus.Info("Risk still high after migration")
	} else {
		logrus.Info("Situation improved after migration")
	}
	return nil
}

// verifyClusterLoad refuses to balance a cluster that cannot be balanced:
// fewer than two included nodes, or a memory load reading outside (0,1).
func (e *Engine) verifyClusterLoad(snap *cluster.Snapshot) error {
	logrus.Debug("Verifying cluster load...")
	if len(snap.IncludedNodes) < 2 {
		logrus.Error("Only one node is included, balancing not possible")
		return ErrNotEnoughNodes
	}
	memLoad := snap.MemLoadIncluded
	if memLoad <= 0 || memLoad >= 1 {
		logrus.Error("Cluster memory load invalid")
		return ErrBadClusterLoad
	}
	if memLoad >= e.cfg.MemLoadThreshold() {
		logrus.Warn("Cluster memory load near threshold, balancing may be needed")
	}
	return nil
}

func (e *Engine) recordIteration(snap *cluster.Snapshot, risk Risk, triggered bool, variants int, moved bool) {
	err := e.hist.RecordIteration(history.IterationRecord{
		SumDeviations: snap.SumDeviations(),
		Triggered:     triggered,
		OOMRisk:       risk.OOM,
		CPURisk:       risk.CPU,
		Variants:      variants,
		Moved:         moved,
	})
	if err != nil {
		logrus.Debugf("Could not record iteration history: %v", err)
	}
}
