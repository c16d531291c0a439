package balancer

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/plb/internal/proxmox"
)

// newTestEngine builds an engine over a scripted gateway, with recorded
// sleeps and a fixed hostname.
func newTestEngine(t *testing.T, gw *fakeGateway, extra string) (*Engine, *fakeNotifier, *[]time.Duration) {
	t.Helper()
	notifier := &fakeNotifier{}
	engine := NewEngine(testConfig(t, extra), gw, notifier, nil)
	var sleeps []time.Duration
	engine.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	engine.executor.sleep = engine.sleep
	engine.hostname = func() (string, error) { return "alpha", nil }
	return engine, notifier, &sleeps
}

func nodeRes(name string, maxCPU int, cpu float64, maxMem, mem int64) proxmox.ClusterResource {
	return proxmox.ClusterResource{
		Type: "node", Node: name, Status: "online",
		MaxCPU: maxCPU, CPU: cpu, MaxMem: maxMem, Mem: mem,
	}
}

func guestRes(vmid int, node string, mem int64) proxmox.ClusterResource {
	return proxmox.ClusterResource{
		Type: "qemu", Node: node, Status: "running", VMID: vmid, Mem: mem,
	}
}

func balancedResources() []proxmox.ClusterResource {
	return []proxmox.ClusterResource{
		nodeRes("alpha", 10, 0.4, 100, 40),
		nodeRes("beta", 10, 0.4, 100, 40),
	}
}

func skewedResources() []proxmox.ClusterResource {
	return []proxmox.ClusterResource{
		nodeRes("alpha", 10, 0.4, 100, 80),
		nodeRes("beta", 10, 0.4, 100, 20),
		guestRes(100, "alpha", 30),
	}
}

func TestRunOnce_BalancedClusterSleepsLong(t *testing.T) {
	gw := &fakeGateway{
		resources: func() ([]proxmox.ClusterResource, error) { return balancedResources(), nil },
	}
	engine, _, sleeps := newTestEngine(t, gw, "")

	require.NoError(t, engine.RunOnce())

	assert.Equal(t, []time.Duration{balancedSleep}, *sleeps)
	assert.Equal(t, 1, engine.detector.CalmIterations())
	assert.Empty(t, gw.migrations)
}

func TestRunOnce_SkewMigratesAndRemeasures(t *testing.T) {
	gw := &fakeGateway{
		resources: func() ([]proxmox.ClusterResource, error) { return skewedResources(), nil },
	}
	runningAfterSubmit(gw, 100)
	rrdCalls := 0
	gw.rrdData = func(node string, kind proxmox.GuestKind, vmid int, timeframe string) ([]proxmox.RRDPoint, error) {
		rrdCalls++
		return nil, nil
	}
	engine, notifier, sleeps := newTestEngine(t, gw, "")

	require.NoError(t, engine.RunOnce())

	assert.Equal(t, []string{"100:alpha->beta"}, gw.migrations)
	assert.Equal(t, 2, rrdCalls, "trends are sampled before and after the move")
	assert.Empty(t, notifier.messages)
	assert.Zero(t, engine.detector.CalmIterations())
	// Poll wait, resume pause, and the re-measure pause.
	assert.Contains(t, *sleeps, remeasureSleep)
}

func TestRunOnce_NoVariantsBacksOffBriefly(t *testing.T) {
	// Imbalanced but nothing can move: the only guest mirrors the skew.
	gw := &fakeGateway{
		resources: func() ([]proxmox.ClusterResource, error) {
			return []proxmox.ClusterResource{
				nodeRes("alpha", 10, 0.4, 128, 96),
				nodeRes("beta", 10, 0.4, 128, 32),
				guestRes(100, "alpha", 64),
			}, nil
		},
	}
	engine, _, sleeps := newTestEngine(t, gw, "")

	require.NoError(t, engine.RunOnce())

	assert.Equal(t, []time.Duration{noVariantsSleep}, *sleeps)
	assert.Empty(t, gw.migrations)
}

func TestRunOnce_QuorumGuardBlocksExecution(t *testing.T) {
	gw := &fakeGateway{
		resources: func() ([]proxmox.ClusterResource, error) { return skewedResources(), nil },
		haStatus: func() (*proxmox.HAManagerStatus, error) {
			ha := &proxmox.HAManagerStatus{}
			ha.ManagerStatus.MasterNode = "alpha"
			ha.Quorum.Quorate = false
			return ha, nil
		},
	}
	engine, _, _ := newTestEngine(t, gw, "")

	require.NoError(t, engine.RunOnce())

	assert.Empty(t, gw.migrations, "no writes on a non-quorate cluster")
}

func TestRunOnce_NotMasterDefers(t *testing.T) {
	gw := &fakeGateway{
		resources: func() ([]proxmox.ClusterResource, error) { return skewedResources(), nil },
	}
	engine, _, sleeps := newTestEngine(t, gw, "")
	engine.cfg.Parameters.OnlyOnMaster = true
	engine.hostname = func() (string, error) { return "beta", nil }

	require.NoError(t, engine.RunOnce())

	assert.Equal(t, []time.Duration{balancedSleep}, *sleeps)
	assert.Empty(t, gw.migrations)
}

func TestRunOnce_SingleNodeRefuses(t *testing.T) {
	gw := &fakeGateway{
		resources: func() ([]proxmox.ClusterResource, error) {
			return []proxmox.ClusterResource{nodeRes("alpha", 10, 0.4, 100, 40)}, nil
		},
	}
	engine, _, _ := newTestEngine(t, gw, "")

	err := engine.RunOnce()
	require.ErrorIs(t, err, ErrNotEnoughNodes)
}

func TestRunOnce_FullMemoryRefuses(t *testing.T) {
	gw := &fakeGateway{
		resources: func() ([]proxmox.ClusterResource, error) {
			return []proxmox.ClusterResource{
				nodeRes("alpha", 10, 0.4, 100, 100),
				nodeRes("beta", 10, 0.4, 100, 100),
			}, nil
		},
	}
	engine, _, _ := newTestEngine(t, gw, "")

	err := engine.RunOnce()
	require.ErrorIs(t, err, ErrBadClusterLoad)
}

func TestRunOnce_SnapshotFailureNotifies(t *testing.T) {
	gw := &fakeGateway{
		resources: func() ([]proxmox.ClusterResource, error) { return nil, errors.New("connection refused") },
	}
	engine, notifier, _ := newTestEngine(t, gw, "")

	err := engine.RunOnce()
	require.Error(t, err)
	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "unreachable")
}

func TestRun_AuthFailureIsFatal(t *testing.T) {
	gw := &fakeGateway{
		authenticate: func() error { return errors.New("401") },
	}
	engine, notifier, _ := newTestEngine(t, gw, "")

	err := engine.Run()
	require.Error(t, err)
	require.Len(t, notifier.messages, 1)
}

func TestRunOnce_RiskForcesPlanningBelowThreshold(t *testing.T) {
	// Deviations are tiny but one node is nearly out of memory: the risk
	// evaluator forces a balancing round.
	gw := &fakeGateway{
		resources: func() ([]proxmox.ClusterResource, error) {
			return []proxmox.ClusterResource{
				nodeRes("alpha", 10, 0.4, 1000, 950),
				nodeRes("beta", 10, 0.4, 1000, 930),
				guestRes(100, "alpha", 10),
			}, nil
		},
	}
	runningAfterSubmit(gw, 100)
	engine, _, _ := newTestEngine(t, gw, "")

	require.NoError(t, engine.RunOnce())
	assert.Equal(t, []string{"100:alpha->beta"}, gw.migrations)
}
