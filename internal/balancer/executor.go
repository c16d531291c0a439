package balancer

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/plb/internal/cluster"
	"github.com/yourusername/plb/internal/config"
	"github.com/yourusername/plb/internal/history"
	"github.com/yourusername/plb/internal/notify"
	"github.com/yourusername/plb/internal/proxmox"
)

const (
	pollInterval = 10 * time.Second
	resumeDelay  = 10 * time.Second

	// maxErrors is how many accumulated failures a batch survives.
	maxErrors = 2
)

// Executor drives candidate migrations through the migrate/poll/resume
// sequence, one batch per iteration.
type Executor struct {
	gw          proxmox.Gateway
	notifier    notify.Notifier
	hist        *history.Store
	testMode    bool
	pollCeiling time.Duration // 0 = poll without bound

	// sleep is replaceable so tests run without waiting.
	sleep func(time.Duration)
}

// NewExecutor creates an executor.
func NewExecutor(gw proxmox.Gateway, cfg *config.Config, notifier notify.Notifier, hist *history.Store) *Executor {
	return &Executor{
		gw:          gw,
		notifier:    notifier,
		hist:        hist,
		testMode:    cfg.Parameters.TestMode.On(),
		pollCeiling: time.Duration(cfg.Parameters.PollCeiling) * time.Second,
		sleep:       time.Sleep,
	}
}

// Execute walks the variant list until one migration fully succeeds, then
// stops: the engine re-measures after every move, so the rest of the list
// is stale by then. Failures are tolerated up to the error budget; the
// budget is checked before each candidate, and once it is exceeded the
// batch aborts with ErrTooManyFailures. Failures on the last candidates of
// the list end the batch without that error. Returns whether a move was
// performed.
func (e *Executor) Execute(snap *cluster.Snapshot, variants []Variant) (bool, error) {
	if len(variants) == 0 {
		logrus.Info("No migration variants to process")
		return false, nil
	}

	if e.testMode {
		logrus.Info("Test mode: the following migrations would be attempted:")
		for _, v := range variants {
			logrus.Infof("Test mode: migrate guest %d from %s to %s", v.VMID, v.Donor, v.Recipient)
			e.record(v, history.OutcomeTest, "", 0)
		}
		logrus.Info("Test mode: no real migrations performed")
		return false, nil
	}

	logrus.Info("Starting guest migrations")

	errorCounter := 0
	var problems []int
	for _, v := range variants {
		if errorCounter > maxErrors {
			logrus.Error("Too many migration errors")
			e.notifier.Notify(fmt.Sprintf("Migration errors: %v", problems))
			return false, fmt.Errorf("%w: failed guests %v", ErrTooManyFailures, problems)
		}

		guest := snap.Guests[v.VMID]
		if guest == nil {
			continue
		}
		logrus.Infof("Attempting migration of guest %d from %s to %s", v.VMID, v.Donor, v.Recipient)

		if guest.Kind == proxmox.KindVM {
			check, err := e.gw.GetMigrateCheck(v.Donor, v.VMID)
			if err != nil {
				logrus.Warnf("Could not check guest %d migration info: %v", v.VMID, err)
				errorCounter++
				problems = append(problems, v.VMID)
				e.record(v, history.OutcomeFailed, "preflight failed", 0)
				continue
			}
			if check.Blocked() {
				logrus.Infof("Guest %d has local resources that can't be migrated", v.VMID)
				e.record(v, history.OutcomeSkipped, "local disks or resources", 0)
				continue
			}
		}

		taskID, err := e.gw.MigrateGuest(v.Donor, guest.Kind, v.VMID, v.Recipient)
		if err != nil {
			logrus.Warnf("Migration request for guest %d failed: %v", v.VMID, err)
			errorCounter++
			problems = append(problems, v.VMID)
			e.record(v, history.OutcomeFailed, "submit failed", 0)
			continue
		}
		logrus.Debugf("Migration task %s submitted for guest %d", taskID, v.VMID)
		errorCounter--

		elapsed, err := e.awaitMigration(v, guest.Kind)
		if err != nil {
			e.record(v, history.OutcomeFailed, err.Error(), elapsed)
			var timeout *pollTimeoutError
			if errors.As(err, &timeout) {
				errorCounter++
				problems = append(problems, v.VMID)
				continue
			}
			return false, err
		}

		e.record(v, history.OutcomeDone, "", elapsed)
		return true, nil
	}
	return false, nil
}

// pollTimeoutError marks a migration that outlived the configured ceiling.
// It counts as a submit-class failure instead of aborting the batch.
type pollTimeoutError struct {
	vmid    int
	elapsed time.Duration
}

func (e *pollTimeoutError) Error() string {
	return fmt.Sprintf("guest %d still migrating after %s", e.vmid, e.elapsed)
}

// awaitMigration polls the recipient until the guest shows up running,
// then pauses and resumes it (full VMs only). Returns the elapsed poll
// time.
func (e *Executor) awaitMigration(v Variant, kind proxmox.GuestKind) (time.Duration, error) {
	var elapsed time.Duration
	for {
		if e.pollCeiling > 0 && elapsed >= e.pollCeiling {
			logrus.Warnf("Guest %d migration exceeded the %s poll ceiling", v.VMID, e.pollCeiling)
			return elapsed, &pollTimeoutError{vmid: v.VMID, elapsed: elapsed}
		}
		e.sleep(pollInterval)
		elapsed += pollInterval

		// A failed guest listing is transient: treated as the guest not
		// having appeared yet.
		guests, err := e.gw.ListGuests(v.Recipient, kind)
		if err != nil {
			logrus.Warnf("Could not list guests on %s while waiting for guest %d: %v", v.Recipient, v.VMID, err)
			continue
		}

		found := false
		for _, entry := range guests {
			if int(entry.VMID) != v.VMID {
				continue
			}
			found = true
			if entry.Status != "running" {
				logrus.Warnf("Guest %d found on %s but not running", v.VMID, v.Recipient)
				e.notifier.Notify(fmt.Sprintf("Check guest %d post-migration status", v.VMID))
				return elapsed, fmt.Errorf("guest %d on %s: %w", v.VMID, v.Recipient, ErrGuestBadState)
			}
			logrus.Infof("Migration of guest %d complete after %s", v.VMID, elapsed)
			e.sleep(resumeDelay)
			if kind == proxmox.KindVM {
				if err := e.gw.ResumeGuest(v.Recipient, v.VMID); err != nil {
					logrus.Warnf("Resume of guest %d failed: %v", v.VMID, err)
				}
			}
			return elapsed, nil
		}
		if !found {
			logrus.Infof("Guest %d migration in progress... %s", v.VMID, elapsed)
		}
	}
}

func (e *Executor) record(v Variant, outcome, detail string, elapsed time.Duration) {
	err := e.hist.RecordMigration(history.MigrationRecord{
		VMID:      v.VMID,
		Donor:     v.Donor,
		Recipient: v.Recipient,
		Outcome:   outcome,
		Detail:    detail,
		Duration:  elapsed,
	})
	if err != nil {
		logrus.Debugf("Could not record migration history: %v", err)
	}
}
