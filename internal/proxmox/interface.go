package proxmox

// Gateway is the hypervisor contract the balancing engine depends on.
// Client implements it against the REST API; tests substitute fakes.
type Gateway interface {
	// Authenticate obtains the ticket and CSRF token.
	Authenticate() error

	// GetClusterStatus retrieves /cluster/status.
	GetClusterStatus() ([]ClusterStatusEntry, error)

	// GetClusterResources retrieves the node/guest inventory.
	GetClusterResources() ([]ClusterResource, error)

	// GetHAStatus retrieves the HA manager view: master node and quorum.
	GetHAStatus() (*HAManagerStatus, error)

	// GetRRDData retrieves a guest's recent time series.
	GetRRDData(node string, kind GuestKind, vmid int, timeframe string) ([]RRDPoint, error)

	// GetMigrateCheck runs the full-VM migration preflight.
	GetMigrateCheck(node string, vmid int) (*MigrateCheck, error)

	// MigrateGuest submits a migration and returns the task id.
	MigrateGuest(node string, kind GuestKind, vmid int, target string) (string, error)

	// ListGuests retrieves the guests of one kind present on a node.
	ListGuests(node string, kind GuestKind) ([]GuestListEntry, error)

	// ResumeGuest resumes a full VM after an online migration.
	ResumeGuest(node string, vmid int) error
}

var _ Gateway = (*Client)(nil)
