package proxmox

import (
	"bytes"
	"strconv"
)

// GuestKind selects the hypervisor API family for a guest.
type GuestKind string

const (
	KindVM        GuestKind = "qemu" // full virtual machine
	KindContainer GuestKind = "lxc"  // system container
)

// ClusterStatusEntry is one element of /cluster/status. Entries of type
// "cluster" carry the cluster name and node count; entries of type "node"
// carry per-node membership info, which the balancer does not use.
type ClusterStatusEntry struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Name  string `json:"name"`
	Nodes int    `json:"nodes,omitempty"`
}

// ClusterResource is one element of /cluster/resources: a node, a VM, a
// container or a storage, discriminated by Type.
type ClusterResource struct {
	ID      string  `json:"id"`
	Type    string  `json:"type"`
	Node    string  `json:"node"`
	Status  string  `json:"status"`
	Name    string  `json:"name"`
	VMID    int     `json:"vmid,omitempty"`
	MaxCPU  int     `json:"maxcpu,omitempty"`
	CPU     float64 `json:"cpu,omitempty"`
	MaxMem  int64   `json:"maxmem,omitempty"`
	Mem     int64   `json:"mem,omitempty"`
	MaxDisk int64   `json:"maxdisk,omitempty"`
	Disk    int64   `json:"disk,omitempty"`
	Uptime  int64   `json:"uptime,omitempty"`
}

// FlexBool tolerates the API's habit of reporting booleans as "1"/"0"
// strings on some versions and as numbers on others.
type FlexBool bool

func (b *FlexBool) UnmarshalJSON(data []byte) error {
	s := string(bytes.Trim(data, `"`))
	*b = s == "1" || s == "true"
	return nil
}

// HAManagerStatus is the answer of /cluster/ha/status/manager_status.
type HAManagerStatus struct {
	ManagerStatus struct {
		MasterNode string `json:"master_node"`
	} `json:"manager_status"`
	Quorum struct {
		Quorate FlexBool `json:"quorate"`
	} `json:"quorum"`
}

// RRDPoint is one sample of a guest's rrddata series. CPU is nil when the
// sample has no cpu reading (gaps are normal in RRD output).
type RRDPoint struct {
	Time int64    `json:"time"`
	CPU  *float64 `json:"cpu"`
}

// MigrateCheck is the preflight answer of GET /nodes/{node}/qemu/{vmid}/migrate.
// Non-empty local disks or local resources block a live migration.
type MigrateCheck struct {
	LocalDisks     []any `json:"local_disks"`
	LocalResources []any `json:"local_resources"`
}

// Blocked reports whether the guest is pinned to its host.
func (c *MigrateCheck) Blocked() bool {
	return len(c.LocalDisks) > 0 || len(c.LocalResources) > 0
}

// FlexInt tolerates integers that the API quotes as strings, as the
// per-node guest list does for vmid.
type FlexInt int

func (i *FlexInt) UnmarshalJSON(data []byte) error {
	n, err := strconv.Atoi(string(bytes.Trim(data, `"`)))
	if err != nil {
		return err
	}
	*i = FlexInt(n)
	return nil
}

// GuestListEntry is one element of GET /nodes/{node}/{qemu|lxc}.
type GuestListEntry struct {
	VMID   FlexInt `json:"vmid"`
	Name   string  `json:"name"`
	Status string  `json:"status"`
}

// APIResponse is the generic {"data": ...} wrapper around every answer.
type APIResponse struct {
	Data any `json:"data"`
}
