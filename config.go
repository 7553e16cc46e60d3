// Copyright 2026 Dell Inc. All Rights Reserved.

package storagecenter

// Config holds the settings for a Storage Center block device driver
// instance. Loading these from wherever they live is the caller's job.
type Config struct {
	// Data Collector Info
	Hostname  string
	Port      int // defaults to the data collector port, 3033
	Username  string
	Password  string
	VerifyTLS bool

	// Array Info
	SSN int64 // Storage Center serial number

	// Options
	VolumeFolderName string // defaults to "Flocker"
	ServerFolderName string // defaults to "Flocker"
	StorageProfile   string // empty means the account default profile

	// Preferred target portal. When set, only portals on this endpoint are
	// eligible to become the preferred iSCSI path.
	ISCSIIP   string
	ISCSIPort int

	DebugTraceFlags map[string]bool
}
