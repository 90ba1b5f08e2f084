package models

// SyncCheckpoint tracks incremental-sync progress against the glasses'
// camera server. LastSyncTime is an opaque server-clock value echoed back
// verbatim on the next delta query; it is never derived from the phone
// clock. Counters are cumulative over the lifetime of the install.
type SyncCheckpoint struct {
	ClientID             string `json:"clientId"`
	LastSyncTime         string `json:"lastSyncTime"`
	TotalDownloadedCount int64  `json:"totalDownloadedCount"`
	TotalDownloadedBytes int64  `json:"totalDownloadedBytes"`
}

// CheckpointUpdate is a merge-patch applied to the persisted checkpoint by a
// completed sync cycle. Nil fields leave the stored value untouched; the
// counters are deltas added to the stored cumulative totals.
type CheckpointUpdate struct {
	LastSyncTime    *string
	DownloadedCount int64
	DownloadedBytes int64
}

// Apply merges an update into the checkpoint.
func (c *SyncCheckpoint) Apply(u CheckpointUpdate) {
	if u.LastSyncTime != nil {
		c.LastSyncTime = *u.LastSyncTime
	}
	c.TotalDownloadedCount += u.DownloadedCount
	c.TotalDownloadedBytes += u.DownloadedBytes
}
