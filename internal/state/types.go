package state

import (
	"errors"
	"time"

	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/scheduler"
)

// #region snapshot-record
// SnapshotRecord is one stored version of the scheduler state.
type SnapshotRecord struct {
	VersionID string
	ParentID  string
	Snapshot  scheduler.Snapshot
	Note      string
	CreatedAt time.Time
}

// Decisions is the number of scheduling decisions held in the snapshot.
func (r SnapshotRecord) Decisions() int {
	return len(r.Snapshot.History)
}

// #endregion snapshot-record

// ErrNoActive is returned by Active when nothing has been saved yet.
var ErrNoActive = errors.New("no active snapshot")
