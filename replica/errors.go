package replica

import "errors"

// errNoSyncEngine is returned by Sync when the Replica was constructed
// without a sync.Engine.
var errNoSyncEngine = errors.New("replica: sync called on a replica with no sync engine configured")
