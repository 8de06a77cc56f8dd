package rpcutil

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// finalizedTTL bounds how often the finalized-block header is re-fetched;
// finality advances on the order of minutes, so per-block lookups would be
// wasted round trips.
const finalizedTTL = 10 * time.Second

var finalizedMu sync.Mutex
var finalizedAt time.Time
var finalizedTs uint64

// FinalizedBlockTimestamp returns the timestamp of the chain's most recent
// finalized block, cached for finalizedTTL. The lookup itself runs outside
// the lock so a slow RPC round trip never blocks concurrent readers of a
// still-fresh value.
func FinalizedBlockTimestamp(ctx context.Context, eth *ethclient.Client) (uint64, error) {
	finalizedMu.Lock()
	if !finalizedAt.IsZero() && time.Since(finalizedAt) < finalizedTTL {
		ts := finalizedTs
		finalizedMu.Unlock()
		return ts, nil
	}
	finalizedMu.Unlock()

	hdr, err := eth.HeaderByNumber(ctx, big.NewInt(int64(rpc.FinalizedBlockNumber)))
	if err != nil {
		return 0, fmt.Errorf("rpcutil: fetching finalized header: %w", err)
	}

	finalizedMu.Lock()
	finalizedAt = time.Now()
	finalizedTs = hdr.Time
	finalizedMu.Unlock()
	return hdr.Time, nil
}
