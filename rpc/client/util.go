package client

import (
	"fmt"
	"github.com/ValentinKolb/dCMD/rpc/common"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc")
)

// commandsSentCounter returns the counter of sent commands of the given type
func commandsSentCounter(t common.CommandType) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`dcmd_commands_sent_total{type=%q}`, t.String()))
}

// workerRanks returns all worker ranks of a job in ascending order
func workerRanks(worldSize uint32) []common.Rank {
	if worldSize < 2 {
		return nil
	}
	ranks := make([]common.Rank, 0, worldSize-1)
	for r := uint32(1); r < worldSize; r++ {
		ranks = append(ranks, common.Rank(r))
	}
	return ranks
}
