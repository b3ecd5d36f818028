package workers

import (
	"context"
	"log"
	"time"

	"stake-match-system/services"
	"stake-match-system/utils"
)

// PollReserve periodically refreshes the ledger's mirror of the external
// reserve balance. Share prices are always recomputed live inside ledger
// operations; this loop just keeps the persisted TVL current between calls
// so accrued interest shows up in logs and dashboards without traffic.
func PollReserve(ctx context.Context, ledger *services.LedgerService, pollInterval time.Duration) {
	log.Println("Starting reserve balance polling...")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var lastTVL uint64
	for {
		select {
		case <-ctx.Done():
			log.Println("Reserve polling stopped.")
			return
		case <-ticker.C:
			tvl, err := ledger.SyncReserve()
			if err != nil {
				log.Printf("❌ Error syncing reserve balance: %v", err)
				continue
			}
			if tvl > lastTVL && lastTVL > 0 {
				log.Printf("📈 Reserve accrued %s (now %s locked)",
					utils.FormatAmount(tvl-lastTVL), utils.FormatAmount(tvl))
			}
			lastTVL = tvl
		}
	}
}
