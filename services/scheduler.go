// services/scheduler.go
package services

import (
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartBallotScheduler resolves elapsed move ballots once a minute so games
// keep advancing even when nobody calls the resolution endpoint. It runs the
// exact same path as an on-demand ExecuteTopMove.
func (s *ConsensusService) StartBallotScheduler() {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			s.ResolveDueBallots()
		}),
	)

	log.Println("✅ Ballot scheduler running (every 1m)")
}
