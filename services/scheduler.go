// services/scheduler.go
package services

import (
	"log"
	"strconv"
	"time"

	"competition-escrow-system/engine"
	"competition-escrow-system/models"

	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

// StartDeadlineScheduler sweeps active competitions past their deadline into
// the ended state every minute. Paused competitions are left alone; they end
// once unpaused.
func (s *CompetitionService) StartDeadlineScheduler() {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			now := s.Clock.Now().Unix()
			var expired []models.Competition
			err := s.DB.Where("state = ? AND deadline <= ? AND emergency_paused = ?",
				models.StateActive, now, false).
				Find(&expired).Error
			if err != nil {
				log.Printf("[Scheduler] DB error: %v", err)
				return
			}

			for _, comp := range expired {
				err := s.DB.Transaction(func(tx *gorm.DB) error {
					locked, err := lockCompetition(tx, strconv.FormatUint(uint64(comp.ID), 10))
					if err != nil {
						return err
					}
					if ok, _ := engine.CanEnd(locked, now); !ok {
						return nil
					}
					locked.State = models.StateEnded
					t := time.Unix(now, 0).UTC()
					locked.EndedAt = &t
					return tx.Save(locked).Error
				})
				if err != nil {
					log.Printf("[Scheduler] Failed to end competition %d: %v", comp.ID, err)
				} else {
					log.Printf("[Scheduler] Competition %d ended at deadline", comp.ID)
				}
			}
		}),
	)
}
