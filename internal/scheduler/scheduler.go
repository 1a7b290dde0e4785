package scheduler

import (
	"github.com/citrusframework/citrus-simulator-sub000/pkg/service"
	"github.com/robfig/cron/v3"
)

// Entry schedules one scenario under a cron expression (with a seconds
// field, e.g. "0 */5 * * * *").
type Entry struct {
	Spec       string
	Scenario   string
	Parameters map[string]string
}

// Scheduler triggers scenario runs on timers. Each firing goes through the
// coordinator's usual reserve-and-dispatch path, so the triggering cron
// goroutine never blocks on scenario completion.
type Scheduler struct {
	cron        *cron.Cron
	coordinator *service.ExecutionCoordinator
	logger      service.Logger
}

func NewScheduler(coordinator *service.ExecutionCoordinator, logger service.Logger) *Scheduler {
	return &Scheduler{
		cron:        cron.New(cron.WithSeconds()),
		coordinator: coordinator,
		logger:      logger,
	}
}

// Add registers a scheduled scenario. Unknown scenario names surface on the
// first firing, not here, since the registry snapshot may change in between.
func (s *Scheduler) Add(entry Entry) error {
	_, err := s.cron.AddFunc(entry.Spec, func() {
		id, err := s.coordinator.Run(entry.Scenario, entry.Parameters)
		if err != nil {
			s.logger.Errorf("Scheduled run of scenario '%s' failed: %v", entry.Scenario, err)
			return
		}
		s.logger.Infof("Scheduled run of scenario '%s' reserved execution %d", entry.Scenario, id)
	})
	return err
}

// Start begins firing schedules on their own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling; already-dispatched executions are unaffected.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
