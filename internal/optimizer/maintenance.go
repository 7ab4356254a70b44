// internal/optimizer/maintenance.go
package optimizer

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// MaintenanceReport summarises one maintenance pass.
type MaintenanceReport struct {
	Pressure bool `json:"pressure"`
	Purged   int  `json:"purged"`
	Tracked  int  `json:"tracked"`
}

// Maintain checks memory pressure (running a cleanup when due), purges
// expired cache entries and publishes a snapshot to the recorder.
func (s *Service) Maintain() MaintenanceReport {
	report := MaintenanceReport{
		Pressure: s.memory.CheckPressure(),
		Purged:   s.cache.PurgeExpired(),
	}
	report.Tracked = s.memory.TrackedCount()

	s.recorder.Observe(s.Metrics())
	s.logger.WithFields(map[string]interface{}{
		"pressure": report.Pressure,
		"purged":   report.Purged,
		"tracked":  report.Tracked,
	}).Debug("maintenance pass complete")
	return report
}

// ResetThroughput clears the task throughput counters and restarts their
// rate window.
func (s *Service) ResetThroughput() {
	s.throughput.Reset()
	s.logger.Info("throughput counters reset")
}

// Start schedules Maintain every memory.maintenance_interval until Close.
// Calling it again has no effect.
func (s *Service) Start() error {
	var err error
	s.startOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		interval := s.cfg.Memory.MaintenanceInterval
		c := cron.New(cron.WithChain(cron.Recover(cronLogger{s})))
		if _, err = c.AddFunc(fmt.Sprintf("@every %s", interval), func() { s.Maintain() }); err != nil {
			return
		}
		c.Start()
		s.scheduler = c
		s.logger.Infof("maintenance scheduled every %s", interval)
	})
	return err
}

// cronLogger adapts the service logger to cron.Logger.
type cronLogger struct{ s *Service }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.logger.WithFields(kv(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.logger.WithFields(kv(keysAndValues)).WithField("error", err).Error(msg)
}

func kv(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
