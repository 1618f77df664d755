package calendar

import (
	"fmt"

	"github.com/robfig/cron/v3"

	appLog "drivecal/internal/log"
)

// schedule starts the safety-net refresh. Real-time notifications can be
// lost; this reloads everything, including blackouts, on RefreshCron.
func (s *Session) schedule() (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err := c.AddFunc(s.cfg.RefreshCron, func() {
		appLog.Info("scheduled refresh", "session", s.id)
		s.dirStale.Store(true)
		s.post(func() {
			s.invalidatePrefetch()
			s.blackouts.Reset()
			s.requestRefresh()
		})
	})
	if err != nil {
		return nil, fmt.Errorf("refresh schedule %q: %w", s.cfg.RefreshCron, err)
	}
	c.Start()
	return c, nil
}
