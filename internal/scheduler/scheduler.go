package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/onurcolak/scheduled-email-service/internal/domain"
	"github.com/onurcolak/scheduled-email-service/pkg/logger"
	"github.com/onurcolak/scheduled-email-service/pkg/webhook"
)

const alertTimeout = 15 * time.Second

// messageProcessor matches MessageService.ProcessDueMessages and lets us unit
// test the scheduler with a small fake implementation.
type messageProcessor interface {
	ProcessDueMessages(ctx context.Context) ([]domain.SendResult, error)
}

type alertSender interface {
	SendAlert(ctx context.Context, alert webhook.Alert) error
}

// Scheduler is the poller: it runs one delivery cycle immediately on start and
// then one per interval until stopped.
type Scheduler struct {
	processor       messageProcessor
	interval        time.Duration
	alerter         alertSender
	alertThreshold  int // consecutive all-fail cycles before an alert
	lastAlertSentAt time.Time

	// Internal state
	running  bool
	stopChan chan struct{}
	doneChan chan struct{}
	mu       sync.RWMutex
	cycleMu  sync.Mutex // serialises ticker and manual cycles

	// Statistics
	lastRunAt    time.Time
	messagesSent int64
	runsCount    int64

	consecutiveAllFailCount int
}

// RunSummary describes a single delivery cycle.
type RunSummary struct {
	RunNumber int64  `json:"runNumber"`
	Processed int    `json:"processed"`
	Sent      int    `json:"sent"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}

func NewScheduler(processor messageProcessor, interval time.Duration) *Scheduler {
	return &Scheduler{
		processor: processor,
		interval:  interval,
		running:   false,
	}
}

// WithAlerts enables alerting after threshold consecutive cycles in which every
// delivery failed. A threshold <= 0 disables alerts.
func (s *Scheduler) WithAlerts(alerter alertSender, threshold int) *Scheduler {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.alerter = alerter
	s.alertThreshold = threshold

	return s
}

// StartWithInterval changes the polling interval and starts the scheduler.
// A non-positive interval keeps the current one.
func (s *Scheduler) StartWithInterval(ctx context.Context, interval time.Duration) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		logger.Warnf("Scheduler is already running")
		return nil
	}
	if interval > 0 {
		s.interval = interval
	}
	s.consecutiveAllFailCount = 0
	s.mu.Unlock()

	return s.Start(ctx)
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()

	if s.running {
		s.mu.Unlock()
		logger.Warnf("Scheduler is already running")
		return nil
	}

	if s.interval <= 0 {
		s.mu.Unlock()
		return fmt.Errorf("scheduler interval must be positive, got %v", s.interval)
	}

	s.running = true
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})
	interval := s.interval
	stopChan, doneChan := s.stopChan, s.doneChan
	s.mu.Unlock()

	logger.Infof("Starting scheduler with interval: %v", interval)

	go s.run(ctx, interval, stopChan, doneChan)

	return nil
}

func (s *Scheduler) run(ctx context.Context, interval time.Duration, stopChan, doneChan chan struct{}) {
	defer func() {
		s.mu.Lock()
		if s.doneChan == doneChan {
			s.running = false
		}
		s.mu.Unlock()
		close(doneChan)
	}()

	s.processMessages(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Infof("Scheduler running. Next execution in %v", interval)

	for {
		select {
		case <-ticker.C:
			s.processMessages(ctx)
			logger.Debugf("Next execution in %v", interval)

		case <-stopChan:
			logger.Warnf("Scheduler received stop signal")
			return

		case <-ctx.Done():
			logger.Warnf("Scheduler context cancelled")
			return
		}
	}
}

// RunOnce runs a single delivery cycle now, whether or not the scheduler is
// running.
func (s *Scheduler) RunOnce(ctx context.Context) RunSummary {
	return s.processMessages(ctx)
}

func (s *Scheduler) processMessages(ctx context.Context) (summary RunSummary) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	s.mu.Lock()
	s.lastRunAt = time.Now()
	s.runsCount++
	runNumber := s.runsCount
	startedAt := s.lastRunAt
	s.mu.Unlock()

	summary.RunNumber = runNumber

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[Run #%d] Recovered from panic: %v", runNumber, r)
			summary.Error = fmt.Sprintf("panic: %v", r)
		}
	}()

	logger.Infof("[Run #%d] Checking scheduled messages at %s", runNumber, startedAt.Format(time.RFC3339))

	results, err := s.processor.ProcessDueMessages(ctx)
	if err != nil {
		logger.Errorf("[Run #%d] Error processing messages, retrying in the next cycle: %v", runNumber, err)
		summary.Error = err.Error()
	}

	if len(results) == 0 {
		if err == nil {
			logger.Debugf("[Run #%d] No pending emails due", runNumber)
		}
		return summary
	}

	successCount := 0
	for _, r := range results {
		if r.Success {
			successCount++
		}
	}

	summary.Processed = len(results)
	summary.Sent = successCount
	summary.Failed = len(results) - successCount

	s.mu.Lock()
	s.messagesSent += int64(successCount)

	var alert *webhook.Alert
	alerter := s.alerter

	if successCount == 0 {
		s.consecutiveAllFailCount++
		logger.Warnf("[Run #%d] All %d messages failed (consecutive count: %d/%d)",
			runNumber, len(results), s.consecutiveAllFailCount, s.alertThreshold)

		if s.alertThreshold > 0 && alerter != nil && s.consecutiveAllFailCount >= s.alertThreshold {
			alert = &webhook.Alert{
				Alert:               "consecutive_all_fail",
				RunNumber:           runNumber,
				ConsecutiveFailures: s.consecutiveAllFailCount,
				MessagesInBatch:     len(results),
				Timestamp:           time.Now().UTC().Format(time.RFC3339),
				Message: fmt.Sprintf(
					"All %d emails failed for %d consecutive poll cycles",
					len(results),
					s.consecutiveAllFailCount,
				),
			}
		}
	} else {
		if s.consecutiveAllFailCount > 0 {
			logger.Debugf("[Run #%d] Resetting consecutive failure count (was: %d)", runNumber, s.consecutiveAllFailCount)
		}
		s.consecutiveAllFailCount = 0
	}
	s.mu.Unlock()

	if alert != nil {
		s.sendAlert(ctx, alerter, *alert)
	}

	logger.Infof("[Run #%d] Processed %d messages, %d sent, %d failed",
		runNumber, summary.Processed, summary.Sent, summary.Failed)

	return summary
}

func (s *Scheduler) sendAlert(ctx context.Context, alerter alertSender, alert webhook.Alert) {
	ctx, cancel := context.WithTimeout(ctx, alertTimeout)
	defer cancel()

	if err := alerter.SendAlert(ctx, alert); err != nil {
		logger.Errorf("Failed to send alert: %v", err)
		return
	}

	s.mu.Lock()
	s.lastAlertSentAt = time.Now()
	s.mu.Unlock()

	logger.Infof("Alert sent (consecutive failures: %d)", alert.ConsecutiveFailures)
}

func (s *Scheduler) Stop() error {
	s.mu.Lock()

	if !s.running {
		s.mu.Unlock()
		logger.Warnf("Scheduler is not running")
		return nil
	}

	s.running = false
	stopChan := s.stopChan
	doneChan := s.doneChan
	s.mu.Unlock()

	close(stopChan)

	// Wait for the current cycle to finish.
	<-doneChan

	logger.Infof("Scheduler stopped")
	return nil
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SchedulerStatus{
		Running:                 s.running,
		MessagesSent:            s.messagesSent,
		RunsCount:               s.runsCount,
		Interval:                s.interval.String(),
		IntervalSeconds:         int64(s.interval / time.Second),
		ConsecutiveAllFailCount: s.consecutiveAllFailCount,
		AlertThreshold:          s.alertThreshold,
	}

	if !s.lastRunAt.IsZero() {
		lastRun := s.lastRunAt
		status.LastRunAt = &lastRun
	}
	if !s.lastAlertSentAt.IsZero() {
		lastAlert := s.lastAlertSentAt
		status.LastAlertSentAt = &lastAlert
	}
	if s.running && !s.lastRunAt.IsZero() {
		next := s.lastRunAt.Add(s.interval)
		status.NextRunAt = &next
	}

	return status
}

type SchedulerStatus struct {
	Running                 bool       `json:"running"`
	LastRunAt               *time.Time `json:"lastRunAt,omitempty"`
	NextRunAt               *time.Time `json:"nextRunAt,omitempty"`
	MessagesSent            int64      `json:"messagesSent"`
	RunsCount               int64      `json:"runsCount"`
	Interval                string     `json:"interval"`
	IntervalSeconds         int64      `json:"intervalSeconds"`
	ConsecutiveAllFailCount int        `json:"consecutiveAllFailCount"`
	AlertThreshold          int        `json:"alertThreshold"`
	LastAlertSentAt         *time.Time `json:"lastAlertSentAt,omitempty"`
}
