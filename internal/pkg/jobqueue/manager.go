package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayProof/internal/pkg/env"
)

const (
	DefaultWorkerCount      = 5
	DefaultRecoveryInterval = 5 * time.Minute
	recoveryGrace           = 10 * time.Minute
)

// Manager owns the process-wide queue and the orphaned-retry recovery loop
type Manager struct {
	queue    *Queue
	interval time.Duration

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the process-wide manager, configured from the environment
func GetManager() *Manager {
	managerOnce.Do(func() {
		globalManager = NewManager(
			NewQueue(env.GetEnvInt("JOBQUEUE_WORKERS", DefaultWorkerCount)),
			env.GetEnvSeconds("JOBQUEUE_RETRY_INTERVAL_SECONDS", DefaultRecoveryInterval),
		)
	})
	return globalManager
}

// NewManager wraps a queue; interval controls how often orphaned retries are looked for
func NewManager(queue *Queue, interval time.Duration) *Manager {
	if interval <= 0 {
		interval = DefaultRecoveryInterval
	}
	return &Manager{queue: queue, interval: interval}
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start runs the queue and the recovery loop. Calling it twice is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.stopCh = make(chan struct{})
	m.running = true

	m.queue.Start()
	m.wg.Add(1)
	go m.recoverLoop(m.stopCh)
	log.Infof("[JobQueue Manager] Started (recovery every %s)", m.interval)
}

// Stop halts the recovery loop, then drains the queue workers
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	close(m.stopCh)
	m.running = false
	m.wg.Wait()
	m.queue.Stop()
	log.Info("[JobQueue Manager] Stopped")
}

// IsRunning reports whether Start has been called without a matching Stop
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) recoverLoop(stopCh <-chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.recoverOnce()
		}
	}
}

func (m *Manager) recoverOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	n, err := m.queue.RecoverRetryingJobs(ctx, recoveryGrace)
	if err != nil {
		log.Errorf("[JobQueue Manager] Recovering retrying jobs failed: %v", err)
		return
	}
	if n > 0 {
		log.Infof("[JobQueue Manager] Rescheduled %d orphaned retries", n)
	}
}
