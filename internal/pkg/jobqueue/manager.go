package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

const DefaultStaleInterval = time.Minute

// StaleSweeper fails purchases that have been pending for too long.
type StaleSweeper interface {
	FailStalePurchases(ctx context.Context) (int, error)
}

// Manager runs the purchase queue, when one is configured, and the periodic background tasks.
type Manager struct {
	queue         *Queue
	sweeper       StaleSweeper
	staleInterval time.Duration
	staleTicker   *time.Ticker
	stopCh        chan struct{}
	wg            sync.WaitGroup
	mu            sync.Mutex
	running       bool
}

// NewManager creates a manager. queue may be nil when purchases run inline.
func NewManager(queue *Queue, sweeper StaleSweeper, staleInterval time.Duration) *Manager {
	if staleInterval <= 0 {
		staleInterval = DefaultStaleInterval
	}
	return &Manager{
		queue:         queue,
		sweeper:       sweeper,
		staleInterval: staleInterval,
		stopCh:        make(chan struct{}),
	}
}

// GetQueue returns the managed job queue, nil in inline mode
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting background tasks")

	if m.queue != nil {
		m.queue.Start()
	}

	if m.sweeper != nil {
		m.staleTicker = time.NewTicker(m.staleInterval)
		m.wg.Add(1)
		go m.staleWorker(m.stopCh, m.staleTicker)
	}

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping background tasks...")

	if m.staleTicker != nil {
		m.staleTicker.Stop()
	}
	close(m.stopCh)
	m.running = false
	m.wg.Wait()

	if m.queue != nil {
		m.queue.Stop()
	}

	log.Info("[JobQueue Manager] Stopped successfully")
}

// staleWorker periodically fails purchases left pending by a crash or a lost job
func (m *Manager) staleWorker(stopCh <-chan struct{}, ticker *time.Ticker) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started stale purchase sweeper (interval: %s)", m.staleInterval)

	for {
		select {
		case <-stopCh:
			log.Info("[JobQueue Manager] Stale purchase sweeper stopping")
			return
		case <-ticker.C:
			m.RunStaleSweepOnce(context.Background())
		}
	}
}

// RunStaleSweepOnce runs a single stale purchase sweep.
func (m *Manager) RunStaleSweepOnce(ctx context.Context) int {
	if m.sweeper == nil {
		return 0
	}
	n, err := m.sweeper.FailStalePurchases(ctx)
	if err != nil {
		log.Errorf("[JobQueue Manager] Stale purchase sweep error: %v", err)
	}
	if n > 0 {
		log.Warnf("[JobQueue Manager] Marked %d stale purchases failed", n)
	}
	return n
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
