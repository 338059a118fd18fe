package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrNotStarted is returned when recording before Start or after Stop
	ErrNotStarted = errors.New("audit service not started")

	// ErrBufferFull is returned when a decision is dropped
	ErrBufferFull = errors.New("audit buffer full")
)

// Service writes decisions asynchronously so the gate never waits on storage.
type Service struct {
	repo         Repository
	logger       *zap.Logger
	decisions    chan *Decision
	workerCount  int
	bufferSize   int
	writeTimeout time.Duration
	wg           sync.WaitGroup
	started      bool
	stopped      bool
	mu           sync.RWMutex
}

// Config holds configuration for the Service
type Config struct {
	BufferSize   int           // Size of the decision buffer channel
	WorkerCount  int           // Number of concurrent workers
	WriteTimeout time.Duration // Per insert timeout
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:   1000,
		WorkerCount:  2,
		WriteTimeout: 5 * time.Second,
	}
}

// NewService creates a new Service instance
func NewService(repo Repository, logger *zap.Logger, config Config) *Service {
	defaults := DefaultConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = defaults.WorkerCount
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}

	return &Service{
		repo:         repo,
		logger:       logger,
		decisions:    make(chan *Decision, config.BufferSize),
		workerCount:  config.WorkerCount,
		bufferSize:   config.BufferSize,
		writeTimeout: config.WriteTimeout,
	}
}

// Start starts the background workers
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop drains pending decisions, waiting at most timeout.
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.stopped = true
	close(s.decisions)
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_decisions", len(s.decisions)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// Record queues d without blocking. When the buffer is full the decision is
// dropped and logged.
func (s *Service) Record(d *Decision) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started || s.stopped {
		return ErrNotStarted
	}

	select {
	case s.decisions <- d:
		return nil
	default:
		s.logger.Warn("audit buffer full, dropping decision",
			zap.String("request_id", d.RequestID),
			zap.String("outcome", string(d.Outcome)),
			zap.String("reason", d.Reason))
		return ErrBufferFull
	}
}

func (s *Service) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for d := range s.decisions {
		if err := s.write(d); err != nil {
			s.logger.Error("failed to write audit decision",
				zap.Int("worker_id", id),
				zap.String("request_id", d.RequestID),
				zap.Error(err))
		}
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

func (s *Service) write(d *Decision) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	if err := s.repo.Insert(ctx, d); err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}
	return nil
}

// GetStats returns statistics about the audit service
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		BufferSize:       s.bufferSize,
		PendingDecisions: len(s.decisions),
		WorkerCount:      s.workerCount,
		Started:          s.started && !s.stopped,
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize       int
	PendingDecisions int
	WorkerCount      int
	Started          bool
}
