package monitor

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/streetpano/measuresync/internal/dispatcher"
	"github.com/streetpano/measuresync/internal/logging"
	"github.com/streetpano/measuresync/internal/session"
)

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	LogManager *logging.SlogManager
	Session    *session.Context
	Dispatcher *dispatcher.Dispatcher
	Lane       string
	Reconnects func() int // optional
	StatusPath string
	Interval   time.Duration
}

// Status is a snapshot of the running process.
type Status struct {
	Time          time.Time `json:"time"`
	Document      string    `json:"document"`
	SessionActive bool      `json:"sessionActive"`
	SessionStart  time.Time `json:"sessionStart,omitzero"`
	LaneQueue     int       `json:"laneQueue"`
	Reconnects    int       `json:"viewerReconnects"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = time.Second
	}
	if deps.LogManager == nil {
		deps.LogManager = logging.NewSlogManager()
	}
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
	}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetStatus returns the current program status. It only reads state that is
// safe to touch from outside the sync lane.
func (s *Service) GetStatus() Status {
	st := Status{Time: time.Now().UTC()}
	if s.deps.Session != nil {
		st.Document = s.deps.Session.Document()
		st.SessionActive = s.deps.Session.Active()
		st.SessionStart = s.deps.Session.Started()
	}
	if s.deps.Dispatcher != nil {
		st.LaneQueue = s.deps.Dispatcher.QueueLen(s.deps.Lane)
	}
	if s.deps.Reconnects != nil {
		st.Reconnects = s.deps.Reconnects()
	}
	return st
}

// WriteStatus replaces the status file with the current status.
func (s *Service) WriteStatus() error {
	data, err := json.MarshalIndent(s.GetStatus(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}
	if err := os.WriteFile(s.deps.StatusPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write status file: %w", err)
	}
	return nil
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if s.deps.StatusPath == "" {
		s.mu.Unlock()
		return fmt.Errorf("no status path configured")
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)

		logger := s.deps.LogManager.Logger()
		logger.Debug("Starting status monitor goroutine", "path", s.deps.StatusPath)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := s.WriteStatus(); err != nil {
					logger.Error("Error writing status file", "error", err)
				}
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and waits for it to exit
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()
	<-done
}
