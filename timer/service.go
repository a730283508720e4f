// Package timer schedules one-shot and repeating timers that fire as bus
// items, so callbacks always run on the mapper goroutine.
package timer

import (
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/drake/mapperproxy/event"
)

// Service owns the live timers. All methods are safe for concurrent use.
type Service struct {
	logger hclog.Logger
	post   func(event.Item)

	mu     sync.Mutex
	nextID int
	timers map[int]func()
}

// NewService creates a Service posting fired timers through post,
// typically (*event.Bus).Post.
func NewService(logger hclog.Logger, post func(event.Item)) *Service {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Service{
		logger: logger,
		post:   post,
		timers: make(map[int]func()),
	}
}

// After fires a named timer once after d. It returns the timer id.
func (s *Service) After(d time.Duration, name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	t := time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()
		s.fire(id, name, false)
	})
	s.timers[id] = func() { t.Stop() }
	return id
}

// Every fires a named timer every d until canceled.
func (s *Service) Every(d time.Duration, name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	ticker := time.NewTicker(d)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				s.fire(id, name, true)
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	var once sync.Once
	s.timers[id] = func() { once.Do(func() { close(done) }) }
	return id
}

func (s *Service) fire(id int, name string, repeating bool) {
	item := event.Timer(id, repeating)
	item.Name = name
	s.post(item)
}

// Cancel stops a timer. It reports whether the id was live.
func (s *Service) Cancel(id int) bool {
	s.mu.Lock()
	stop, ok := s.timers[id]
	delete(s.timers, id)
	s.mu.Unlock()
	if ok {
		stop()
	}
	return ok
}

// Stop cancels every live timer.
func (s *Service) Stop() {
	s.mu.Lock()
	stops := make([]func(), 0, len(s.timers))
	for id, stop := range s.timers {
		stops = append(stops, stop)
		delete(s.timers, id)
	}
	s.mu.Unlock()
	for _, stop := range stops {
		stop()
	}
}
