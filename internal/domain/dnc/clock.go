package dnc

import (
	"sync"
	"time"
)

// Clock supplies the current time to services that evaluate entry windows.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the system time in UTC.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// MockClock implements Clock for testing
type MockClock struct {
	mu          sync.Mutex
	CurrentTime time.Time
}

func NewMockClock(t time.Time) *MockClock {
	return &MockClock{CurrentTime: t}
}

func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CurrentTime
}

func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	m.CurrentTime = m.CurrentTime.Add(d)
	m.mu.Unlock()
}
