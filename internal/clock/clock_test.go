package clock

import (
	"testing"
	"time"
)

func TestMockAdvances(t *testing.T) {
	m := NewMock()
	start := m.Now()

	m.Add(90 * time.Minute)

	if !m.Now().After(start) {
		t.Fatalf("Now() = %v, want after %v", m.Now(), start)
	}
}

func TestRealNowMonotonic(t *testing.T) {
	c := New()
	first := c.Now()
	second := c.Now()
	if second.Before(first) {
		t.Fatalf("Now() went backwards: %v then %v", first, second)
	}
}
