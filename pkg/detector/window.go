package detector

import (
	"regexp"
	"sync"

	"github.com/railwatch/railwatch/pkg/models"
	"time"
)

const defaultWindowSize = 20

// window is the per-service sliding window of recent events. It is
// consulted under its own lock; classification never blocks on I/O while
// holding it.
type window struct {
	mu     sync.Mutex
	events []models.LogEvent
	size   int
}

func newWindow(size int) *window {
	if size <= 0 {
		size = defaultWindowSize
	}
	return &window{size: size}
}

// add appends the event, evicting the oldest beyond the bound.
func (w *window) add(ev models.LogEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.events) >= w.size {
		w.events = w.events[1:]
	}
	w.events = append(w.events, ev)
}

// snapshot copies the current contents.
func (w *window) snapshot() []models.LogEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]models.LogEvent, len(w.events))
	copy(out, w.events)
	return out
}

// countMatches counts events newer than since whose message matches re.
func (w *window) countMatches(re *regexp.Regexp, since time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, ev := range w.events {
		if ev.Timestamp.Before(since) {
			continue
		}
		if re.MatchString(ev.Message) {
			n++
		}
	}
	return n
}

// maxScore returns the highest severity score in the window.
func (w *window) maxScore() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	max := 0
	for _, ev := range w.events {
		if ev.SeverityScore > max {
			max = ev.SeverityScore
		}
	}
	return max
}

// lines renders the window's messages for the classification prompt,
// newest last.
func (w *window) lines() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.events))
	for _, ev := range w.events {
		out = append(out, "["+string(ev.Level)+"] "+ev.Message)
	}
	return out
}
