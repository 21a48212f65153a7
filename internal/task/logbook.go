package task

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityError   Severity = "error"
	SeverityDefault Severity = "default"
)

// Event is one logbook entry.
type Event struct {
	Time        time.Time `json:"time"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Severity    Severity  `json:"severity"`
}

func (e Event) String() string {
	return fmt.Sprintf("%-12s%-13s%-30s%s", e.Time.Format("15:04:05"), e.Severity, e.Name, e.Description)
}

// Logbook records task events, mirrors them into zap and fans them out to
// subscribers.
type Logbook struct {
	logger *zap.Logger

	mu     sync.Mutex
	events []Event
	subs   map[int]func(Event)
	nextID int
}

func NewLogbook(logger *zap.Logger) *Logbook {
	return &Logbook{logger: logger, subs: make(map[int]func(Event))}
}

// Subscribe registers fn for every following event. Call the returned func
// to unsubscribe. fn runs on the logging goroutine and must not block.
func (l *Logbook) Subscribe(fn func(Event)) func() {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = fn
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
	}
}

func (l *Logbook) Add(name, description string, severity Severity) {
	e := Event{Time: time.Now(), Name: name, Description: description, Severity: severity}

	l.mu.Lock()
	l.events = append(l.events, e)
	subs := make([]func(Event), 0, len(l.subs))
	for _, fn := range l.subs {
		subs = append(subs, fn)
	}
	l.mu.Unlock()

	if severity == SeverityError {
		l.logger.Error(name, zap.String("description", description))
	} else {
		l.logger.Info(name, zap.String("description", description))
	}

	for _, fn := range subs {
		fn(e)
	}
}

func (l *Logbook) Info(name, description string) {
	l.Add(name, description, SeverityInfo)
}

func (l *Logbook) Error(name, description string) {
	l.Add(name, description, SeverityError)
}

// Events returns a copy of all recorded events.
func (l *Logbook) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

// WriteTo writes the log file format: a header and one line per event.
func (l *Logbook) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	b.WriteString("***Header***\n")
	b.WriteString(strings.Repeat("_", 65) + "\n")
	for _, e := range l.Events() {
		b.WriteString(e.String())
		b.WriteByte('\n')
	}
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}
