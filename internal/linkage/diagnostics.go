package linkage

import "sync"

// DiagnosticLog keeps the most recent diagnostics in memory. Its Record
// method is a DiagnosticSink.
type DiagnosticLog struct {
	mu    sync.Mutex
	items []Diagnostic
	size  int
}

// NewDiagnosticLog keeps at most size entries; size <= 0 means 50.
func NewDiagnosticLog(size int) *DiagnosticLog {
	if size <= 0 {
		size = 50
	}
	return &DiagnosticLog{size: size}
}

// Record appends d, evicting the oldest entry when full.
func (l *DiagnosticLog) Record(d Diagnostic) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.items) == l.size {
		copy(l.items, l.items[1:])
		l.items = l.items[:l.size-1]
	}
	l.items = append(l.items, d)
}

// Recent returns the retained diagnostics, newest first.
func (l *DiagnosticLog) Recent() []Diagnostic {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Diagnostic, len(l.items))
	for i, d := range l.items {
		out[len(l.items)-1-i] = d
	}
	return out
}
