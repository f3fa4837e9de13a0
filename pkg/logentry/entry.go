package logentry

import "time"

// LogEntry is an immutable-after-construction log record. Ownership passes
// from producer to queue to batcher; nothing downstream mutates it in
// place, so no internal locking is needed the way the teacher's
// map-carrying LogEntry needed one.
type LogEntry struct {
	Content   string
	Level     Level
	Timestamp time.Time

	// SessionID ties the entry back to the session that produced it, for
	// batches that span the fan-out to session socket and uplink.
	SessionID uint64

	// Labels is optional metadata set through SetLabel. No pipeline stage
	// sets it, neither wire format (session socket or uplink) carries it,
	// and it has no filtering semantics of its own.
	Labels map[string]string
}

// New constructs a LogEntry with the current wall-clock time.
func New(content string, level Level) LogEntry {
	return LogEntry{
		Content:   content,
		Level:     level,
		Timestamp: time.Now(),
	}
}

// DeepCopy returns an entry with its own Labels map, so a caller that
// mutates the copy's labels (e.g. a tailer adding a source-path label)
// never affects the original. Value semantics make the rest of the
// struct copy-safe without one.
func (e LogEntry) DeepCopy() LogEntry {
	if e.Labels == nil {
		return e
	}
	cp := e
	cp.Labels = make(map[string]string, len(e.Labels))
	for k, v := range e.Labels {
		cp.Labels[k] = v
	}
	return cp
}

// GetLabel retrieves a label value.
func (e LogEntry) GetLabel(key string) (string, bool) {
	v, ok := e.Labels[key]
	return v, ok
}

// SetLabel sets a label value, allocating Labels on first use.
func (e *LogEntry) SetLabel(key, value string) {
	if e.Labels == nil {
		e.Labels = make(map[string]string)
	}
	e.Labels[key] = value
}

// Batch is an ordered group of entries from a single session, the unit of
// retry and fan-out.
type Batch struct {
	SessionID uint64
	Entries   []LogEntry
}

// Len reports the number of entries in the batch.
func (b Batch) Len() int { return len(b.Entries) }
