package transcript

import (
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// Segments reported again within this window are treated as revisions of
	// the same token span rather than new speech.
	matchTolerance = 40 * time.Millisecond

	// A gap this long between two segments ends the current line.
	silenceGap = 1200 * time.Millisecond
)

// Segment is a timestamped token span reported by a recognizer, positioned on
// the single session timeline.
type Segment struct {
	Start    time.Duration
	Duration time.Duration
	Text     string
}

func (s Segment) end() time.Duration {
	return s.Start + s.Duration
}

// Merger folds overlapping recognizer segments into stable transcript lines.
// Committed lines are immutable for the rest of the session; the current line
// is revised in place as the recognizer refines its output. Flushing only ever
// moves text from current to committed, so the concatenation of committed
// lines plus the current line always reconstructs everything that was spoken.
type Merger struct {
	mu        sync.Mutex
	committed []string
	current   []Segment
}

func NewMerger() *Merger {
	return &Merger{}
}

// Add merges one recognizer segment into the current line. Segments whose
// start time falls within the match tolerance of an existing current segment
// replace that segment; anything else is inserted in timestamp order.
func (m *Merger) Add(seg Segment) {
	if strings.TrimSpace(seg.Text) == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	matched := false
	for i := range m.current {
		if absDuration(m.current[i].Start-seg.Start) <= matchTolerance {
			m.current[i] = seg
			matched = true
			break
		}
	}
	if !matched {
		m.current = append(m.current, seg)
		sort.SliceStable(m.current, func(i, j int) bool {
			return m.current[i].Start < m.current[j].Start
		})
	}

	m.flushLocked()
}

// flushLocked commits every completed line in the current segment run. A line
// is complete when a silence gap separates it from the next segment, or when
// its last token ends in terminal punctuation.
func (m *Merger) flushLocked() {
	for {
		boundary := -1
		for i := range m.current {
			if endsWithTerminator(m.current[i].Text) {
				boundary = i
				break
			}
			if i+1 < len(m.current) && m.current[i+1].Start-m.current[i].end() > silenceGap {
				boundary = i
				break
			}
		}
		if boundary < 0 {
			return
		}

		m.commitLocked(m.current[:boundary+1])
		m.current = append([]Segment(nil), m.current[boundary+1:]...)
	}
}

func (m *Merger) commitLocked(segs []Segment) {
	line := joinSegments(segs)
	if line != "" {
		m.committed = append(m.committed, line)
	}
}

// FlushAll finalizes every current segment immediately. Used on forced
// recognizer restarts so that no uncommitted text is lost when the next task
// starts a fresh timeline.
func (m *Merger) FlushAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commitLocked(m.current)
	m.current = nil
}

func (m *Merger) Committed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.committed))
	copy(out, m.committed)
	return out
}

func (m *Merger) CurrentLine() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return joinSegments(m.current)
}

// Transcript reconstructs the full visible transcript: committed lines in
// order, then the live line.
func (m *Merger) Transcript() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	lines := make([]string, 0, len(m.committed)+1)
	lines = append(lines, m.committed...)
	if cur := joinSegments(m.current); cur != "" {
		lines = append(lines, cur)
	}
	return strings.Join(lines, "\n")
}

func (m *Merger) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.committed = nil
	m.current = nil
}

func joinSegments(segs []Segment) string {
	parts := make([]string, 0, len(segs))
	for _, seg := range segs {
		text := strings.TrimSpace(seg.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
