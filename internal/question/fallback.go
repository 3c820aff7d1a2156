package question

import "sync"

// Pool serves locally templated questions when the generation backend is
// unreachable, so the dialogue never stalls on a network failure. Templates
// rotate round-robin per kind.
type Pool struct {
	mu      sync.Mutex
	cursors map[Kind]int
}

func NewPool() *Pool {
	return &Pool{cursors: make(map[Kind]int)}
}

var fallbackTemplates = map[Kind][]NextQuestion{
	KindDefault: {
		{Text: "What is on your mind right now?", CoverageTag: "present"},
		{Text: "What happened today that you want to remember?", CoverageTag: "events"},
		{Text: "How are you feeling at this moment?", CoverageTag: "mood"},
	},
	KindFollowUp: {
		{Text: "Can you say more about that?", CoverageTag: "depth"},
		{Text: "What made that moment stand out?", CoverageTag: "depth"},
		{Text: "How did that make you feel?", CoverageTag: "mood"},
	},
	KindNewTopic: {
		{Text: "What else happened today?", CoverageTag: "events"},
		{Text: "Is there something you have been avoiding thinking about?", CoverageTag: "reflection"},
		{Text: "What are you looking forward to?", CoverageTag: "future"},
	},
}

// Next returns the next template for kind. Unknown kinds fall through to the
// default pool.
func (p *Pool) Next(kind Kind) NextQuestion {
	templates, ok := fallbackTemplates[kind]
	if !ok {
		kind = KindDefault
		templates = fallbackTemplates[kind]
	}

	p.mu.Lock()
	i := p.cursors[kind]
	p.cursors[kind] = (i + 1) % len(templates)
	p.mu.Unlock()

	q := templates[i]
	q.Kind = kind
	return q
}
