package llm

import (
	"cmp"
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/floats"
)

type stageKind int

const (
	stagePenalties stageKind = iota
	stageTopK
	stageTopP
	stageMinP
	stageTemperature
	stageGreedy
	stageDist
)

func (k stageKind) String() string {
	switch k {
	case stagePenalties:
		return "penalties"
	case stageTopK:
		return "top_k"
	case stageTopP:
		return "top_p"
	case stageMinP:
		return "min_p"
	case stageTemperature:
		return "temperature"
	case stageGreedy:
		return "greedy"
	case stageDist:
		return "dist"
	}
	return "unknown"
}

type stage interface {
	kind() stageKind
	apply(c *candidates)
}

type accepter interface{ accept(t Token) }
type resetter interface{ reset() }

type tokenData struct {
	id    Token
	logit float32
	p     float32
}

// candidates is the working distribution for one Sample call. Storage is
// reused across calls.
type candidates struct {
	data     []tokenData
	sorted   bool
	selected int
	scratch  []float64
}

func (c *candidates) reset(logits []float32) {
	c.data = c.data[:0]
	for i, l := range logits {
		c.data = append(c.data, tokenData{id: Token(i), logit: l})
	}
	c.sorted = false
	c.selected = -1
}

func (c *candidates) sortDesc() {
	if c.sorted {
		return
	}
	slices.SortStableFunc(c.data, func(a, b tokenData) int { return cmp.Compare(b.logit, a.logit) })
	c.sorted = true
}

func (c *candidates) logits64() []float64 {
	c.scratch = c.scratch[:0]
	for _, d := range c.data {
		c.scratch = append(c.scratch, float64(d.logit))
	}
	return c.scratch
}

// softmax sorts descending and fills p.
func (c *candidates) softmax() {
	c.sortDesc()
	if len(c.data) == 0 {
		return
	}
	lse := floats.LogSumExp(c.logits64())
	for i := range c.data {
		c.data[i].p = float32(math.Exp(float64(c.data[i].logit) - lse))
	}
}

// penaltyStage reweights tokens seen in the last n accepted tokens.
type penaltyStage struct {
	n         int
	repeat    float32
	frequency float32
	presence  float32

	history []Token // ring, oldest at head once full
	head    int
	counts  map[Token]int
}

func newPenaltyStage(n int, repeat, freq, presence float32) *penaltyStage {
	return &penaltyStage{n: n, repeat: repeat, frequency: freq, presence: presence, counts: make(map[Token]int)}
}

func (s *penaltyStage) kind() stageKind { return stagePenalties }

func (s *penaltyStage) accept(t Token) {
	if len(s.history) < s.n {
		s.history = append(s.history, t)
	} else {
		old := s.history[s.head]
		if s.counts[old]--; s.counts[old] <= 0 {
			delete(s.counts, old)
		}
		s.history[s.head] = t
		s.head = (s.head + 1) % s.n
	}
	s.counts[t]++
}

func (s *penaltyStage) reset() {
	s.history = s.history[:0]
	s.head = 0
	clear(s.counts)
}

func (s *penaltyStage) apply(c *candidates) {
	if len(s.counts) == 0 {
		return
	}
	for i := range c.data {
		n, ok := s.counts[c.data[i].id]
		if !ok {
			continue
		}
		l := c.data[i].logit
		if l <= 0 {
			l *= s.repeat
		} else {
			l /= s.repeat
		}
		l -= float32(n)*s.frequency + s.presence
		c.data[i].logit = l
	}
	c.sorted = false
}

type topKStage struct{ k int }

func (topKStage) kind() stageKind { return stageTopK }

func (s topKStage) apply(c *candidates) {
	c.sortDesc()
	if s.k < len(c.data) {
		c.data = c.data[:s.k]
	}
}

// topPStage keeps the smallest prefix whose mass reaches p, never fewer than
// one token.
type topPStage struct{ p float32 }

func (topPStage) kind() stageKind { return stageTopP }

func (s topPStage) apply(c *candidates) {
	c.softmax()
	var cum float32
	for i := range c.data {
		cum += c.data[i].p
		if cum >= s.p {
			c.data = c.data[:i+1]
			return
		}
	}
}

// minPStage drops tokens whose probability is below p times the best one,
// compared in logit space.
type minPStage struct{ p float32 }

func (minPStage) kind() stageKind { return stageMinP }

func (s minPStage) apply(c *candidates) {
	if len(c.data) == 0 {
		return
	}
	best := floats.Max(c.logits64())
	cut := float32(best + math.Log(float64(s.p)))
	kept := c.data[:0]
	for _, d := range c.data {
		if d.logit >= cut {
			kept = append(kept, d)
		}
	}
	c.data = kept
}

type tempStage struct{ t float32 }

func (tempStage) kind() stageKind { return stageTemperature }

func (s tempStage) apply(c *candidates) {
	for i := range c.data {
		c.data[i].logit /= s.t
	}
}

type greedyStage struct{}

func (greedyStage) kind() stageKind { return stageGreedy }

func (greedyStage) apply(c *candidates) {
	if len(c.data) == 0 {
		return
	}
	c.selected = floats.MaxIdx(c.logits64())
}

// distStage draws from the softmax of the remaining candidates.
type distStage struct {
	seed uint32
	rng  *rand.Rand
}

func newDistStage(seed uint32) *distStage {
	s := &distStage{seed: seed}
	s.reset()
	return s
}

func (*distStage) kind() stageKind { return stageDist }

func (s *distStage) reset() {
	s.rng = rand.New(rand.NewPCG(uint64(s.seed), uint64(s.seed)^0x9e3779b97f4a7c15))
}

func (s *distStage) apply(c *candidates) {
	if len(c.data) == 0 {
		return
	}
	c.softmax()
	r := s.rng.Float32()
	var cum float32
	for i := range c.data {
		cum += c.data[i].p
		if r < cum {
			c.selected = i
			return
		}
	}
	c.selected = len(c.data) - 1
}
