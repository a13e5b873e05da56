package guard

// #region match

// Match reports whether every clause holds for obs. A clause naming a
// feature absent from obs does not hold. An empty conjunction matches.
func (cj Conjunction) Match(obs map[int]float64) bool {
	for _, c := range cj {
		v, ok := obs[c.Feature]
		if !ok || !c.Op.Apply(v, c.Bound) {
			return false
		}
	}
	return true
}

// FirstMatch returns the index of the first conjunction in declared order
// that matches obs, or -1.
func FirstMatch(conjunctions []Conjunction, obs map[int]float64) int {
	for i, cj := range conjunctions {
		if cj.Match(obs) {
			return i
		}
	}
	return -1
}

// #endregion match

// #region overlap

type bound struct {
	v    float64
	open bool
}

// Overlap reports whether a and b can both hold for a single observation.
// Each feature's clauses from both sides are intersected as an interval.
func Overlap(a, b Conjunction) bool {
	lo := map[int]bound{}
	hi := map[int]bound{}
	raise := func(f int, v float64, open bool) {
		cur, ok := lo[f]
		if !ok || v > cur.v || (v == cur.v && open) {
			lo[f] = bound{v, open}
		}
	}
	lower := func(f int, v float64, open bool) {
		cur, ok := hi[f]
		if !ok || v < cur.v || (v == cur.v && open) {
			hi[f] = bound{v, open}
		}
	}

	for _, cj := range []Conjunction{a, b} {
		for _, c := range cj {
			switch c.Op {
			case Greater:
				raise(c.Feature, c.Bound, true)
			case GreaterEqual:
				raise(c.Feature, c.Bound, false)
			case Less:
				lower(c.Feature, c.Bound, true)
			case LessEqual:
				lower(c.Feature, c.Bound, false)
			case Equal:
				raise(c.Feature, c.Bound, false)
				lower(c.Feature, c.Bound, false)
			}
		}
	}

	for f, l := range lo {
		h, ok := hi[f]
		if !ok {
			continue
		}
		if l.v > h.v || (l.v == h.v && (l.open || h.open)) {
			return false
		}
	}
	return true
}

// #endregion overlap
