package vector

import "sort"

// label is the FAISS-side identity of an indexed chunk id.
type label struct {
	id        string
	value     int64
	seq       uint64
	retrieved uint64
}

// labelTable maps chunk ids to int64 labels for indexes that only store numeric ids, and
// keeps the insertion and retrieval ticks that drive eviction.
type labelTable struct {
	byID    map[string]*label
	byValue map[int64]*label
	next    int64
	nextSeq uint64
	tick    uint64
}

func newLabelTable() *labelTable {
	return &labelTable{byID: make(map[string]*label), byValue: make(map[int64]*label)}
}

func (t *labelTable) len() int {
	return len(t.byID)
}

func (t *labelTable) get(id string) (*label, bool) {
	l, ok := t.byID[id]
	return l, ok
}

// assign returns a fresh label for id. Labels are never reused.
func (t *labelTable) assign(id string) *label {
	t.nextSeq++
	l := &label{id: id, value: t.next, seq: t.nextSeq}
	t.next++
	t.byID[id] = l
	t.byValue[l.value] = l
	return l
}

// relabel moves l to a fresh label value, keeping its insertion and retrieval ticks.
func (t *labelTable) relabel(l *label) {
	delete(t.byValue, l.value)
	l.value = t.next
	t.next++
	t.byValue[l.value] = l
}

func (t *labelTable) drop(l *label) {
	delete(t.byID, l.id)
	delete(t.byValue, l.value)
}

// victim picks the least recently retrieved label outside batch; never-retrieved labels go
// first, oldest insertion first.
func (t *labelTable) victim(batch map[string]bool) *label {
	var v *label
	for _, l := range t.byID {
		if batch[l.id] {
			continue
		}
		if v == nil || l.retrieved < v.retrieved || (l.retrieved == v.retrieved && l.seq < v.seq) {
			v = l
		}
	}
	return v
}

// hits resolves search labels and scores into results ordered by score, ties by insertion,
// and marks them retrieved. Unknown or negative labels are skipped.
func (t *labelTable) hits(values []int64, scores []float64) []*VectorResult {
	t.tick++
	found := make([]*label, 0, len(values))
	byLabel := make(map[*label]float64, len(values))
	for i, v := range values {
		l, ok := t.byValue[v]
		if v < 0 || !ok {
			continue
		}
		l.retrieved = t.tick
		found = append(found, l)
		byLabel[l] = scores[i]
	}
	sort.SliceStable(found, func(i, j int) bool {
		si, sj := byLabel[found[i]], byLabel[found[j]]
		if si != sj {
			return si > sj
		}
		return found[i].seq < found[j].seq
	})
	out := make([]*VectorResult, len(found))
	for i, l := range found {
		out[i] = &VectorResult{ID: l.id, Score: byLabel[l]}
	}
	return out
}
