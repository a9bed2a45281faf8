package batchtx

import "maps"

// NodeLabelsToBeSet must be called before the store replaces the labels of
// node id with labels. The change against the live label set is merged into
// the pending label diff, cancelling earlier opposite changes.
func (a *Accumulator) NodeLabelsToBeSet(id uint64, labels []string) {
	if a.closed || a.committing.Load() {
		return
	}
	a.prepare(pendingOp{op: opLabels, kind: KindNode, id: id, undo: a.labelUndo(id)})

	current := newLabelSet(a.store.NodeLabels(id))
	next := newLabelSet(labels)

	for label := range next {
		if _, ok := current[label]; !ok {
			a.addLabel(id, label)
		}
	}
	for label := range current {
		if _, ok := next[label]; !ok {
			a.removeLabel(id, label)
		}
	}
}

// NodeLabelsSet must be called after the store replaced the labels
func (a *Accumulator) NodeLabelsSet(id uint64, labels []string) error {
	return a.complete(pendingOp{op: opLabels, kind: KindNode, id: id})
}

func (a *Accumulator) addLabel(id uint64, label string) {
	if removeFrom(a.removedLabels, id, label) {
		return
	}
	addTo(a.assignedLabels, id, label)
}

func (a *Accumulator) removeLabel(id uint64, label string) {
	if removeFrom(a.assignedLabels, id, label) {
		return
	}
	addTo(a.removedLabels, id, label)
}

func (a *Accumulator) labelUndo(id uint64) func() {
	assigned := maps.Clone(a.assignedLabels[id])
	removed := maps.Clone(a.removedLabels[id])
	return func() {
		restoreLabels(a.assignedLabels, id, assigned)
		restoreLabels(a.removedLabels, id, removed)
	}
}

func restoreLabels(m map[uint64]labelSet, id uint64, s labelSet) {
	if len(s) == 0 {
		delete(m, id)
	} else {
		m[id] = s
	}
}

func addTo(m map[uint64]labelSet, id uint64, label string) {
	s, ok := m[id]
	if !ok {
		s = make(labelSet)
		m[id] = s
	}
	s[label] = struct{}{}
}

// removeFrom deletes label and prunes the empty set. It reports whether label was present.
func removeFrom(m map[uint64]labelSet, id uint64, label string) bool {
	s, ok := m[id]
	if !ok {
		return false
	}
	if _, ok := s[label]; !ok {
		return false
	}
	delete(s, label)
	if len(s) == 0 {
		delete(m, id)
	}
	return true
}
