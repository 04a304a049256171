// ABOUTME: callbackList is a cancelable callback registry used by nodes and docs.
// ABOUTME: Registration returns a cancel closure that removes exactly its own entry.
package sharedtree

import (
	"log"
	"sort"
)

// callbackList stores callbacks keyed by a registration token so that a
// cancel closure removes exactly its own entry and is safe to call twice.
// Access is guarded by the owning doc's mutex.
type callbackList[T any] struct {
	next int
	fns  map[int]T
}

func (l *callbackList[T]) add(fn T) (remove func()) {
	if l.fns == nil {
		l.fns = make(map[int]T)
	}
	token := l.next
	l.next++
	l.fns[token] = fn
	return func() {
		delete(l.fns, token)
	}
}

// snapshot returns the registered callbacks in registration order so firing
// order is stable.
func (l *callbackList[T]) snapshot() []T {
	if len(l.fns) == 0 {
		return nil
	}
	tokens := make([]int, 0, len(l.fns))
	for t := range l.fns {
		tokens = append(tokens, t)
	}
	sort.Ints(tokens)
	fns := make([]T, len(tokens))
	for i, t := range tokens {
		fns[i] = l.fns[t]
	}
	return fns
}

func (l *callbackList[T]) clear() {
	l.fns = nil
}

func logf(format string, args ...any) {
	log.Printf("component=sharedtree "+format, args...)
}
