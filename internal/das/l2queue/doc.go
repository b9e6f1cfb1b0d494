// Package l2queue owns Layer 2 (Queue): the bounded hand-off between the
// driver callback (producer) and the render scheduler (consumer).
//
// Push never blocks beyond a short critical section and never allocates; the
// ring is sized once at construction. Dependency rule: L2 depends on package
// das only.
package l2queue
