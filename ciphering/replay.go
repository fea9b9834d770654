package ciphering

import (
	"fmt"
	"sync"

	"github.com/cybroslabs/dlmscore-go/base"
)

// ReplayGuard tracks the last accepted invocation counter per system title.
// An invocation counter is accepted only when it is strictly greater than the last one.
type ReplayGuard struct {
	mu   sync.Mutex
	last map[[base.SystemTitleLength]byte]uint32
}

func NewReplayGuard() *ReplayGuard {
	return &ReplayGuard{last: make(map[[base.SystemTitleLength]byte]uint32)}
}

func titlekey(title []byte) (k [base.SystemTitleLength]byte) {
	copy(k[:], title)
	return
}

func (g *ReplayGuard) check(k [base.SystemTitleLength]byte, fc uint32) error {
	if last, ok := g.last[k]; ok && fc <= last {
		return fmt.Errorf("invocation counter %d not greater than %d for %X: %w", fc, last, k[:], base.ErrInvocationCounter)
	}
	return nil
}

// Check reports whether fc would be accepted without recording it.
func (g *ReplayGuard) Check(title []byte, fc uint32) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.check(titlekey(title), fc)
}

// Commit records fc as accepted, it fails when another commit already moved past it.
func (g *ReplayGuard) Commit(title []byte, fc uint32) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	k := titlekey(title)
	if err := g.check(k, fc); err != nil {
		return err
	}
	g.last[k] = fc
	return nil
}

// Last returns the last accepted invocation counter for title.
func (g *ReplayGuard) Last(title []byte) (uint32, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.last[titlekey(title)]
	return v, ok
}

// Forget drops the state of title, the next counter from it is accepted whatever its value.
func (g *ReplayGuard) Forget(title []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.last, titlekey(title))
}
