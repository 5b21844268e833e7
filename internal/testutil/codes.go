package testutil

import (
	"errors"
	"sync"
)

// ErrCodesExhausted is returned by FixedCodes when every code was handed out.
var ErrCodesExhausted = errors.New("fixed codes exhausted")

// FixedCodes hands out a fixed list of join codes in order.
//
// Repeating a code in the list simulates a collision with a live session.
//
// Thread-safety: FixedCodes is safe for concurrent use.
type FixedCodes struct {
	mu    sync.Mutex
	codes []string
	next  int
}

// NewFixedCodes creates a code source returning codes in order.
func NewFixedCodes(codes ...string) *FixedCodes {
	return &FixedCodes{codes: codes}
}

// NextCode implements ident.CodeSource.
func (f *FixedCodes) NextCode() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.next >= len(f.codes) {
		return "", ErrCodesExhausted
	}
	code := f.codes[f.next]
	f.next++
	return code, nil
}

// Issued returns how many codes have been handed out.
func (f *FixedCodes) Issued() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.next
}
