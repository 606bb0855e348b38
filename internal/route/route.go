// Package route picks one candidate among the routes a single provider call
// returns.
package route

import (
	"math/big"
	"strings"
)

type Candidate struct {
	OutputBaseUnits      string
	Label                string
	EstimatedTimeSeconds *int64
}

// Output parses OutputBaseUnits and reports whether it is a positive integer.
func (c Candidate) Output() (*big.Int, bool) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(c.OutputBaseUnits), 10)
	if !ok || n.Sign() <= 0 {
		return nil, false
	}
	return n, true
}

type Source string

const (
	SourceAuto   Source = "auto"
	SourceManual Source = "manual"
	SourceLegacy Source = "legacy"
)

// SelectManual returns the candidate with the largest output. The first
// candidate wins ties; unparseable or zero outputs are skipped.
func SelectManual(candidates []Candidate) (Candidate, bool) {
	var (
		best    Candidate
		bestOut *big.Int
	)
	for _, c := range candidates {
		out, ok := c.Output()
		if !ok {
			continue
		}
		if bestOut == nil || out.Cmp(bestOut) > 0 {
			best, bestOut = c, out
		}
	}
	return best, bestOut != nil
}

// SelectBest prefers the provider's recommended auto route whenever it has a
// nonzero output, even over a larger manual route. Without one it falls back to
// the best manual route, then the first usable legacy route.
func SelectBest(auto *Candidate, manual, legacy []Candidate) (Candidate, Source, bool) {
	if auto != nil {
		if _, ok := auto.Output(); ok {
			return *auto, SourceAuto, true
		}
	}
	if c, ok := SelectManual(manual); ok {
		return c, SourceManual, true
	}
	for _, c := range legacy {
		if _, ok := c.Output(); ok {
			return c, SourceLegacy, true
		}
	}
	return Candidate{}, "", false
}
