// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package eda

// Representation selects how an individual's per-operator activations are
// stored and how they contribute to the elite sum at generation boundaries.
type Representation int

const (
	// Boolean stores each activation as an on/off flag contributing 0 or 1
	// to the elite sum.
	Boolean Representation = iota
	// RealValued stores each activation as a weight and contributes it to
	// the elite sum as-is. Sampling still draws 0/1 weights, but comparison
	// and accumulation go through the weight so fractional values survive
	// the update unchanged.
	RealValued
)

// activations is one individual's activation vector over all operators.
type activations interface {
	// sample draws a fresh activation for operator i with probability p.
	sample(i int, p float64, r Rand)
	// active reports whether operator i may be selected from this individual.
	active(i int) bool
	// weight is operator i's contribution to the elite sum.
	weight(i int) float64
}

func newActivations(repr Representation, n int) activations {
	if repr == RealValued {
		return make(realVector, n)
	}
	return make(boolVector, n)
}

type boolVector []bool

func (v boolVector) sample(i int, p float64, r Rand) { v[i] = r.Float64() < p }
func (v boolVector) active(i int) bool               { return v[i] }
func (v boolVector) weight(i int) float64 {
	if v[i] {
		return 1
	}
	return 0
}

type realVector []float64

func (v realVector) sample(i int, p float64, r Rand) {
	if r.Float64() < p {
		v[i] = 1
	} else {
		v[i] = 0
	}
}
func (v realVector) active(i int) bool    { return v[i] != 0 }
func (v realVector) weight(i int) float64 { return v[i] }
