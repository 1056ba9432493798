// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package eda adaptively selects mutation operators for a coverage-guided
// fuzzer. Every seed under exploration carries an independent probability
// model over the operator catalog, learned online from the number of new
// coverage paths each mutated input discovers. The scheme is per-seed
// population-based incremental learning: a generation of PopulationSize
// candidate activation vectors is evaluated one trial at a time, the best
// EliteCount of them (by bucketed comparison) pull the model toward the
// operators they activate, and the next generation is drawn from the
// updated model.
package eda

import (
	"fmt"
	"math/rand"
	"time"
)

const (
	defaultPopulationSize = 20
	defaultEliteCount     = 4
	defaultLearningRate   = 0.3
)

// Rand is the source of randomness consumed by the engine.
// *math/rand.Rand satisfies it.
type Rand interface {
	Intn(n int) int
	Float64() float64
}

// Config parametrizes an Engine. SeedCount and Operators are required;
// zero values of the remaining fields select the defaults.
type Config struct {
	SeedCount int // seeds under exploration, identified by index
	Operators int // size of the mutation operator catalog

	PopulationSize int     // individuals evaluated per generation, default 20
	EliteCount     int     // elite buckets steering the model, default 4
	LearningRate   float64 // model smoothing factor, default 0.3

	// Representation selects how candidate activation vectors are stored
	// and scored; Boolean is the default.
	Representation Representation

	Rand Rand                                     // defaults to a time-seeded math/rand source
	Logf func(format string, args ...interface{}) // optional diagnostics
}

// Engine holds the per-seed selection state. It is not safe for concurrent
// use; callers that evaluate seeds in parallel must shard seeds across
// engines or serialize access themselves.
type Engine struct {
	ops     int
	popSize int
	elites  int
	rate    float64
	repr    Representation
	rand    Rand
	logf    func(format string, args ...interface{})

	seeds []seedState
}

type seedState struct {
	p       []float64     // learned per-operator activation probability
	popul   []activations // the generation's individuals, materialized lazily
	fitness []int         // new-path count per individual, this generation
	elite   []int         // population index of each bucket's best individual
	next    int           // individual currently under evaluation
	current activations   // popul[next], what SelectOperator reads
	pending bool          // SelectOperator called, feedback not yet reported
	gen     int           // completed generations
}

// New allocates selection state for every seed in [0, cfg.SeedCount).
// Each seed starts from a maximal-entropy model (probability 0.5 for every
// operator) with its first candidate drawn by a fair coin. Only the first
// individual of each population is materialized; the rest are drawn from
// the model as evaluation reaches them.
func New(cfg Config) (*Engine, error) {
	if cfg.PopulationSize == 0 {
		cfg.PopulationSize = defaultPopulationSize
	}
	if cfg.EliteCount == 0 {
		cfg.EliteCount = defaultEliteCount
	}
	if cfg.LearningRate == 0 {
		cfg.LearningRate = defaultLearningRate
	}
	if cfg.SeedCount <= 0 {
		return nil, fmt.Errorf("eda: seed count %v must be positive", cfg.SeedCount)
	}
	if cfg.Operators <= 0 {
		return nil, fmt.Errorf("eda: operator count %v must be positive", cfg.Operators)
	}
	if cfg.EliteCount < 0 || cfg.EliteCount > cfg.PopulationSize {
		return nil, fmt.Errorf("eda: elite count %v with population %v", cfg.EliteCount, cfg.PopulationSize)
	}
	// The bucket arithmetic (individual j belongs to bucket j*N/M, bucket i
	// bootstraps at index i*M/N) is only meaningful when the elite count
	// divides the population evenly.
	if cfg.PopulationSize%cfg.EliteCount != 0 {
		return nil, fmt.Errorf("eda: elite count %v does not divide population %v", cfg.EliteCount, cfg.PopulationSize)
	}
	if cfg.LearningRate <= 0 || cfg.LearningRate > 1 {
		return nil, fmt.Errorf("eda: learning rate %v outside (0, 1]", cfg.LearningRate)
	}
	if cfg.Representation != Boolean && cfg.Representation != RealValued {
		return nil, fmt.Errorf("eda: unknown representation %v", cfg.Representation)
	}
	r := cfg.Rand
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	e := &Engine{
		ops:     cfg.Operators,
		popSize: cfg.PopulationSize,
		elites:  cfg.EliteCount,
		rate:    cfg.LearningRate,
		repr:    cfg.Representation,
		rand:    r,
		logf:    cfg.Logf,
		seeds:   make([]seedState, cfg.SeedCount),
	}
	stride := e.popSize / e.elites
	for s := range e.seeds {
		st := &e.seeds[s]
		st.p = make([]float64, e.ops)
		for i := range st.p {
			st.p[i] = 0.5
		}
		st.fitness = make([]int, e.popSize)
		st.elite = make([]int, e.elites)
		for i := range st.elite {
			st.elite[i] = i * stride
		}
		st.popul = make([]activations, e.popSize)
		for i := range st.popul {
			st.popul[i] = newActivations(e.repr, e.ops)
		}
		for i := 0; i < e.ops; i++ {
			st.popul[0].sample(i, 0.5, r)
		}
		st.current = st.popul[0]
	}
	if e.logf != nil {
		e.logf("population size: %v, dominant individuals count %v", e.popSize, e.elites)
	}
	return e, nil
}

func (e *Engine) state(seed int) *seedState {
	if seed < 0 || seed >= len(e.seeds) {
		panic(fmt.Sprintf("eda: seed %v out of range [0, %v)", seed, len(e.seeds)))
	}
	return &e.seeds[seed]
}

// SelectOperator picks the operator to apply to the seed's next mutation:
// a uniformly random operator if the current candidate activates it,
// otherwise the next active operator in cyclic order. A candidate that
// activates nothing degrades to whatever operator the probe stops on, so
// the result is always a valid operator id in [0, Operators).
//
// Every call must be paired with a NotifyFeedback call for the same seed
// once the trial's outcome is known.
func (e *Engine) SelectOperator(seed int) int {
	st := e.state(seed)
	op := e.rand.Intn(e.ops)
	for tries := 0; !st.current.active(op) && tries < e.ops; tries++ {
		op = (op + 1) % e.ops
	}
	st.pending = true
	return op
}

// NotifyFeedback reports how many new coverage paths the trial prepared by
// the seed's last SelectOperator call discovered. It scores the individual
// under evaluation, advances to the next one, and at generation boundaries
// folds the elites into the probability model before starting a fresh
// generation. Calling it without an unmatched SelectOperator for the seed
// is a caller bug and panics.
func (e *Engine) NotifyFeedback(seed, numPaths int) {
	st := e.state(seed)
	if !st.pending {
		panic(fmt.Sprintf("eda: NotifyFeedback for seed %v without a preceding SelectOperator", seed))
	}
	st.pending = false

	st.fitness[st.next] = numPaths

	// Bucketed elitism: each individual competes only against the recorded
	// elite of its own bucket, never against the whole generation. Ties
	// keep the incumbent. Early in a generation the incumbents are the
	// bootstrap placements with freshly zeroed fitness.
	bucket := st.next * e.elites / e.popSize
	if st.fitness[st.next] > st.fitness[st.elite[bucket]] {
		st.elite[bucket] = st.next
	}

	st.next++
	if st.next == e.popSize {
		e.endGeneration(seed, st)
	}

	// Draw the next candidate from the (possibly just updated) model.
	cur := st.popul[st.next]
	for i := 0; i < e.ops; i++ {
		cur.sample(i, st.p[i], e.rand)
	}
	st.current = cur
}

func (e *Engine) endGeneration(seed int, st *seedState) {
	for i := 0; i < e.ops; i++ {
		sum := 0.0
		for _, j := range st.elite {
			sum += st.popul[j].weight(i)
		}
		// Keep every operator samplable and removable: the model must
		// never be driven to exactly 0 or 1.
		if sum == float64(e.elites) {
			sum--
		}
		if sum == 0 {
			sum++
		}
		st.p[i] = (1-e.rate)*st.p[i] + e.rate*sum/float64(e.elites)
	}

	st.next = 0
	stride := e.popSize / e.elites
	for i := range st.elite {
		st.elite[i] = i * stride
	}
	for i := range st.fitness {
		st.fitness[i] = 0
	}
	st.gen++

	if e.logf != nil {
		e.logf("seed %v: generation %v complete, model %v", seed, st.gen, st.p)
	}
}

// Probabilities returns a copy of the seed's learned per-operator
// activation probabilities.
func (e *Engine) Probabilities(seed int) []float64 {
	st := e.state(seed)
	return append([]float64{}, st.p...)
}

// Generation returns how many generations the seed has completed.
func (e *Engine) Generation(seed int) int {
	return e.state(seed).gen
}

// ParentRepr is a placeholder for a compact representation of the seed's
// best-known activation vector. It is not implemented and always returns
// zero; callers must not rely on the value.
func (e *Engine) ParentRepr(seed int) uint32 {
	e.state(seed)
	return 0
}
