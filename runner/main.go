// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Command runner drives the operator-selection engine against a simulated
// fuzzing target. Every operator has a hidden per-seed yield probability;
// the runner lets the engine learn those yields from synthetic new-path
// feedback and reports how close the learned model gets to the ground
// truth. Useful for eyeballing convergence with different population and
// learning-rate settings before wiring the engine into a real fuzzer.
package main

import (
	"flag"
	"log"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/lgf2000/HavocEDA/eda"
)

var (
	flagSeeds  = flag.Int("seeds", 8, "number of seeds to explore")
	flagOps    = flag.Int("ops", 16, "number of mutation operators")
	flagTrials = flag.Int("trials", 20000, "mutation trials per seed")
	flagPop    = flag.Int("pop", 20, "population size per generation")
	flagElites = flag.Int("elites", 4, "elite count per generation")
	flagRate   = flag.Float64("rate", 0.3, "learning rate")
	flagReal   = flag.Bool("real", false, "use the real-valued candidate representation")
	flagProcs  = flag.Int("procs", 4, "parallel seed shards")
	flagV      = flag.Int("v", 0, "verbosity level")
)

// target simulates one seed's coverage frontier. Each operator discovers
// new paths with its own fixed probability, damped as the seed's simulated
// path budget depletes.
type target struct {
	rnd    *rand.Rand
	yield  []float64
	found  int
	budget int
}

func newTarget(rnd *rand.Rand, ops int) *target {
	t := &target{
		rnd:    rnd,
		yield:  make([]float64, ops),
		budget: 1 << 16,
	}
	// A few productive operators, a long tail of near-useless ones.
	for i := range t.yield {
		t.yield[i] = 0.01 * t.rnd.Float64()
	}
	for i := 0; i < 3 && i < ops; i++ {
		t.yield[t.rnd.Intn(ops)] = 0.2 + 0.3*t.rnd.Float64()
	}
	return t
}

func (t *target) run(op int) int {
	paths := 0
	p := t.yield[op] * float64(t.budget-t.found) / float64(t.budget)
	for i := 0; i < 4; i++ {
		if t.rnd.Float64() < p {
			paths++
		}
	}
	t.found += paths
	return paths
}

// bestOps returns operator ids ordered by descending score.
func bestOps(scores []float64) []int {
	ids := make([]int, len(scores))
	for i := range ids {
		ids[i] = i
	}
	sort.Slice(ids, func(i, j int) bool {
		return scores[ids[i]] > scores[ids[j]]
	})
	return ids
}

type shardResult struct {
	probs   [][]float64
	yields  [][]float64
	paths   int
	matched int // seeds whose top learned operator is a top-3 true operator
}

func main() {
	flag.Parse()
	campaign := uuid.New()
	log.Printf("campaign %v: %v seeds, %v operators, %v trials/seed, M=%v N=%v rate=%v",
		campaign, *flagSeeds, *flagOps, *flagTrials, *flagPop, *flagElites, *flagRate)

	procs := *flagProcs
	if procs > *flagSeeds {
		procs = *flagSeeds
	}
	if procs < 1 {
		procs = 1
	}

	repr := eda.Boolean
	if *flagReal {
		repr = eda.RealValued
	}

	// Seeds are sharded across workers, one engine and one RNG per shard,
	// so no state is shared between goroutines.
	results := make([]shardResult, procs)
	start := time.Now()
	p := pool.New().WithMaxGoroutines(procs)
	for shard := 0; shard < procs; shard++ {
		shard := shard
		p.Go(func() {
			lo := shard * *flagSeeds / procs
			hi := (shard + 1) * *flagSeeds / procs
			rnd := rand.New(rand.NewSource(time.Now().UnixNano() + int64(shard)))

			var logf func(format string, args ...interface{})
			if *flagV >= 2 {
				logf = log.Printf
			}
			engine, err := eda.New(eda.Config{
				SeedCount:      hi - lo,
				Operators:      *flagOps,
				PopulationSize: *flagPop,
				EliteCount:     *flagElites,
				LearningRate:   *flagRate,
				Representation: repr,
				Rand:           rnd,
				Logf:           logf,
			})
			if err != nil {
				log.Fatalf("failed to create engine: %v", err)
			}

			res := &results[shard]
			for seed := 0; seed < hi-lo; seed++ {
				tgt := newTarget(rnd, *flagOps)
				for trial := 0; trial < *flagTrials; trial++ {
					op := engine.SelectOperator(seed)
					paths := tgt.run(op)
					engine.NotifyFeedback(seed, paths)
					res.paths += paths
				}
				probs := engine.Probabilities(seed)
				res.probs = append(res.probs, probs)
				res.yields = append(res.yields, tgt.yield)

				top := bestOps(probs)[0]
				topTrue := bestOps(tgt.yield)
				if len(topTrue) > 3 {
					topTrue = topTrue[:3]
				}
				for _, op := range topTrue {
					if op == top {
						res.matched++
						break
					}
				}
			}
		})
	}
	p.Wait()

	var paths, matched int
	for shard, res := range results {
		paths += res.paths
		matched += res.matched
		if *flagV >= 1 {
			for i, probs := range res.probs {
				log.Printf("shard %v seed %v: learned %.3f true %.3f", shard, i, probs, res.yields[i])
			}
		}
	}
	log.Printf("campaign %v: done in %v, %v simulated paths, top operator matched on %v/%v seeds",
		campaign, time.Since(start).Round(time.Millisecond), paths, matched, *flagSeeds)
}
