// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package engine

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/e2crawfo/nengo-mpi/signal"
)

// SimLIFRateNoisy supplements SimLIFRate with additive Gaussian noise on
// the rate response, matching the noisy-rate neuron model carried over
// from the original nengo_mpi implementation. The noise stream is seeded
// deterministically from the chunk's run seed and RngKey so repeated
// runs with the same seed are bit-identical.
type SimLIFRateNoisy struct {
	Idx       float64
	N         int
	TauRC     float64
	TauRef    float64
	Dt        float64
	Amplitude float64
	RngKey    uint64
	J, Out    signal.Resolved

	rng *rand.Rand
}

func (s *SimLIFRateNoisy) Index() float64 { return s.Idx }

// Seed binds the operator's noise stream to the chunk's current run
// seed. Called by Chunk at finalize_build and again on every reset.
func (s *SimLIFRateNoisy) Seed(runSeed uint64) {
	s.rng = seedStream(runSeed, s.RngKey)
}

func (s *SimLIFRateNoisy) Step() error {
	if s.J.Len() != s.N || s.Out.Len() != s.N {
		return &RuntimeError{Reason: fmt.Sprintf(
			"SimLIFRateNoisy: J/Out length must equal N=%d (J=%d Out=%d)", s.N, s.J.Len(), s.Out.Len())}
	}
	if s.rng == nil {
		return &RuntimeError{Reason: "SimLIFRateNoisy: noise stream not seeded"}
	}
	for i := 0; i < s.N; i++ {
		j := s.J.At(i)
		rate := 0.0
		if j > 1 {
			rate = 1 / (s.TauRef + s.TauRC*math.Log(1+1/(j-1)))
		}
		rate += s.Amplitude * s.rng.NormFloat64()
		if rate < 0 {
			rate = 0
		}
		s.Out.Set(i, rate)
	}
	return nil
}

// SpikingRectifiedLinear is a second, simpler spiking neuron model: spike
// counts are Poisson-distributed with rate max(J,0), scaled by 1/Dt.
type SpikingRectifiedLinear struct {
	Idx    float64
	N      int
	Dt     float64
	RngKey uint64
	J, Out signal.Resolved

	rng *rand.Rand
}

func (s *SpikingRectifiedLinear) Index() float64 { return s.Idx }

// Seed binds the operator's noise stream to the chunk's current run seed.
func (s *SpikingRectifiedLinear) Seed(runSeed uint64) {
	s.rng = seedStream(runSeed, s.RngKey)
}

func (s *SpikingRectifiedLinear) Step() error {
	if s.J.Len() != s.N || s.Out.Len() != s.N {
		return &RuntimeError{Reason: fmt.Sprintf(
			"SpikingRectifiedLinear: J/Out length must equal N=%d (J=%d Out=%d)", s.N, s.J.Len(), s.Out.Len())}
	}
	if s.rng == nil {
		return &RuntimeError{Reason: "SpikingRectifiedLinear: noise stream not seeded"}
	}
	for i := 0; i < s.N; i++ {
		rate := s.J.At(i)
		if rate < 0 {
			rate = 0
		}
		count := poisson(s.rng, rate*s.Dt)
		s.Out.Set(i, count/s.Dt)
	}
	return nil
}

// poisson draws a Poisson-distributed sample with mean lambda via
// Knuth's algorithm. lambda is small in practice (a firing-rate times
// dt), so the naive multiplicative method is adequate.
func poisson(rng *rand.Rand, lambda float64) float64 {
	if lambda <= 0 {
		return 0
	}
	l := math.Exp(-lambda)
	k := 0.0
	p := 1.0
	for {
		k++
		p *= rng.Float64()
		if p <= l {
			return k - 1
		}
	}
}
