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

	"github.com/e2crawfo/nengo-mpi/signal"
)

// SimLIF is a leaky integrate-and-fire neuron population update. It
// maintains per-neuron membrane voltage and refractory timer state
// across steps.
type SimLIF struct {
	Idx       float64
	N         int
	TauRC     float64
	TauRef    float64
	Dt        float64
	J, Out    signal.Resolved
	v, ref    []float64
	allocated bool
}

func (s *SimLIF) Index() float64 { return s.Idx }

func (s *SimLIF) Step() error {
	if s.J.Len() != s.N || s.Out.Len() != s.N {
		return &RuntimeError{Reason: fmt.Sprintf(
			"SimLIF: J/Out length must equal N=%d (J=%d Out=%d)", s.N, s.J.Len(), s.Out.Len())}
	}
	if !s.allocated {
		s.v = make([]float64, s.N)
		s.ref = make([]float64, s.N)
		s.allocated = true
	}
	for i := 0; i < s.N; i++ {
		j := s.J.At(i)
		v := s.v[i]
		refTime := s.ref[i]

		dv := (s.Dt / s.TauRC) * (j - v)
		v += dv
		if v < 0 {
			v = 0
		}
		refTime -= s.Dt

		if refTime > 0 {
			// still refractory: suppress voltage for the
			// refractory fraction that overlaps this step
			frac := refTime / s.Dt
			if frac > 1 {
				frac = 1
			}
			v *= 1 - frac
		}

		if v >= 1 {
			// overshoot fraction used to compute a fractional
			// refractory adjustment
			var dv0 float64
			if dv != 0 {
				dv0 = dv
			} else {
				dv0 = 1e-9
			}
			overshoot := (v - 1) / dv0
			spikeTime := s.Dt * (1 - overshoot)
			s.Out.Set(i, 1/s.Dt)
			v = 0
			refTime = s.TauRef + spikeTime
		} else {
			s.Out.Set(i, 0)
		}

		s.v[i] = v
		s.ref[i] = refTime
	}
	return nil
}

// SimLIFRate is the stateless, rate-based LIF response: the closed-form
// steady-state firing rate given a constant input current J.
type SimLIFRate struct {
	Idx    float64
	N      int
	TauRC  float64
	TauRef float64
	Dt     float64
	J, Out signal.Resolved
}

func (s *SimLIFRate) Index() float64 { return s.Idx }

func (s *SimLIFRate) Step() error {
	if s.J.Len() != s.N || s.Out.Len() != s.N {
		return &RuntimeError{Reason: fmt.Sprintf(
			"SimLIFRate: J/Out length must equal N=%d (J=%d Out=%d)", s.N, s.J.Len(), s.Out.Len())}
	}
	for i := 0; i < s.N; i++ {
		j := s.J.At(i)
		if j > 1 {
			rate := 1 / (s.TauRef + s.TauRC*math.Log(1+1/(j-1)))
			s.Out.Set(i, rate)
		} else {
			s.Out.Set(i, 0)
		}
	}
	return nil
}
