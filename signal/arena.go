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

// Package signal implements the chunk-local signal store: a page-based
// arena that backs every BaseSignal added during the build phase.
//
// Allocating every signal out of one arena (rather than one []float64 per
// signal) means the chunk can hand out raw slice headers at finalize time
// and never has to move them again for the life of the process: operators
// that cache a SignalView's backing slice keep a valid pointer until the
// chunk is torn down.
package signal

import "fmt"

// a page holds pageWords float64 values; BaseSignals are packed into
// pages first-fit, never split across pages once allocated.
const (
	pageWords = 1 << 16 // 64Ki float64 = 512KiB per page
)

type page struct {
	mem []float64
	off int
}

func (p *page) remaining() int { return len(p.mem) - p.off }

// Arena is a chunk-local, growable store of float64 backing memory.
// It is not safe for concurrent use; a chunk's build phase is
// single-threaded per spec.
type Arena struct {
	pages []*page
}

// Alloc returns a fresh, zeroed slice of n float64s whose address is
// stable for the lifetime of the Arena. Large requests (bigger than a
// single page) get a dedicated page.
func (a *Arena) Alloc(n int) []float64 {
	if n < 0 {
		panic("signal: negative allocation size")
	}
	if n == 0 {
		return []float64{}
	}
	if n > pageWords {
		p := &page{mem: make([]float64, n)}
		a.pages = append(a.pages, p)
		return p.mem
	}
	for _, p := range a.pages {
		if p.remaining() >= n {
			out := p.mem[p.off : p.off+n : p.off+n]
			p.off += n
			return out
		}
	}
	p := &page{mem: make([]float64, pageWords)}
	a.pages = append(a.pages, p)
	out := p.mem[0:n:n]
	p.off = n
	return out
}

// Pages reports how many backing pages the arena has allocated, for
// diagnostics.
func (a *Arena) Pages() int { return len(a.pages) }

// Reset releases all backing storage. After Reset, any slice previously
// returned by Alloc must not be used.
func (a *Arena) Reset() {
	a.pages = nil
}

func (a *Arena) String() string {
	return fmt.Sprintf("signal.Arena{pages=%d}", len(a.pages))
}
