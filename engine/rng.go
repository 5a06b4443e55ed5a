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
	"encoding/binary"
	"math/rand"

	"github.com/dchest/siphash"
)

// seedStream derives a deterministic math/rand source from a chunk's run
// seed and an operator-local key, using siphash the same way
// plan/input.go derives deterministic partition hashes from a key in the
// teacher: same (seed, key) pair always yields the same stream, so two
// runs built with the same seed produce bit-identical stochastic
// operator output, satisfying the determinism property even for
// SimLIFRateNoisy/SpikingRectifiedLinear.
func seedStream(runSeed uint64, rngKey uint64) *rand.Rand {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], rngKey)
	h := siphash.Hash(runSeed, runSeed^0x9e3779b97f4a7c15, buf[:])
	return rand.New(rand.NewSource(int64(h)))
}
