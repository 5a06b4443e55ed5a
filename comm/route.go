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

package comm

import (
	"encoding/binary"
	"sort"

	"github.com/dchest/siphash"
)

// routeKeys are fixed, not derived from any run seed: merge ordering
// must be identical on both sides of a peer pair regardless of which
// rank's seed produced it, so every chunk in a run hashes tags with the
// same fixed key pair (unlike the per-run RNG streams in package engine,
// which deliberately do vary with the seed).
const (
	routeKey0 uint64 = 0x6c6f63616c686173
	routeKey1 uint64 = 0x6820666f72206d70
)

// tagHash returns a deterministic, well-mixed ordinal for tag, used the
// same way plan/input.go hashes a partition key to assign a stable slot:
// two chunks merging sends/recvs to the same peer independently compute
// the same order without exchanging anything at build time.
func tagHash(tag Tag) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(tag))
	return siphash.Hash(routeKey0, routeKey1, buf[:])
}

// orderTags returns tags sorted by tagHash, breaking ties (which would
// indicate a hash collision between two distinct tags routed to the
// same peer) by the tag's own value so the order is still total and
// deterministic.
func orderTags(tags []Tag) []Tag {
	out := make([]Tag, len(tags))
	copy(out, tags)
	sort.Slice(out, func(i, j int) bool {
		hi, hj := tagHash(out[i]), tagHash(out[j])
		if hi != hj {
			return hi < hj
		}
		return out[i] < out[j]
	})
	return out
}
