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

	"github.com/google/uuid"
)

// runNamespace is a fixed namespace UUID used to derive a deterministic
// RunID from a seed, the same way the teacher tags query/tenant
// executions with a UUID (cmd/snellerd) -- except here the UUID must be
// reproducible across repeated runs of the same seed rather than random,
// since probe output for a given seed must be traceable to the same
// logical run every time.
var runNamespace = uuid.MustParse("7b6f7a6e-6e67-6f2d-6d70-692d636f7265")

// RunID identifies one logical simulation run for log-file naming and
// diagnostics.
type RunID uuid.UUID

func (r RunID) String() string { return uuid.UUID(r).String() }

// NewRunID derives a RunID deterministically from a seed: the same seed
// always yields the same RunID, so repeated runs are traceable to the
// same logical run even though each is a fresh process.
func NewRunID(seed uint64) RunID {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seed)
	return RunID(uuid.NewSHA1(runNamespace, buf[:]))
}
