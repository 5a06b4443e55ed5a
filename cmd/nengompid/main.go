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

// Command nengompid is one worker process of a distributed simulation
// run: it owns exactly one Chunk, takes build records and run commands
// from sim.Manager over its stdin/stdout control channel, and talks to
// its peer workers over a TCP mesh via comm.Net. Flag-based
// configuration and a flat var-per-flag style follow cmd/snellerd and
// cmd/sdb in the teacher.
package main

import (
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"

	"github.com/e2crawfo/nengo-mpi/comm"
	"github.com/e2crawfo/nengo-mpi/engine"
	"github.com/e2crawfo/nengo-mpi/logsink"
	"github.com/e2crawfo/nengo-mpi/sim"
	"github.com/e2crawfo/nengo-mpi/signal"
	"github.com/e2crawfo/nengo-mpi/wire"
)

var (
	dashRank       = flag.Int("rank", 0, "this process's rank within the communicator")
	dashNProcs     = flag.Int("nprocs", 1, "total number of ranks in the communicator")
	dashDt         = flag.Float64("dt", 0.001, "simulation step size")
	dashMerged     = flag.Bool("merged", false, "synthesize one merged send/recv operator per peer")
	dashBarrier    = flag.Int("barrier-period", 0, "steps between collective barriers (0 disables)")
	dashLog        = flag.String("log", "", "path to write compressed probe blocks to (empty disables)")
	dashFlushEvery = flag.Int("flush-every", 100, "steps between periodic probe flushes to the log sink (only used if --log is set)")
)

func main() {
	flag.Parse()
	logger := log.New(os.Stderr, fmt.Sprintf("nengompid[%d] ", *dashRank), log.LstdFlags)

	if err := run(logger); err != nil {
		logger.Fatalf("fatal: %v", err)
	}
}

func run(logger *log.Logger) error {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer ln.Close()

	if err := sim.WriteFrame(os.Stdout, sim.MethodHandshake, sim.HandshakeMsg{ListenAddr: ln.Addr().String()}); err != nil {
		return fmt.Errorf("send handshake: %w", err)
	}

	peersFrame, err := sim.ReadFrame(os.Stdin)
	if err != nil {
		return fmt.Errorf("read peers: %w", err)
	}
	if peersFrame.Method != sim.MethodPeers {
		return fmt.Errorf("expected peers message, got method %d", peersFrame.Method)
	}
	peersMsg, err := sim.Decode[sim.PeersMsg](peersFrame)
	if err != nil {
		return fmt.Errorf("decode peers: %w", err)
	}

	conns, err := connectMesh(ln, peersMsg.Rank, peersMsg.Addrs)
	if err != nil {
		return fmt.Errorf("connect mesh: %w", err)
	}

	var transport comm.Transport
	if len(conns) > 0 {
		transport = comm.NewNet(peersMsg.Rank, *dashNProcs, conns)
	}
	chunk := engine.NewChunk(peersMsg.Rank, *dashDt, transport, *dashMerged)

	if *dashLog != "" {
		codec, err := logsink.NewZstdCodec()
		if err != nil {
			return fmt.Errorf("new codec: %w", err)
		}
		f, err := logsink.NewFileSink(*dashLog, codec)
		if err != nil {
			logger.Printf("open log sink failed, running without it: %v", err)
		} else {
			defer f.Close()
			chunk.SetLogSink(f, *dashFlushEvery)
		}
	}

	return serve(chunk, logger)
}

// connectMesh dials every lower-ranked peer and accepts a connection
// from every higher-ranked peer, identifying an inbound connection's
// owner via a 4-byte big-endian rank preamble each dialer sends first.
func connectMesh(ln net.Listener, rank int, addrs []string) (map[int]net.Conn, error) {
	conns := make(map[int]net.Conn)
	accepted := make(chan net.Conn)
	acceptErrs := make(chan error, 1)
	nHigher := len(addrs) - rank - 1
	go func() {
		for i := 0; i < nHigher; i++ {
			c, err := ln.Accept()
			if err != nil {
				acceptErrs <- err
				return
			}
			accepted <- c
		}
	}()

	for p := 0; p < rank; p++ {
		c, err := net.Dial("tcp", addrs[p])
		if err != nil {
			return nil, fmt.Errorf("dial rank %d at %s: %w", p, addrs[p], err)
		}
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], uint32(rank))
		if _, err := c.Write(buf[:]); err != nil {
			return nil, fmt.Errorf("send rank preamble to %d: %w", p, err)
		}
		conns[p] = c
	}

	for i := 0; i < nHigher; i++ {
		select {
		case c := <-accepted:
			var buf [4]byte
			if _, err := io.ReadFull(c, buf[:]); err != nil {
				return nil, fmt.Errorf("read rank preamble: %w", err)
			}
			peer := int(binary.BigEndian.Uint32(buf[:]))
			conns[peer] = c
		case err := <-acceptErrs:
			return nil, fmt.Errorf("accept: %w", err)
		}
	}
	return conns, nil
}

// serve runs the build-then-execute control loop: build records stream
// in over stdin until Finalize, after which Run/ProbeData/Reset/Shutdown
// messages drive the chunk.
func serve(chunk *engine.Chunk, logger *log.Logger) error {
	if err := buildPhase(chunk); err != nil {
		return fmt.Errorf("build phase: %w", err)
	}

	finalizeFrame, err := sim.ReadFrame(os.Stdin)
	if err != nil {
		return fmt.Errorf("read finalize: %w", err)
	}
	if finalizeFrame.Method != sim.MethodFinalize {
		return fmt.Errorf("expected finalize, got method %d", finalizeFrame.Method)
	}
	finalizeMsg, err := sim.Decode[sim.FinalizeMsg](finalizeFrame)
	if err != nil {
		return fmt.Errorf("decode finalize: %w", err)
	}
	if err := chunk.FinalizeBuild(finalizeMsg.Seed, finalizeMsg.BarrierPeriod); err != nil {
		sendAck(err)
		return fmt.Errorf("finalize build: %w", err)
	}
	sendAck(nil)

	for {
		f, err := sim.ReadFrame(os.Stdin)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read control frame: %w", err)
		}
		switch f.Method {
		case sim.MethodRun:
			msg, err := sim.Decode[sim.RunMsg](f)
			if err != nil {
				sendAck(err)
				continue
			}
			runErr := chunk.RunNSteps(msg.Steps)
			var ioErr *engine.IOError
			if errors.As(runErr, &ioErr) {
				logger.Printf("log sink flush failed, sink detached: %v", ioErr)
				runErr = nil
			}
			sendAck(runErr)

		case sim.MethodProbeReq:
			msg, err := sim.Decode[sim.ProbeReqMsg](f)
			if err != nil {
				sendProbeResp(nil, err)
				continue
			}
			data, err := chunk.ProbeData(signal.Key(msg.ProbeKey))
			sendProbeResp(data, err)

		case sim.MethodReset:
			msg, err := sim.Decode[sim.ResetMsg](f)
			if err != nil {
				sendAck(err)
				continue
			}
			chunk.Reset(msg.Seed)
			sendAck(nil)

		case sim.MethodShutdown:
			return nil

		default:
			sendAck(fmt.Errorf("unexpected method %d after finalize", f.Method))
		}
	}
}

// buildPhase feeds MethodBuildRecord payloads into a wire.Reader over
// an in-process pipe, applying each decoded record to chunk and
// acknowledging it, until the terminal stop record arrives.
func buildPhase(chunk *engine.Chunk) error {
	pr, pw := io.Pipe()
	reader := wire.NewReader(pr)
	done := make(chan error, 1)

	go func() {
		for {
			rec, err := reader.Next()
			if err != nil {
				done <- err
				return
			}
			applyErr := applyRecord(chunk, rec)
			sendAck(applyErr)
			if rec.Flag == wire.FlagStop {
				done <- nil
				return
			}
			if applyErr != nil {
				done <- applyErr
				return
			}
		}
	}()

	for {
		f, err := sim.ReadFrame(os.Stdin)
		if err != nil {
			pw.CloseWithError(err)
			return err
		}
		if f.Method != sim.MethodBuildRecord {
			pw.CloseWithError(fmt.Errorf("unexpected method %d during build phase", f.Method))
			return <-done
		}
		if _, err := pw.Write(f.Payload); err != nil {
			return err
		}
		select {
		case err := <-done:
			return err
		default:
		}
	}
}

func applyRecord(chunk *engine.Chunk, rec wire.Record) error {
	switch rec.Flag {
	case wire.FlagAddSignal:
		v, err := rec.DecodeAddSignal()
		if err != nil {
			return err
		}
		return chunk.AddBaseSignal(v)
	case wire.FlagAddOp:
		v, err := rec.DecodeAddOp()
		if err != nil {
			return err
		}
		return chunk.AddOp(v)
	case wire.FlagAddProbe:
		v, err := rec.DecodeAddProbe()
		if err != nil {
			return err
		}
		return chunk.AddProbe(v)
	case wire.FlagStop:
		return nil
	default:
		return fmt.Errorf("unknown record flag %v", rec.Flag)
	}
}

func sendAck(err error) {
	msg := sim.AckMsg{}
	if err != nil {
		msg.Error = err.Error()
	}
	if writeErr := sim.WriteFrame(os.Stdout, sim.MethodAck, msg); writeErr != nil {
		fmt.Fprintf(os.Stderr, "nengompid: failed to send ack: %v\n", writeErr)
	}
}

func sendProbeResp(data []engine.Tensor, err error) {
	msg := sim.ProbeRespMsg{}
	if err != nil {
		msg.Error = err.Error()
	} else {
		msg.Samples = make([]sim.TensorDTO, len(data))
		for i, t := range data {
			msg.Samples[i] = sim.TensorDTO{Shape1: t.Shape1, Shape2: t.Shape2, Data: t.Data}
		}
	}
	if writeErr := sim.WriteFrame(os.Stdout, sim.MethodProbeResp, msg); writeErr != nil {
		fmt.Fprintf(os.Stderr, "nengompid: failed to send probe response: %v\n", writeErr)
	}
}
