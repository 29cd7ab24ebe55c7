package stream_test

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"uwrangler/internal/geometry"
	"uwrangler/internal/logging"
	"uwrangler/internal/media"
	"uwrangler/internal/store"
	"uwrangler/internal/stream"
	"uwrangler/internal/testsupport"
)

func startServer(t *testing.T) (*stream.Server, *store.Store) {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	srv := stream.NewServer(cfg, st, logging.NewNop())
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(srv.Stop)
	return srv, st
}

func dial(t *testing.T, srv *stream.Server) (net.Conn, *bufio.Reader) {
	t.Helper()

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(10 * time.Second))
	return conn, bufio.NewReader(conn)
}

// readFrame reads one length-prefixed frame message and returns its duration
// and payload.
func readFrame(t *testing.T, r *bufio.Reader) (time.Duration, []byte) {
	t.Helper()

	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		t.Fatalf("read frame length: %v", err)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		t.Fatalf("read frame body: %v", err)
	}
	duration := time.Duration(binary.BigEndian.Uint32(body[:4])) * time.Millisecond
	return duration, body[4:]
}

func TestInvalidHandshake(t *testing.T) {
	t.Parallel()

	srv, _ := startServer(t)
	conn, r := dial(t, srv)

	if _, err := conn.Write([]byte("GIMME:32:32:0\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if !strings.HasPrefix(line, "ERROR:") {
		t.Fatalf("expected ERROR reply, got %q", line)
	}
}

func TestStreamNamedRange(t *testing.T) {
	t.Parallel()

	srv, st := startServer(t)
	ctx := context.Background()
	geom, _ := geometry.Parse("16x16")

	src := testsupport.NewSource(t, st, "nyan", media.KindAnimated)
	if _, err := st.Put(ctx, src.ID, testsupport.NewSequence(t, geom, 5)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	conn, r := dial(t, srv)
	if _, err := conn.Write([]byte("STREAM:16:16:1-3:nyan\n")); err != nil {
		t.Fatalf("write handshake: %v", err)
	}

	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read info: %v", err)
	}
	if line != "INFO:16:16:1-3:nyan:5\n" {
		t.Fatalf("unexpected info line %q", line)
	}

	for i := 0; i < 3; i++ {
		duration, payload := readFrame(t, r)
		if len(payload) != geom.FrameBytes() {
			t.Fatalf("frame %d payload %d bytes, want %d", i, len(payload), geom.FrameBytes())
		}
		if duration != 66*time.Millisecond {
			t.Fatalf("frame %d duration %s", i, duration)
		}
		// Frames 1..3 carry fill bytes 2..4 from the fixture.
		if payload[0] != byte(i+2) {
			t.Fatalf("frame %d has fill %d, want %d", i, payload[0], i+2)
		}
	}

	// Ranged sessions drain and close after the window.
	if _, err := r.ReadByte(); err != io.EOF {
		t.Fatalf("expected EOF after ranged stream, got %v", err)
	}

	meta, err := st.Peek(ctx, src.ID, geom)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if meta.ServedCount != 1 {
		t.Fatalf("serve not recorded: %+v", meta)
	}
}

func TestRotationPicksLeastServed(t *testing.T) {
	t.Parallel()

	srv, st := startServer(t)
	ctx := context.Background()
	geom, _ := geometry.Parse("16x16")

	srcA := testsupport.NewSource(t, st, "alpha", media.KindAnimated)
	srcB := testsupport.NewSource(t, st, "beta", media.KindAnimated)
	for _, src := range []*store.Source{srcA, srcB} {
		if _, err := st.Put(ctx, src.ID, testsupport.NewSequence(t, geom, 2)); err != nil {
			t.Fatalf("Put %s: %v", src.Name, err)
		}
	}
	if _, err := st.Get(ctx, srcA.ID, geom); err != nil {
		t.Fatalf("serve alpha: %v", err)
	}

	conn, r := dial(t, srv)
	if _, err := conn.Write([]byte("STREAM:16:16:0\n")); err != nil {
		t.Fatalf("write handshake: %v", err)
	}
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read info: %v", err)
	}
	if !strings.HasPrefix(line, "INFO:16:16:0-1:beta:") {
		t.Fatalf("rotation should pick beta, got %q", line)
	}
}

func TestNoContentAvailable(t *testing.T) {
	t.Parallel()

	srv, _ := startServer(t)
	conn, r := dial(t, srv)

	if _, err := conn.Write([]byte("STREAM:16:16:0\n")); err != nil {
		t.Fatalf("write handshake: %v", err)
	}
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if line != "ERROR:No suitable animations available\n" {
		t.Fatalf("unexpected reply %q", line)
	}
}

func TestNotReadyThenStream(t *testing.T) {
	t.Parallel()

	srv, st := startServer(t)
	ctx := context.Background()
	geom, _ := geometry.Parse("16x16")

	src := testsupport.NewSource(t, st, "pending", media.KindAnimated)
	if _, err := st.EnqueueJob(ctx, "run", src.ID); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	conn, r := dial(t, srv)
	if _, err := conn.Write([]byte("STREAM:16:16:0:pending\n")); err != nil {
		t.Fatalf("write handshake: %v", err)
	}

	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read notready: %v", err)
	}
	if line != "NOTREADY:pending\n" {
		t.Fatalf("expected NOTREADY, got %q", line)
	}

	// Finish the conversion while the client waits.
	if _, err := st.Put(ctx, src.ID, testsupport.NewSequence(t, geom, 2)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	job, err := st.ActiveJob(ctx, src.ID)
	if err != nil {
		t.Fatalf("ActiveJob: %v", err)
	}
	if err := st.CompleteJob(ctx, job.ID, store.JobSucceeded, nil, ""); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	for {
		line, err = r.ReadString('\n')
		if err != nil {
			t.Fatalf("read after notready: %v", err)
		}
		if line == "NOTREADY:pending\n" {
			continue
		}
		break
	}
	if !strings.HasPrefix(line, "INFO:16:16:0-1:pending:") {
		t.Fatalf("expected INFO after conversion, got %q", line)
	}
}

func TestNamedLoopCountsOneServe(t *testing.T) {
	t.Parallel()

	srv, st := startServer(t)
	ctx := context.Background()
	geom, _ := geometry.Parse("16x16")

	src := testsupport.NewSource(t, st, "loopy", media.KindAnimated)
	if _, err := st.Put(ctx, src.ID, testsupport.NewSequence(t, geom, 2)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	conn, r := dial(t, srv)
	if _, err := conn.Write([]byte("STREAM:16:16:0:loopy\n")); err != nil {
		t.Fatalf("write handshake: %v", err)
	}
	if line, err := r.ReadString('\n'); err != nil || !strings.HasPrefix(line, "INFO:") {
		t.Fatalf("read info: %q %v", line, err)
	}

	// Five frames of a two-frame loop span at least three passes over the
	// artifact.
	for i := 0; i < 5; i++ {
		readFrame(t, r)
	}

	meta, err := st.Peek(ctx, src.ID, geom)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if meta.ServedCount != 1 {
		t.Fatalf("served_count = %d after replays, want 1", meta.ServedCount)
	}
}

func TestStalledClientDoesNotDelayOthers(t *testing.T) {
	t.Parallel()

	cfg := testsupport.NewConfig(t)
	cfg.Stream.SendBufferFrames = 4
	st := testsupport.MustOpenStore(t, cfg)
	srv := stream.NewServer(cfg, st, logging.NewNop())
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(srv.Stop)

	ctx := context.Background()
	big, _ := geometry.Parse("64x64")
	small, _ := geometry.Parse("16x16")

	bulky := testsupport.NewSource(t, st, "bulky", media.KindAnimated)
	seq := testsupport.NewSequence(t, big, 50)
	for i := range seq.Durations {
		seq.Durations[i] = time.Millisecond
	}
	if _, err := st.Put(ctx, bulky.ID, seq); err != nil {
		t.Fatalf("Put bulky: %v", err)
	}
	zippy := testsupport.NewSource(t, st, "zippy", media.KindAnimated)
	if _, err := st.Put(ctx, zippy.ID, testsupport.NewSequence(t, small, 5)); err != nil {
		t.Fatalf("Put zippy: %v", err)
	}

	// This client handshakes and then never reads another byte.
	stalled, _ := dial(t, srv)
	if _, err := stalled.Write([]byte("STREAM:64:64:0:bulky\n")); err != nil {
		t.Fatalf("write stalled handshake: %v", err)
	}

	// A concurrent client must complete its whole window while the stalled
	// session saturates its own buffer.
	fast, r := dial(t, srv)
	start := time.Now()
	if _, err := fast.Write([]byte("STREAM:16:16:0-4:zippy\n")); err != nil {
		t.Fatalf("write fast handshake: %v", err)
	}
	if line, err := r.ReadString('\n'); err != nil || !strings.HasPrefix(line, "INFO:") {
		t.Fatalf("read fast info: %q %v", line, err)
	}
	for i := 0; i < 5; i++ {
		readFrame(t, r)
	}
	if _, err := r.ReadByte(); err != io.EOF {
		t.Fatalf("expected EOF after fast window, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("fast client took %s", elapsed)
	}

	// Let the stalled session overrun its buffer, then close it and look for
	// the dropped count in its disconnect event.
	time.Sleep(1500 * time.Millisecond)
	stalled.Close()

	deadline := time.Now().Add(5 * time.Second)
	for {
		dropped := 0
		for _, evt := range srv.Activity().Recent() {
			if evt.Kind == stream.EventDisconnect && evt.Dropped > dropped {
				dropped = evt.Dropped
			}
		}
		if dropped > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("stalled session recorded no dropped frames")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestUnknownName(t *testing.T) {
	t.Parallel()

	srv, _ := startServer(t)
	conn, r := dial(t, srv)

	if _, err := conn.Write([]byte("STREAM:16:16:0:ghost\n")); err != nil {
		t.Fatalf("write handshake: %v", err)
	}
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if line != "ERROR:Animation 'ghost' not found\n" {
		t.Fatalf("unexpected reply %q", line)
	}
}
