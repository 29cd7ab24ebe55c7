package stream

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"uwrangler/internal/frame"
	"uwrangler/internal/logging"
	"uwrangler/internal/store"
	"uwrangler/internal/uwerr"
)

// maxHandshakeLine bounds the first line a client may send.
const maxHandshakeLine = 512

// session is one connected display client. All writes to the connection go
// through the outbound channel so the pacing loop never blocks on a slow
// socket; a full buffer drops the frame and counts it instead.
type session struct {
	id      string
	server  *Server
	conn    net.Conn
	logger  *slog.Logger
	req     *Request
	out     chan []byte
	dropped atomic.Int64
	sent    int
	replay  bool
	wrErr   chan error
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	sess := &session{
		id:     uuid.NewString()[:8],
		server: s,
		conn:   conn,
		out:    make(chan []byte, s.cfg.Stream.SendBufferFrames),
		wrErr:  make(chan error, 1),
	}
	sess.logger = s.logger.With(
		logging.String(logging.FieldSession, sess.id),
		logging.String("client", conn.RemoteAddr().String()))

	s.activity.Add(Event{Session: sess.id, Kind: EventConnect, Client: conn.RemoteAddr().String()})
	sess.logger.Info("client connected")

	err := sess.run(ctx)
	detail := ""
	if err != nil && !errors.Is(err, context.Canceled) && !isClientGone(err) {
		detail = err.Error()
		sess.logger.Warn("session ended with error", logging.Error(err))
	} else {
		sess.logger.Info("client disconnected",
			logging.Int("frames", sess.sent),
			logging.Int64("dropped", sess.dropped.Load()))
	}
	s.activity.Add(Event{
		Session: sess.id,
		Kind:    EventDisconnect,
		Client:  conn.RemoteAddr().String(),
		Frames:  sess.sent,
		Dropped: int(sess.dropped.Load()),
		Detail:  detail,
	})
}

func (sess *session) run(ctx context.Context) error {
	cfg := sess.server.cfg

	handshakeTimeout := time.Duration(cfg.Stream.HandshakeTimeoutSeconds) * time.Second
	if err := sess.conn.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return err
	}
	line, err := bufio.NewReaderSize(sess.conn, maxHandshakeLine).ReadString('\n')
	if err != nil {
		return uwerr.Wrap(uwerr.ErrStreamIO, "stream", "handshake", "read", err)
	}
	_ = sess.conn.SetReadDeadline(time.Time{})

	req, err := ParseRequest(line)
	if err != nil {
		sess.writeLine(errorLine("Invalid command"))
		return err
	}
	sess.req = req

	// Writer goroutine: the only place that touches the socket after the
	// handshake. It exits when out closes or the client goes away.
	writeCtx, stopWriter := context.WithCancel(ctx)
	defer stopWriter()
	go sess.writer(writeCtx)

	return sess.stream(ctx)
}

// stream resolves content and sends frames until the range completes, the
// client disconnects, or the server stops.
func (sess *session) stream(ctx context.Context) error {
	for {
		src, meta, err := sess.resolve(ctx)
		if err != nil {
			return err
		}

		from, to := sess.req.ClampRange(meta.FrameCount)
		if sess.sent == 0 {
			if err := sess.send(ctx, []byte(infoLine(sess.req.Geometry, from, to, src.Name, meta.FrameCount))); err != nil {
				return err
			}
			sess.server.activity.Add(Event{
				Session:  sess.id,
				Kind:     EventStream,
				Client:   sess.conn.RemoteAddr().String(),
				Geometry: sess.req.Geometry.Tag(),
				Name:     src.Name,
				Frames:   meta.FrameCount,
			})
		}

		if err := sess.sendRange(ctx, meta, from, to); err != nil {
			return err
		}

		if sess.req.Ranged {
			return sess.drain(ctx)
		}
		if meta.Loop && sess.req.Name != "" {
			// A named looping artifact replays until the client leaves; the
			// subsequent passes replay the full sequence and count as the
			// same play.
			sess.req.From, sess.req.To = 0, -1
			sess.replay = true
			continue
		}
		// Rotation mode: the next pass picks whatever is least served.
		sess.req.Name = ""
		sess.req.From, sess.req.To = 0, -1
		sess.replay = false
	}
}

// resolve finds the source and artifact to stream, waiting through
// NOTREADY cycles while a conversion is still pending.
func (sess *session) resolve(ctx context.Context) (*store.Source, *store.ArtifactMeta, error) {
	st := sess.server.store
	geom := sess.req.Geometry
	wait := time.Duration(sess.server.cfg.Stream.NotReadyWaitSeconds) * time.Second

	for {
		var (
			src *store.Source
			err error
		)
		if sess.req.Name != "" {
			src, err = st.FindSourceByName(ctx, sess.req.Name)
			if errors.Is(err, uwerr.ErrNotFound) {
				sess.fail(ctx, errorLine(fmt.Sprintf("Animation '%s' not found", sess.req.Name)))
				return nil, nil, err
			}
		} else {
			src, err = st.PickRotation(ctx, geom)
			if errors.Is(err, uwerr.ErrNotFound) {
				sess.fail(ctx, errorLine("No suitable animations available"))
				return nil, nil, err
			}
		}
		if err != nil {
			return nil, nil, err
		}

		// Replays of the same command are one play; only the first pass
		// records the serve.
		var meta *store.ArtifactMeta
		if sess.replay {
			meta, err = st.Peek(ctx, src.ID, geom)
		} else {
			meta, err = st.Get(ctx, src.ID, geom)
		}
		if err == nil {
			return src, meta, nil
		}
		if !errors.Is(err, uwerr.ErrNotFound) {
			return nil, nil, err
		}

		// Artifact missing. With a conversion in flight the client is told
		// to hold on; with nothing pending this name cannot be served.
		if _, jobErr := st.ActiveJob(ctx, src.ID); jobErr != nil {
			sess.fail(ctx, errorLine(fmt.Sprintf("Animation '%s' not available at %s", src.Name, geom.Tag())))
			return nil, nil, uwerr.Wrap(uwerr.ErrNotReady, "stream", "resolve", src.Name, nil)
		}
		if err := sess.send(ctx, []byte(notReadyLine(src.Name))); err != nil {
			return nil, nil, err
		}
		sess.server.activity.Add(Event{
			Session:  sess.id,
			Kind:     EventNotReady,
			Client:   sess.conn.RemoteAddr().String(),
			Geometry: geom.Tag(),
			Name:     src.Name,
		})
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case err := <-sess.wrErr:
			return nil, nil, err
		case <-time.After(wait):
		}
	}
}

// sendRange paces the frame window out of the artifact, dropping frames for
// this session when its outbound buffer is full.
func (sess *session) sendRange(ctx context.Context, meta *store.ArtifactMeta, from, to int) error {
	rc, err := sess.server.store.OpenArtifact(meta)
	if err != nil {
		return err
	}
	defer rc.Close()
	reader, err := frame.NewReader(rc)
	if err != nil {
		return err
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	if !timer.Stop() {
		<-timer.C
	}

	for idx := 0; ; idx++ {
		payload, duration, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if idx < from {
			continue
		}
		if idx > to {
			return nil
		}

		msg := make([]byte, 8+len(payload))
		binary.BigEndian.PutUint32(msg[0:], uint32(4+len(payload)))
		binary.BigEndian.PutUint32(msg[4:], uint32(duration/time.Millisecond))
		copy(msg[8:], payload)
		sess.enqueue(msg)
		sess.sent++

		if duration <= 0 {
			duration = time.Duration(sess.server.cfg.Convert.DefaultFrameMillis) * time.Millisecond
		}
		timer.Reset(duration)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sess.wrErr:
			return err
		case <-timer.C:
		}
	}
}

// drain waits for the outbound buffer to flush before closing a ranged
// session.
func (sess *session) drain(ctx context.Context) error {
	close(sess.out)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-sess.wrErr:
		if err == nil || errors.Is(err, errWriterDone) {
			return nil
		}
		return err
	}
}

// fail flushes any buffered frames through the writer, then puts a terminal
// protocol error on the wire so the client sees the reason, not a bare EOF,
// when the connection closes.
func (sess *session) fail(ctx context.Context, line string) {
	close(sess.out)
	select {
	case <-ctx.Done():
	case <-sess.wrErr:
	}
	sess.writeLine(line)
}

var errWriterDone = errors.New("writer finished")

func (sess *session) writer(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sess.out:
			if !ok {
				sess.wrErr <- errWriterDone
				return
			}
			if _, err := sess.conn.Write(msg); err != nil {
				select {
				case sess.wrErr <- uwerr.Wrap(uwerr.ErrStreamIO, "stream", "write", "", err):
				default:
				}
				return
			}
		}
	}
}

// enqueue hands a message to the writer, dropping it when the buffer is
// full so a stalled client never blocks pacing.
func (sess *session) enqueue(msg []byte) {
	select {
	case sess.out <- msg:
	default:
		sess.dropped.Add(1)
	}
}

// send hands a protocol line to the writer, waiting for buffer space.
// Protocol lines carry negotiation state and are never dropped.
func (sess *session) send(ctx context.Context, msg []byte) error {
	select {
	case sess.out <- msg:
		return nil
	case err := <-sess.wrErr:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writeLine sends a protocol line directly, for replies that precede the
// writer goroutine or must not be dropped.
func (sess *session) writeLine(line string) {
	_ = sess.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, _ = io.WriteString(sess.conn, line)
	_ = sess.conn.SetWriteDeadline(time.Time{})
}

func isClientGone(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, errWriterDone) || errors.Is(err, uwerr.ErrStreamIO)
}
