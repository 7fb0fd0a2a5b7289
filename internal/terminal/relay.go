package terminal

import (
	"encoding/base64"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/termgate-dev/termgate/internal/logger"
)

// readBufSize bounds how many PTY bytes go into a single output frame.
const readBufSize = 4096

// relay shuttles bytes between one WebSocket and one PTY session.
//
// Three goroutines: the input loop (client->PTY, runs on the handler
// goroutine), the output loop (PTY->client), and the supervisor that awaits
// child exit and publishes the exit frame. Backpressure is structural: each
// direction awaits its write before the next read, so neither buffers
// unboundedly.
type relay struct {
	conn *websocket.Conn
	sess *ptySession

	// writeMu serializes WebSocket writes; output, exit, and error frames
	// come from different goroutines and gorilla permits one writer.
	writeMu sync.Mutex

	teardownOnce sync.Once
	outputDone   chan struct{}
}

func newRelay(conn *websocket.Conn, sess *ptySession) *relay {
	return &relay{
		conn:       conn,
		sess:       sess,
		outputDone: make(chan struct{}),
	}
}

// run drives the relay until either side closes. Blocks until the client
// connection is finished.
func (r *relay) run() {
	go r.outputLoop()
	go r.supervise()
	r.inputLoop()
}

// inputLoop reads client frames and applies them to the PTY, in the order
// received. Unknown frame types and malformed JSON are ignored.
func (r *relay) inputLoop() {
	defer r.teardown()

	for {
		_, raw, err := r.conn.ReadMessage()
		if err != nil {
			// Client went away; hang up the PTY (SIGHUP to the child).
			return
		}

		f := parseFrame(raw)
		if f == nil {
			continue
		}

		switch f.Type {
		case FrameInput:
			data, err := base64.StdEncoding.DecodeString(f.Data)
			if err != nil {
				continue
			}
			if _, err := r.sess.master.Write(data); err != nil {
				r.writeFrame(Frame{Type: FrameError, Message: "terminal write failed"})
				return
			}

		case FrameResize:
			// Applied synchronously without pausing I/O.
			if err := r.sess.resize(f.Cols, f.Rows); err != nil {
				logger.Terminal().Warn().Err(err).Msg("PTY resize failed")
			}

		default:
			// Ignore unknown frame types.
		}
	}
}

// outputLoop reads from the PTY and forwards output frames in read order.
// Ends when the PTY read fails, which happens once the child exits and the
// buffer is drained, or after teardown closes the master.
func (r *relay) outputLoop() {
	defer close(r.outputDone)

	buf := make([]byte, readBufSize)
	for {
		n, err := r.sess.master.Read(buf)
		if n > 0 {
			frame := Frame{
				Type: FrameOutput,
				Data: base64.StdEncoding.EncodeToString(buf[:n]),
			}
			if werr := r.writeFrame(frame); werr != nil {
				r.teardown()
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// supervise owns the child process handle: it awaits exit, then publishes
// the exit frame after the last output frame has been flushed.
func (r *relay) supervise() {
	err := r.sess.cmd.Wait()

	// All output frames precede the exit frame.
	<-r.outputDone

	if err != nil {
		logger.Terminal().Debug().Err(err).Msg("Shell exited with error")
	}
	r.writeFrame(Frame{Type: FrameExit})

	r.writeMu.Lock()
	r.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	r.writeMu.Unlock()

	r.teardown()
}

// teardown closes both ends. Idempotent; every exit path funnels through
// here.
func (r *relay) teardown() {
	r.teardownOnce.Do(func() {
		r.sess.close()
		r.conn.Close()
	})
}

func (r *relay) writeFrame(f Frame) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.conn.WriteJSON(f)
}
