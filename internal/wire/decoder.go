package wire

import (
	"bytes"
	"encoding/binary"
	"errors"

	"go.uber.org/atomic"

	"github.com/fleetware/go-device-gateway/internal/metrics"
)

// ErrPendingOverflow is returned by Feed when the accumulated unframed bytes
// exceed the decoder's cap. The connection owning the decoder must be closed:
// a peer dribbling a frame that never completes would otherwise pin memory.
var ErrPendingOverflow = errors.New("wire: pending bytes exceed cap")

// reclaimThreshold is the capacity above which a fully drained accumulation
// buffer is discarded and reallocated, so a burst of junk does not retain a
// large backing array for the connection's lifetime.
const reclaimThreshold = 16 * 1024

var syncWord = []byte{SyncByte0, SyncByte1}

// Decoder turns a TCP byte stream into complete frames. It owns a growable
// accumulation buffer, resynchronizes on the 0xAA55 sync word (bytes before
// the sync are discarded), and never emits a frame until all of its declared
// payload has arrived. One Decoder serves exactly one connection and is not
// safe for concurrent use.
type Decoder struct {
	buf        bytes.Buffer
	maxPending int

	frames    atomic.Int64
	discarded atomic.Int64
}

// NewDecoder returns a Decoder that fails with ErrPendingOverflow once more
// than maxPending bytes are buffered without forming a complete frame.
func NewDecoder(maxPending int) *Decoder {
	return &Decoder{maxPending: maxPending}
}

// Frames reports how many complete frames this decoder has emitted.
func (d *Decoder) Frames() int64 { return d.frames.Load() }

// DiscardedBytes reports how many bytes were dropped while resynchronizing.
func (d *Decoder) DiscardedBytes() int64 { return d.discarded.Load() }

// Pending reports the bytes currently buffered awaiting a complete frame.
func (d *Decoder) Pending() int { return d.buf.Len() }

// Feed appends chunk and invokes emit once per complete frame, in stream
// order. Emitted slices alias the internal buffer and are only valid for the
// duration of the callback. A non-nil error (overflow) is fatal for the
// stream; no frame straddling the overflow is emitted.
func (d *Decoder) Feed(chunk []byte, emit func(frame []byte)) error {
	d.buf.Write(chunk)
	if d.maxPending > 0 && d.buf.Len() > d.maxPending {
		return ErrPendingOverflow
	}
	for {
		data := d.buf.Bytes()
		if len(data) < len(syncWord) {
			return nil
		}

		// Align to the sync word. Scanning happens only while seeking the
		// next frame start; once a header is committed the loop below waits
		// on length instead of rescanning, so payload bytes that happen to
		// contain AA 55 are never mistaken for a frame boundary.
		i := bytes.Index(data, syncWord)
		if i < 0 {
			// Keep a trailing first sync byte: the second may be in flight.
			drop := len(data)
			if data[len(data)-1] == SyncByte0 {
				drop--
			}
			if drop > 0 {
				d.buf.Next(drop)
				d.trackDiscard(drop)
			}
			return nil
		}
		if i > 0 {
			d.buf.Next(i)
			d.trackDiscard(i)
			continue
		}

		if len(data) < HeaderLen {
			return nil
		}
		req := HeaderLen + int(binary.BigEndian.Uint16(data[9:11]))
		if len(data) < req {
			return nil
		}

		emit(data[:req])
		d.frames.Inc()
		metrics.IncFrameDecoded()
		d.buf.Next(req)

		if d.buf.Len() == 0 && d.buf.Cap() > reclaimThreshold {
			d.buf = bytes.Buffer{}
			return nil
		}
	}
}

func (d *Decoder) trackDiscard(n int) {
	d.discarded.Add(int64(n))
	metrics.AddFramingDiscarded(n)
}
