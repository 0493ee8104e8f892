package kaldi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/MrWong99/vocoserve/internal/asr"
)

// Compile-time assertion that Remote satisfies Recognizer.
var _ Recognizer = (*Remote)(nil)

// ErrRecognizerClosed is returned when audio is fed after Close or Finalize.
var ErrRecognizerClosed = errors.New("kaldi: recognizer is closed")

// Remote is a Recognizer speaking the vosk-server WebSocket protocol: a JSON
// config message first, then binary PCM chunks, with JSON partial/final
// results coming back and {"eof": 1} requesting the last result.
type Remote struct {
	conn   *websocket.Conn
	events chan Event
	audio  chan []byte

	done      chan struct{}
	readDone  chan struct{}
	eofSent   atomic.Bool
	lastFinal chan struct{}
	finalOnce sync.Once
	once      sync.Once
	wg        sync.WaitGroup
}

// DialRemote connects to a vosk-server instance and sends the recognizer
// configuration derived from the session options.
func DialRemote(ctx context.Context, serverURL string, o asr.Options) (*Remote, error) {
	conn, _, err := websocket.Dial(ctx, serverURL, nil)
	if err != nil {
		return nil, fmt.Errorf("kaldi: dial %q: %w", serverURL, err)
	}

	cfg := map[string]any{"sample_rate": o.SampleRate}
	if o.Alternatives > 0 {
		cfg["max_alternatives"] = o.Alternatives
	}
	if o.ReturnWords {
		cfg["words"] = true
	}
	if len(o.PhraseList) > 0 {
		cfg["phrase_list"] = o.PhraseList
	}
	msg, err := json.Marshal(map[string]any{"config": cfg})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "config marshal failed")
		return nil, fmt.Errorf("kaldi: marshal config: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
		conn.Close(websocket.StatusInternalError, "config send failed")
		return nil, fmt.Errorf("kaldi: send config: %w", err)
	}

	r := &Remote{
		conn:      conn,
		events:    make(chan Event, 64),
		audio:     make(chan []byte, 256),
		done:      make(chan struct{}),
		readDone:  make(chan struct{}),
		lastFinal: make(chan struct{}),
	}
	r.wg.Add(1)
	go r.readLoop(ctx)
	go r.writeLoop(ctx)
	return r, nil
}

// Feed queues one binary PCM chunk for delivery.
func (r *Remote) Feed(ctx context.Context, chunk []byte) error {
	select {
	case <-r.done:
		return ErrRecognizerClosed
	default:
	}
	select {
	case r.audio <- chunk:
		return nil
	case <-r.done:
		return ErrRecognizerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events returns the recognizer's result stream. Closed after the
// post-Finalize final arrives or the connection drops.
func (r *Remote) Events() <-chan Event { return r.events }

// Finalize requests the last result covering all pending audio and waits for
// it to arrive on the event stream.
func (r *Remote) Finalize(ctx context.Context) error {
	select {
	case <-r.done:
		return ErrRecognizerClosed
	default:
	}
	r.eofSent.Store(true)
	if err := r.conn.Write(ctx, websocket.MessageText, []byte(`{"eof" : 1}`)); err != nil {
		return fmt.Errorf("kaldi: send eof: %w", err)
	}
	select {
	case <-r.lastFinal:
		return nil
	case <-r.readDone:
		// Connection closed without a final; the event stream is drained
		// either way.
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close terminates the recognizer connection. Idempotent. The writer is
// drained first, then the connection is closed to unblock a reader parked in
// Read against a silent server, and only then does Close wait for the reader
// to exit.
func (r *Remote) Close() error {
	r.once.Do(func() {
		close(r.done)
		r.wg.Wait()
		r.conn.Close(websocket.StatusNormalClosure, "session closed")
		<-r.readDone
	})
	return nil
}

// writeLoop sends queued audio as binary messages, draining the queue before
// exiting on shutdown.
func (r *Remote) writeLoop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case chunk := <-r.audio:
			if err := r.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-r.done:
			for {
				select {
				case chunk := <-r.audio:
					_ = r.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		}
	}
}

// readLoop parses recognizer responses and forwards them as events. After
// Finalize, the first final result ends the loop and closes the event stream.
// A read error also ends the loop, which is the normal exit when Close tears
// the connection down mid-read.
func (r *Remote) readLoop(ctx context.Context) {
	defer close(r.readDone)
	defer close(r.events)

	for {
		_, msg, err := r.conn.Read(ctx)
		if err != nil {
			return
		}
		ev, ok := parseResponse(msg)
		if !ok {
			continue
		}
		select {
		case r.events <- ev:
		case <-r.done:
			return
		}
		if ev.IsFinal && r.eofSent.Load() {
			r.finalOnce.Do(func() { close(r.lastFinal) })
			return
		}
	}
}

// voskResponse mirrors the vosk-server result JSON. Pointer fields
// distinguish "present but empty" from "absent", which is how partials and
// finals are told apart.
type voskResponse struct {
	Partial      *string    `json:"partial"`
	Text         *string    `json:"text"`
	Result       []voskWord `json:"result"`
	Alternatives []voskAlt  `json:"alternatives"`
}

type voskWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Conf  float64 `json:"conf"`
}

type voskAlt struct {
	Text       string     `json:"text"`
	Confidence float64    `json:"confidence"`
	Result     []voskWord `json:"result"`
}

func parseResponse(data []byte) (Event, bool) {
	var resp voskResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return Event{}, false
	}

	switch {
	case resp.Text != nil:
		return Event{
			Text:       *resp.Text,
			Confidence: wordConfidence(resp.Result),
			IsFinal:    true,
			Words:      convertWords(resp.Result),
		}, true

	case len(resp.Alternatives) > 0:
		alts := make([]asr.Alternative, 0, len(resp.Alternatives))
		for _, a := range resp.Alternatives {
			alts = append(alts, asr.Alternative{
				Text:       a.Text,
				Confidence: a.Confidence,
				Words:      convertWords(a.Result),
			})
		}
		best := alts[0]
		return Event{
			Text:         best.Text,
			Confidence:   best.Confidence,
			IsFinal:      true,
			Alternatives: alts,
			Words:        best.Words,
		}, true

	case resp.Partial != nil:
		return Event{Text: *resp.Partial, Confidence: -1}, true
	}
	return Event{}, false
}

// wordConfidence averages per-word confidences, or reports -1 when the
// recognizer sent none.
func wordConfidence(words []voskWord) float64 {
	if len(words) == 0 {
		return -1
	}
	var sum float64
	for _, w := range words {
		sum += w.Conf
	}
	return sum / float64(len(words))
}

func convertWords(words []voskWord) []asr.Word {
	if len(words) == 0 {
		return nil
	}
	out := make([]asr.Word, 0, len(words))
	for _, w := range words {
		out = append(out, asr.Word{
			Word:       w.Word,
			Start:      w.Start,
			End:        w.End,
			Confidence: w.Conf,
		})
	}
	return out
}
