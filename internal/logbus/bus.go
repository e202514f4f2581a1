package logbus

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type Message struct {
	Type string `json:"type"`
	Time int64  `json:"time"`
	Data any    `json:"data"`
}

type LogData struct {
	Level  string         `json:"level"`
	Msg    string         `json:"msg"`
	Fields map[string]any `json:"fields,omitempty"`
}

type Bus struct {
	mu     sync.RWMutex
	buf    []Message
	cap    int
	subs   map[chan Message]struct{}
	closed bool
	sink   *zap.Logger
}

func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 200
	}
	return &Bus{
		cap:  capacity,
		buf:  make([]Message, 0, capacity),
		subs: make(map[chan Message]struct{}),
	}
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
	}
	b.subs = nil
	b.buf = nil
}

func (b *Bus) Snapshot() []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Message, len(b.buf))
	copy(out, b.buf)
	return out
}

func (b *Bus) Subscribe(buffer int) (<-chan Message, func()) {
	_, ch, cancel := b.subscribe(buffer, false)
	return ch, cancel
}

// SubscribeWithBacklog returns the buffered backlog together with a subscription that
// starts right after it. Every message lands in exactly one of the two.
func (b *Bus) SubscribeWithBacklog(buffer int) ([]Message, <-chan Message, func()) {
	return b.subscribe(buffer, true)
}

func (b *Bus) subscribe(buffer int, backlog bool) ([]Message, <-chan Message, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Message, buffer)
	b.mu.Lock()
	if b.closed {
		close(ch)
		b.mu.Unlock()
		return nil, ch, func() {}
	}
	var snap []Message
	if backlog {
		snap = make([]Message, len(b.buf))
		copy(snap, b.buf)
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if b.subs != nil {
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		}
		b.mu.Unlock()
	}
	return snap, ch, cancel
}

func (b *Bus) Publish(typ string, data any) {
	msg := Message{
		Type: typ,
		Time: time.Now().UnixMilli(),
		Data: data,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if len(b.buf) < b.cap {
		b.buf = append(b.buf, msg)
	} else if b.cap > 0 {
		copy(b.buf, b.buf[1:])
		b.buf[b.cap-1] = msg
	}
	for ch := range b.subs {
		select {
		case ch <- msg:
		default:
		}
	}
	b.mu.Unlock()
}

// Tee mirrors every Log call to l. Pass nil to detach.
func (b *Bus) Tee(l *zap.Logger) {
	b.mu.Lock()
	b.sink = l
	b.mu.Unlock()
}

func (b *Bus) Log(level, message string, fields map[string]any) {
	b.mu.RLock()
	sink := b.sink
	b.mu.RUnlock()
	if sink != nil {
		writeSink(sink, level, message, fields)
	}
	b.Publish("log", LogData{Level: level, Msg: message, Fields: fields})
}

func writeSink(l *zap.Logger, level, message string, fields map[string]any) {
	zf := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	switch level {
	case "debug":
		l.Debug(message, zf...)
	case "warn":
		l.Warn(message, zf...)
	case "error":
		l.Error(message, zf...)
	default:
		l.Info(message, zf...)
	}
}

