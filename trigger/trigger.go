// Package trigger bridges NATS subjects to the in-process dispatcher.
package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/goliatone/go-errors"
	"github.com/nats-io/nats.go"

	"github.com/goliatone/go-runcore"
	"github.com/goliatone/go-runcore/dispatcher"
)

const DefaultPrefix = "runcore"

var ErrDecode = apperrors.New("trigger payload could not be decoded", apperrors.CategoryBadInput).
	WithTextCode("TRIGGER_DECODE_FAILED")

// Subscriber decodes messages published on NATS and dispatches them.
type Subscriber struct {
	nc         *nats.Conn
	dispatcher *dispatcher.Dispatcher
	logger     runcore.Logger
	prefix     string
	queue      string
	timeout    time.Duration
	ctx        context.Context

	mu   sync.Mutex
	subs []*nats.Subscription
}

type Option func(*Subscriber)

func WithLogger(logger runcore.Logger) Option {
	return func(s *Subscriber) {
		s.logger = logger
	}
}

// WithPrefix sets the subject prefix; subjects are prefix.<message type>.
func WithPrefix(prefix string) Option {
	return func(s *Subscriber) {
		s.prefix = prefix
	}
}

// WithQueue makes every subscription part of the named queue group so
// replicas share the load.
func WithQueue(queue string) Option {
	return func(s *Subscriber) {
		s.queue = queue
	}
}

// WithHandlerTimeout bounds the dispatch of a single message.
func WithHandlerTimeout(d time.Duration) Option {
	return func(s *Subscriber) {
		s.timeout = d
	}
}

// WithContext sets the parent context of dispatched messages.
func WithContext(ctx context.Context) Option {
	return func(s *Subscriber) {
		s.ctx = ctx
	}
}

// Connect opens a NATS connection with reconnects enabled.
func Connect(url string, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS %s: %w", url, err)
	}
	return nc, nil
}

func New(nc *nats.Conn, d *dispatcher.Dispatcher, opts ...Option) *Subscriber {
	s := &Subscriber{
		nc:         nc,
		dispatcher: d,
		prefix:     DefaultPrefix,
		timeout:    30 * time.Second,
		ctx:        context.Background(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = runcore.NormalizeLogger(s.logger)
	return s
}

// Subject returns the subject messages of type T are exchanged on.
func Subject[T runcore.Message](prefix string) string {
	var msg T
	if prefix == "" {
		return msg.Type()
	}
	return prefix + "." + msg.Type()
}

// Route subscribes to the subject of T and dispatches every decoded message.
// Requests carrying a reply subject get an ack or the dispatch error.
func Route[T runcore.Message](s *Subscriber) error {
	subject := Subject[T](s.prefix)
	handler := func(m *nats.Msg) {
		err := s.handle(m, func(ctx context.Context) error {
			msg, err := Decode[T](m.Data)
			if err != nil {
				return err
			}
			return dispatcher.Dispatch(ctx, s.dispatcher, msg)
		})
		if err != nil {
			s.logger.Error("trigger %s failed: %v", subject, err)
		}
	}

	var (
		sub *nats.Subscription
		err error
	)
	if s.queue != "" {
		sub, err = s.nc.QueueSubscribe(subject, s.queue, handler)
	} else {
		sub, err = s.nc.Subscribe(subject, handler)
	}
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}

	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
	s.logger.Info("listening on %s", subject)
	return nil
}

func (s *Subscriber) handle(m *nats.Msg, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	err := s.invoke(ctx, m.Subject, fn)
	if m.Reply != "" {
		if rerr := m.Respond(reply(err)); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}
	return err
}

func (s *Subscriber) invoke(ctx context.Context, subject string, fn func(context.Context) error) (err error) {
	defer runcore.RecoverPanic("trigger "+subject, &err, nil)
	return fn(ctx)
}

// Close drains every subscription.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Drain(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Decode unmarshals and validates a message payload.
func Decode[T runcore.Message](data []byte) (T, error) {
	var msg T
	if err := json.Unmarshal(data, &msg); err != nil {
		e := ErrDecode.Clone()
		e.Source = err
		return msg, e.WithMetadata(map[string]any{"type": msg.Type()})
	}
	if err := (&runcore.MessageHandler[T]{}).ValidateMessage(msg); err != nil {
		return msg, err
	}
	return msg, nil
}

// Publish sends msg on its subject.
func Publish[T runcore.Message](ctx context.Context, nc *nats.Conn, prefix string, msg T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := (&runcore.MessageHandler[T]{}).ValidateMessage(msg); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Type(), err)
	}
	return nc.Publish(Subject[T](prefix), data)
}

type ack struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func reply(err error) []byte {
	out := ack{OK: err == nil}
	if err != nil {
		out.Error = err.Error()
	}
	data, _ := json.Marshal(out)
	return data
}
