package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goliatone/go-runcore"
	"github.com/goliatone/go-runcore/runner"
)

// Dispatcher routes messages to the handlers subscribed for their type.
type Dispatcher struct {
	mu        sync.RWMutex
	handlers  map[string][]any
	logger    runcore.Logger
	ExitOnErr bool
}

// Option defines the functional option signature.
type Option func(*Dispatcher)

// NewDispatcher applies the given options to a new instance of the dispatcher.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		handlers:  make(map[string][]any),
		ExitOnErr: false,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = runcore.NormalizeLogger(d.logger)
	return d
}

// WithExitOnError stops dispatching at the first failing handler.
func WithExitOnError() Option {
	return func(d *Dispatcher) {
		d.ExitOnErr = true
	}
}

func WithLogger(logger runcore.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func (d *Dispatcher) RegisterHandler(msgType string, handler any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[msgType] = append(d.handlers[msgType], handler)
}

func (d *Dispatcher) GetHandlers(msgType string) []any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]any(nil), d.handlers[msgType]...)
}

// SubscribeCommand registers cmd for messages of type T.
func SubscribeCommand[T runcore.Message](d *Dispatcher, cmd runcore.Commander[T], runnerOpts ...runner.Option) Subscription {
	var msg T
	opts := append([]runner.Option{runner.WithLogger(d.logger), runner.WithLabel(msg.Type())}, runnerOpts...)
	wrapper := &commandWrapper[T]{
		runner: runner.NewHandler(opts...),
		cmd:    cmd,
	}
	d.RegisterHandler(msg.Type(), wrapper)

	return &subs{
		dispatcher: d,
		msgType:    msg.Type(),
		handler:    wrapper,
	}
}

func SubscribeCommandFunc[T runcore.Message](d *Dispatcher, handler runcore.CommandFunc[T], runnerOpts ...runner.Option) Subscription {
	return SubscribeCommand[T](d, handler, runnerOpts...)
}

// SubscribeQuery registers qry for messages of type T.
func SubscribeQuery[T runcore.Message, R any](d *Dispatcher, qry runcore.Querier[T, R], runnerOpts ...runner.Option) Subscription {
	var msg T
	opts := append([]runner.Option{runner.WithLogger(d.logger), runner.WithLabel(msg.Type())}, runnerOpts...)
	wrapper := &queryWrapper[T, R]{
		runner: runner.NewHandler(opts...),
		qry:    qry,
	}
	d.RegisterHandler(msg.Type(), wrapper)

	return &subs{
		dispatcher: d,
		msgType:    msg.Type(),
		handler:    wrapper,
	}
}

func SubscribeQueryFunc[T runcore.Message, R any](d *Dispatcher, qry runcore.QueryFunc[T, R], runnerOpts ...runner.Option) Subscription {
	return SubscribeQuery[T, R](d, qry, runnerOpts...)
}

func getCommandHandlers[T runcore.Message](d *Dispatcher) ([]*commandWrapper[T], error) {
	var msg T
	handlers := d.GetHandlers(msg.Type())
	if len(handlers) == 0 {
		return nil, fmt.Errorf("no command handlers for message type %s", msg.Type())
	}

	var typedHandlers []*commandWrapper[T]
	for _, h := range handlers {
		cmdHandler, ok := h.(*commandWrapper[T])
		if !ok {
			return nil, fmt.Errorf("handler does not implement CommandHandler for type %s", msg.Type())
		}
		typedHandlers = append(typedHandlers, cmdHandler)
	}
	return typedHandlers, nil
}

// Dispatch executes all registered command handlers for T.
func Dispatch[T runcore.Message](ctx context.Context, d *Dispatcher, msg T) error {
	if err := (&runcore.MessageHandler[T]{}).ValidateMessage(msg); err != nil {
		return err
	}

	wrappers, err := getCommandHandlers[T](d)
	if err != nil {
		return runcore.WrapError("DispatchHandlerError", err.Error(), err)
	}

	if ctx.Err() != nil {
		return runcore.WrapError("ContextError", "context canceled or deadline exceeded", ctx.Err())
	}

	var errs error
	for _, cw := range wrappers {
		if err := runner.RunCommand(ctx, cw.runner, cw.cmd, msg); err != nil {
			wrappedErr := runcore.WrapError(
				"HandlerExecutionFailed",
				fmt.Sprintf("handler failed for type %s", msg.Type()),
				err,
			)

			if d.ExitOnErr {
				return wrappedErr
			}

			errs = errors.Join(errs, wrappedErr)
		}
	}

	return errs
}

// DispatchAsync runs Dispatch on its own goroutine and reports the result on
// the returned channel.
func DispatchAsync[T runcore.Message](ctx context.Context, d *Dispatcher, msg T) <-chan error {
	out := make(chan error, 1)
	go func() {
		out <- Dispatch(ctx, d, msg)
	}()
	return out
}

func getQueryHandler[T runcore.Message, R any](d *Dispatcher) (*queryWrapper[T, R], error) {
	var msg T
	handlers := d.GetHandlers(msg.Type())

	if len(handlers) == 0 {
		return nil, fmt.Errorf("no query handlers for message type %s", msg.Type())
	}

	if len(handlers) > 1 {
		return nil, errors.New("multiple query handlers found, ambiguous query")
	}

	qh, ok := handlers[0].(*queryWrapper[T, R])
	if !ok {
		return nil, fmt.Errorf("handler does not implement QueryHandler for type %s", msg.Type())
	}
	return qh, nil
}

// Query executes the single registered query handler for T, returning R.
func Query[T runcore.Message, R any](ctx context.Context, d *Dispatcher, msg T) (R, error) {
	var zero R
	if err := (&runcore.MessageHandler[T]{}).ValidateMessage(msg); err != nil {
		return zero, err
	}

	qw, err := getQueryHandler[T, R](d)
	if err != nil {
		return zero, runcore.WrapError("QueryHandlerError", err.Error(), err)
	}

	if ctx.Err() != nil {
		return zero, runcore.WrapError("ContextError", "context canceled or deadline exceeded", ctx.Err())
	}

	result, qerr := runner.RunQuery(ctx, qw.runner, qw.qry, msg)
	if qerr != nil {
		return zero, runcore.WrapError(
			"HandlerExecutionFailed",
			fmt.Sprintf("query handler failed for type %s", msg.Type()),
			qerr,
		)
	}
	return result, nil
}

type commandWrapper[T runcore.Message] struct {
	runner *runner.Handler
	cmd    runcore.Commander[T]
}

type queryWrapper[T runcore.Message, R any] struct {
	runner *runner.Handler
	qry    runcore.Querier[T, R]
}
