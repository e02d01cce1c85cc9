package mqtt

import (
	"context"
	"sync"
)

// Token tracks an asynchronous request to the session.
type Token struct {
	done chan struct{}
	once sync.Once
	err  error

	granted []byte // SUBACK return codes
	release func()
}

func newToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Done is closed when the request completed.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// Err returns the outcome; it is only meaningful after Done is closed.
func (t *Token) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the request completes or ctx ends. Ending ctx does not cancel
// the request.
func (t *Token) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Token) complete(err error) {
	t.once.Do(func() {
		t.err = err
		if t.release != nil {
			t.release()
		}
		close(t.done)
	})
}
