package xbroker

import "context"

// serializer admits at most one execution at a time. It linearizes calls into
// a non-reentrant native primitive; admission order is not FIFO.
type serializer struct {
	slot chan struct{}
}

func newSerializer() *serializer {
	return &serializer{slot: make(chan struct{}, 1)}
}

// do runs fn once the slot is free. Waiting stops when ctx is done; fn itself
// is never interrupted once started.
func (s *serializer) do(ctx context.Context, fn func() error) error {
	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.slot }()

	// both cases may be ready at once; never start fn for a cancelled caller
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn()
}
