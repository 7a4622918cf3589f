package queue

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/playcore-platform/message-delivery-service/internal/domain/model"
)

// Outgoing is one entry of a batched send.
type Outgoing struct {
	Recipient   model.Recipient
	MessageType string
	Payload     map[string]any
	Flags       []string
}

// Validate mirrors the single-send checks; a batch entry that fails is
// rejected before anything is published.
func (o *Outgoing) Validate() error {
	if o.Recipient.Class == "" || o.Recipient.Key == "" {
		return model.NewError(model.KindBadInput, "missing recipient")
	}
	if o.MessageType == "" {
		return model.NewError(model.KindBadInput, "missing message type")
	}
	if o.Payload == nil {
		return model.NewError(model.KindBadInput, "payload should be an object")
	}
	if !model.ValidFlags(o.Flags) {
		return model.NewError(model.KindBadInput, "unrecognized message flags")
	}
	return nil
}

// AddMessages enqueues a whole batch from one sender: a bounded work
// queue feeds up to Workers confirming publishers, and the batch as a
// whole joins within ProcessTimeout. Returns how many envelopes the
// broker confirmed.
func (e *Engine) AddMessages(ctx context.Context, gamespaceID, sender string, batch []Outgoing) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	for i := range batch {
		if err := batch[i].Validate(); err != nil {
			return 0, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, ProcessTimeout)
	defer cancel()

	workers := e.opts.Workers
	if workers > len(batch) {
		workers = len(batch)
	}

	work := make(chan *model.Envelope, workers)
	var confirmed atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			ch, err := e.pool.Channel(ctx)
			if err != nil {
				return model.WrapError(model.KindBroker, err, "failed to enqueue batch")
			}
			defer ch.Close()
			if err := ch.Confirm(); err != nil {
				return model.WrapError(model.KindBroker, err, "failed to enqueue batch")
			}

			for env := range work {
				if e.publishIncoming(ctx, ch, env) {
					confirmed.Add(1)
				}
				if err := ctx.Err(); err != nil {
					return model.WrapError(model.KindTimeout, err, "batch enqueue timed out")
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(work)
		for _, out := range batch {
			env := &model.Envelope{
				Action:         model.ActionNewMessage,
				GamespaceID:    gamespaceID,
				MessageUUID:    uuid.NewString(),
				Sender:         sender,
				RecipientClass: out.Recipient.Class,
				RecipientKey:   out.Recipient.Key,
				MessageType:    out.MessageType,
				Payload:        out.Payload,
				Flags:          model.ParseFlags(out.Flags).List(),
			}
			select {
			case work <- env:
			case <-ctx.Done():
				return model.WrapError(model.KindTimeout, ctx.Err(), "batch enqueue timed out")
			}
		}
		return nil
	})

	err := g.Wait()
	return int(confirmed.Load()), err
}
