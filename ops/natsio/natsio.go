// Package natsio implements the nats-pub sink and nats-sub source
// operations, bridging flow channels and NATS subjects.
package natsio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/c360studio/flowrunner/message"
	"github.com/c360studio/flowrunner/operation"
)

const (
	// PubName is the registry name of the publisher sink.
	PubName = "nats-pub"
	// SubName is the registry name of the subscriber source.
	SubName = "nats-sub"
)

// Register adds both operations to reg.
func Register(reg *operation.Registry) {
	reg.Register(PubName, func() operation.Operation { return &PubOp{} })
	reg.Register(SubName, func() operation.Operation { return &SubOp{} })
}

// wireMessage is the JSON envelope published to and read from subjects.
type wireMessage struct {
	UUID   string `json:"uuid"`
	Sender string `json:"sender"`
	Source string `json:"source"`
	Value  any    `json:"value"`
}

func connect(url string) (*nats.Conn, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}
	return nc, nil
}

// PubOp publishes flow messages to a subject. As a sink it drains its
// inbound channel; as a plain task it publishes the data param once.
type PubOp struct {
	operation.Base

	subject string
	url     string
}

// Metadata implements operation.Operation.
func (o *PubOp) Metadata() operation.Metadata {
	return operation.Metadata{
		Name:        PubName,
		Version:     "1.0.0",
		Description: "Publishes messages to a NATS subject",
	}
}

// Validate implements operation.Operation.
func (o *PubOp) Validate(params map[string]any) error {
	subject, err := operation.RequiredString(params, "subject")
	if err != nil {
		return err
	}
	o.Params = params
	o.subject = subject
	o.url = operation.StringOr(params, "url", "")
	return nil
}

// Run implements operation.Operation.
func (o *PubOp) Run(ctx context.Context, sender string, inbound, outbound []*message.Chan) operation.Result {
	nc, err := connect(o.url)
	if err != nil {
		return operation.Ko(err)
	}
	defer nc.Close()

	if len(inbound) == 0 {
		// Task mode: one-shot publish of the data param.
		data, err := json.Marshal(wireMessage{
			UUID:   uuid.NewString(),
			Sender: sender,
			Value:  o.Params["data"],
		})
		if err != nil {
			return operation.Ko(fmt.Errorf("encode message: %w", err))
		}
		if err := nc.Publish(o.subject, data); err != nil {
			return operation.Ko(fmt.Errorf("publish %s: %w", o.subject, err))
		}
		return operation.Ok(map[string]any{"published": float64(1)})
	}

	published := 0
	for {
		msg, err := inbound[0].Recv(ctx)
		if err != nil {
			if errors.Is(err, message.ErrClosed) || ctx.Err() != nil {
				_ = nc.Flush()
				return operation.Ok(map[string]any{"published": float64(published)})
			}
			return operation.Ko(err)
		}
		data, err := json.Marshal(wireMessage{
			UUID:   msg.UUID,
			Sender: msg.Sender,
			Source: msg.Source,
			Value:  msg.Value,
		})
		if err != nil {
			slog.Warn("Dropping unencodable message", "sink", sender, "error", err)
			continue
		}
		if err := nc.Publish(o.subject, data); err != nil {
			return operation.Ko(fmt.Errorf("publish %s: %w", o.subject, err))
		}
		published++
	}
}

// SubOp subscribes to a subject and emits one flow message per NATS
// message until the context ends.
type SubOp struct {
	operation.Base

	subject string
	url     string
	queue   string
}

// Metadata implements operation.Operation.
func (o *SubOp) Metadata() operation.Metadata {
	return operation.Metadata{
		Name:        SubName,
		Version:     "1.0.0",
		Description: "Emits a message per NATS message on a subject",
	}
}

// Validate implements operation.Operation.
func (o *SubOp) Validate(params map[string]any) error {
	subject, err := operation.RequiredString(params, "subject")
	if err != nil {
		return err
	}
	o.Params = params
	o.subject = subject
	o.url = operation.StringOr(params, "url", "")
	o.queue = operation.StringOr(params, "queue", "")
	return nil
}

// Run implements operation.Operation.
func (o *SubOp) Run(ctx context.Context, sender string, inbound, outbound []*message.Chan) operation.Result {
	nc, err := connect(o.url)
	if err != nil {
		return operation.Ko(err)
	}
	defer nc.Close()

	msgCh := make(chan *nats.Msg, 64)
	var sub *nats.Subscription
	if o.queue != "" {
		sub, err = nc.ChanQueueSubscribe(o.subject, o.queue, msgCh)
	} else {
		sub, err = nc.ChanSubscribe(o.subject, msgCh)
	}
	if err != nil {
		return operation.Ko(fmt.Errorf("subscribe %s: %w", o.subject, err))
	}
	defer func() { _ = sub.Unsubscribe() }()

	logger := slog.With("source", sender, "subject", o.subject)
	received := 0
	for {
		select {
		case <-ctx.Done():
			return operation.Ok(map[string]any{"received": float64(received)})
		case natsMsg := <-msgCh:
			out := decode(natsMsg.Data, sender, o.subject)
			message.Broadcast(ctx, logger, outbound, out)
			received++
		}
	}
}

// decode turns subject bytes into a flow message. Envelopes produced by
// nats-pub keep their identity; anything else gets a fresh UUID and its
// payload as the value.
func decode(data []byte, sender, subject string) message.Message {
	var envelope wireMessage
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.UUID != "" {
		return message.NewWithSender(envelope.UUID, sender, subject, envelope.Value)
	}
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		value = string(data)
	}
	return message.NewWithSender(uuid.NewString(), sender, subject, value)
}
