package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/supersky/supersky/internal/middleware"
	"github.com/supersky/supersky/internal/protocol"
	"github.com/supersky/supersky/pkg/logger"
)

// DefaultSubject carries protocol requests.
const DefaultSubject = "supersky.router"

const responderQueue = "supersky-router"

// Responder answers protocol requests arriving on a subject.
type Responder struct {
	router    protocol.Dispatcher
	validator *middleware.EnvelopeValidator
	log       *logger.Logger
}

// NewResponder creates a responder. validator may be nil.
func NewResponder(router protocol.Dispatcher, validator *middleware.EnvelopeValidator, log *logger.Logger) *Responder {
	return &Responder{router: router, validator: validator, log: log.Named("nats")}
}

// Serve subscribes on subject until ctx is done.
func (r *Responder) Serve(ctx context.Context, client *Client, subject string) error {
	if subject == "" {
		subject = DefaultSubject
	}
	sub, err := client.Conn().QueueSubscribe(subject, responderQueue, func(msg *nats.Msg) {
		r.handle(ctx, msg.Data, msg.Respond)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	r.log.Info("serving protocol over NATS", zap.String("subject", subject))

	<-ctx.Done()
	return sub.Drain()
}

// handle answers one request through respond. Replies are protocol.Frame
// values without an id.
func (r *Responder) handle(ctx context.Context, data []byte, respond func([]byte) error) {
	reply := func(frame protocol.Frame) {
		payload, err := json.Marshal(frame)
		if err != nil {
			r.log.Error("failed to encode reply", zap.Error(err))
			return
		}
		if err := respond(payload); err != nil {
			r.log.Debug("failed to reply", zap.Error(err))
		}
	}

	if r.validator != nil {
		if err := r.validator.Validate(data); err != nil {
			reply(protocol.Frame{Error: "invalid request envelope"})
			return
		}
	}
	req, err := protocol.DecodeRequest(data)
	if err != nil {
		reply(protocol.Frame{Error: "invalid request"})
		return
	}

	future, ok := r.router.Dispatch(ctx, req)
	if !ok {
		reply(protocol.Frame{NoResponse: true})
		return
	}
	go func() {
		resp, err := future.Await(context.WithoutCancel(ctx))
		if err != nil {
			return
		}
		payload, err := json.Marshal(resp)
		if err != nil {
			reply(protocol.Frame{Error: "failed to encode response"})
			return
		}
		reply(protocol.Frame{Response: payload})
	}()
}

// Requester calls the router over NATS request/reply.
type Requester struct {
	conn    *nats.Conn
	subject string
}

// NewRequester creates a protocol client on client's connection.
func NewRequester(client *Client, subject string) *Requester {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Requester{conn: client.Conn(), subject: subject}
}

func (q *Requester) Call(ctx context.Context, req protocol.Request, out any) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	msg, err := q.conn.RequestWithContext(ctx, q.subject, data)
	if err != nil {
		return fmt.Errorf("nats request: %w", err)
	}
	return decodeReply(msg.Data, out)
}

func decodeReply(data []byte, out any) error {
	var frame protocol.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	switch {
	case frame.Error != "":
		return errors.New(frame.Error)
	case frame.NoResponse:
		return protocol.ErrNoResponse
	}
	if out == nil || len(frame.Response) == 0 {
		return nil
	}
	return json.Unmarshal(frame.Response, out)
}

var _ protocol.Client = (*Requester)(nil)
