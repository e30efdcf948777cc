// Package workerproc parses and applies phrase batch messages pulled from the queue.
package workerproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"vibe-backend/internal/phrases"
	"vibe-backend/internal/queue"
	"vibe-backend/internal/shared/background"
)

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{BodyLen: 0, BodySHA: ""}
	}
	sum := sha256.Sum256([]byte(body))
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

func (e ErrDecode) Unwrap() error { return e.Err }

// ErrNoDeltas indicates a well-formed message carrying nothing to apply.
type ErrNoDeltas struct {
	Meta      MessageMeta
	RequestID string
}

func (e ErrNoDeltas) Error() string { return "message has no phrase deltas" }

// ErrProcess indicates applying the batch failed after successful parsing.
type ErrProcess struct {
	RequestID string
	Groups    int
	Err       error
}

func (e ErrProcess) Error() string {
	if e.Err == nil {
		return "apply phrase batch"
	}
	return "apply phrase batch: " + e.Err.Error()
}

func (e ErrProcess) Unwrap() error { return e.Err }

// Unrecoverable reports whether err means the message can never be applied
// and should be deleted rather than redelivered.
func Unrecoverable(err error) bool {
	var (
		empty   ErrEmptyBody
		decode  ErrDecode
		noDelta ErrNoDeltas
	)
	return errors.As(err, &empty) || errors.As(err, &decode) || errors.As(err, &noDelta)
}

// ParseMessage validates and decodes the queue payload.
func ParseMessage(body string) (queue.Message, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return queue.Message{}, meta, ErrEmptyBody{Meta: meta}
	}

	msg, err := queue.DecodeMessage([]byte(body))
	if err != nil {
		return queue.Message{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	if len(msg.Deltas) == 0 {
		return msg, meta, ErrNoDeltas{Meta: meta, RequestID: msg.RequestID}
	}
	return msg, meta, nil
}

// HandleMessage parses a payload and delivers its deltas to sink. Group
// failures surface as ErrProcess so the message is redelivered; the counts
// are additive, so a replay may double-apply groups that did succeed.
func HandleMessage(ctx context.Context, sink phrases.Sink, body string) error {
	if sink == nil {
		return errors.New("phrase sink not configured")
	}
	msg, _, err := ParseMessage(body)
	if err != nil {
		return err
	}

	groups := phrases.Group(phrases.FromMessage(msg))
	ctx = background.WithRequestID(ctx, msg.RequestID)
	if err := sink.Deliver(ctx, groups); err != nil {
		return ErrProcess{RequestID: msg.RequestID, Groups: len(groups), Err: err}
	}
	return nil
}
