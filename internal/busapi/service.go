// Package busapi serves pipeline runs as NATS request/reply.
package busapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-voice/internal/bus"
	"github.com/loqalabs/loqa-voice/internal/logging"
	"github.com/loqalabs/loqa-voice/internal/pipeline"
	"github.com/loqalabs/loqa-voice/internal/protocol"
)

var ErrEmptyAudio = errors.New("busapi: request carries no audio")

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context, audioPath string) pipeline.Result
}

// Options configure the subscription.
type Options struct {
	Subject    string
	QueueGroup string
	Timeout    time.Duration
}

// Service answers process requests on the bus.
type Service struct {
	ctx    context.Context
	cancel context.CancelFunc
	bus    *bus.Client
	runner Runner
	opts   Options
	log    *slog.Logger
	sub    *nats.Subscription
	now    func() time.Time
}

func NewService(parent context.Context, client *bus.Client, runner Runner, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	if opts.Subject == "" {
		opts.Subject = protocol.SubjectProcessRequest
	}
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		ctx:    ctx,
		cancel: cancel,
		bus:    client,
		runner: runner,
		opts:   opts,
		log:    logger.With(slog.String("component", "busapi")),
		now:    time.Now,
	}
}

// Start subscribes to the request subject.
func (s *Service) Start() error {
	if s.bus == nil || s.bus.Conn() == nil {
		return errors.New("busapi: bus client not connected")
	}
	var (
		sub *nats.Subscription
		err error
	)
	if s.opts.QueueGroup != "" {
		sub, err = s.bus.Conn().QueueSubscribe(s.opts.Subject, s.opts.QueueGroup, s.handleRequest)
	} else {
		sub, err = s.bus.Conn().Subscribe(s.opts.Subject, s.handleRequest)
	}
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.opts.Subject, err)
	}
	s.sub = sub
	s.log.Info("bus service listening", slog.String("subject", s.opts.Subject), slog.String("queue", s.opts.QueueGroup))
	return nil
}

// Close unsubscribes and cancels in-flight runs.
func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
}

// Healthy reports whether the subscription is active.
func (s *Service) Healthy() bool {
	return s.sub != nil && s.sub.IsValid() && s.bus.Healthy()
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.ProcessRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.log.Warn("invalid process request", logging.Error(err))
		s.respond(msg, protocol.ErrorReply("", fmt.Errorf("invalid request: %w", err), s.now()))
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	log := s.log.With(slog.String("request_id", req.RequestID))

	if len(req.Audio) == 0 {
		s.respond(msg, protocol.ErrorReply(req.RequestID, ErrEmptyAudio, s.now()))
		return
	}

	path, cleanup, err := writeTemp(req)
	if err != nil {
		log.Error("failed to stage audio", logging.Error(err))
		s.respond(msg, protocol.ErrorReply(req.RequestID, err, s.now()))
		return
	}
	defer cleanup()

	ctx := s.ctx
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}
	res := s.runner.Run(ctx, path)
	log.Info("process request handled", slog.Bool("success", res.OK()))
	s.respond(msg, protocol.ReplyFromResult(req.RequestID, res, s.now()))
}

func (s *Service) respond(msg *nats.Msg, reply protocol.ProcessReply) {
	if msg.Reply == "" {
		return
	}
	payload, err := json.Marshal(reply)
	if err != nil {
		s.log.Error("failed to encode reply", logging.Error(err))
		return
	}
	if err := msg.Respond(payload); err != nil {
		s.log.Warn("failed to publish reply", logging.Error(err))
	}
}

// writeTemp stores the request audio under a temp name keeping the
// original extension so the decoder can pick a path.
func writeTemp(req protocol.ProcessRequest) (string, func(), error) {
	ext := strings.ToLower(filepath.Ext(req.Filename))
	if ext == "" {
		ext = ".wav"
	}
	f, err := os.CreateTemp("", "loqa_bus_*"+ext)
	if err != nil {
		return "", func() {}, fmt.Errorf("create temp audio: %w", err)
	}
	name := f.Name()
	cleanup := func() { _ = os.Remove(name) }
	if _, err := f.Write(req.Audio); err != nil {
		f.Close()
		cleanup()
		return "", func() {}, fmt.Errorf("write temp audio: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("close temp audio: %w", err)
	}
	return name, cleanup, nil
}
