// Package server exposes the pipeline over HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"

	"github.com/loqalabs/loqa-voice/internal/logging"
	"github.com/loqalabs/loqa-voice/internal/pipeline"
	"github.com/loqalabs/loqa-voice/internal/protocol"
)

// Pipeline is what the handlers need from the voice pipeline.
type Pipeline interface {
	Run(ctx context.Context, audioPath string) pipeline.Result
	Info() pipeline.Info
}

// Options configure the HTTP surface.
type Options struct {
	Addr           string
	LLMType        string
	BodyLimit      int
	RequestTimeout time.Duration
	Metrics        http.Handler
}

// Server is the fiber application plus its readiness flag.
type Server struct {
	app      *fiber.App
	pipeline Pipeline
	opts     Options
	log      *slog.Logger
	ready    atomic.Bool
	now      func() time.Time
}

func New(p Pipeline, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Server{
		pipeline: p,
		opts:     opts,
		log:      logger.With(slog.String("component", "http")),
		now:      time.Now,
	}

	cfg := fiber.Config{
		AppName:               "loqa-voice",
		DisableStartupMessage: true,
	}
	if opts.BodyLimit > 0 {
		cfg.BodyLimit = opts.BodyLimit
	}
	app := fiber.New(cfg)
	app.Use(recover.New())
	app.Use(cors.New())

	app.Get("/health", s.handleHealth)
	app.Get("/test", s.handleTest)
	app.Post("/process_voice", s.handleProcessVoice)
	app.Get("/healthz", s.handleLive)
	app.Get("/readyz", s.handleReady)
	if opts.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(opts.Metrics))
	}

	s.app = app
	return s
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App { return s.app }

// SetReady flips the /readyz answer.
func (s *Server) SetReady(ready bool) { s.ready.Store(ready) }

// Listen blocks serving on opts.Addr.
func (s *Server) Listen() error {
	s.log.Info("http server listening", slog.String("addr", s.opts.Addr))
	return s.app.Listen(s.opts.Addr)
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	info := s.pipeline.Info()
	return c.JSON(protocol.Health{
		Status:       protocol.StatusHealthy,
		Device:       info.Device,
		LLMType:      s.opts.LLMType,
		PipelineInfo: info,
		Timestamp:    s.now(),
	})
}

func (s *Server) handleTest(c *fiber.Ctx) error {
	return c.JSON(protocol.TestStatus{
		Message:   protocol.TestMessage,
		Device:    s.pipeline.Info().Device,
		Timestamp: s.now(),
	})
}

func (s *Server) handleLive(c *fiber.Ctx) error {
	return c.SendString("ok")
}

func (s *Server) handleReady(c *fiber.Ctx) error {
	if s.ready.Load() {
		return c.SendString("ready")
	}
	return c.Status(fiber.StatusServiceUnavailable).SendString("not ready")
}

func (s *Server) handleProcessVoice(c *fiber.Ctx) error {
	fh, err := c.FormFile("audio")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "No audio file provided"})
	}
	requestID := uuid.NewString()
	log := s.log.With(slog.String("request_id", requestID), slog.String("filename", fh.Filename))

	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if ext == "" {
		ext = ".wav"
	}
	tmp, err := os.CreateTemp("", "loqa_upload_*"+ext)
	if err != nil {
		return s.internalError(c, requestID, fmt.Errorf("create temp file: %w", err))
	}
	path := tmp.Name()
	tmp.Close()
	defer os.Remove(path)

	if err := c.SaveFile(fh, path); err != nil {
		return s.internalError(c, requestID, fmt.Errorf("save upload: %w", err))
	}

	ctx := c.UserContext()
	if s.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
	}
	res := s.pipeline.Run(ctx, path)
	log.Info("voice command processed", slog.Bool("success", res.OK()))
	return c.JSON(protocol.ReplyFromResult(requestID, res, s.now()))
}

func (s *Server) internalError(c *fiber.Ctx, requestID string, err error) error {
	s.log.Error("request failed", slog.String("request_id", requestID), logging.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(protocol.ErrorReply(requestID, err, s.now()))
}
