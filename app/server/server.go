package server

import (
	"context"
	"time"

	"ragchat/app/api"
	"ragchat/app/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

var config = fiber.Config{
	ErrorHandler:          api.ErrorHandler,
	DisableStartupMessage: true,
}

type Options struct {
	Addr        string
	LettersDir  string
	LettersBase string
	KeepAlive   time.Duration
}

type Server struct {
	listenAddr string
	app        *fiber.App
}

// New registers every route. The answer endpoint is mounted under /ask-like and under
// /askNew for older clients.
func New(opts Options, asker api.Asker, index api.Counter) *Server {
	var (
		app          = fiber.New(config)
		checkHandler = api.NewCheckHandler(index)
		askHandler   = api.NewAskHandler(asker, opts.KeepAlive)
		check        = app.Group("/check")
	)

	app.Use(requestLogger)

	check.Get("/healthy", checkHandler.HandleHealthy)
	check.Get("/ready", checkHandler.HandleReady)

	app.Post("/ask-like", askHandler.HandleAsk)
	app.Post("/askNew", askHandler.HandleAsk)

	if opts.LettersDir != "" {
		app.Get(opts.LettersBase+":file", middleware.PlugLetters(opts.LettersDir))
	}

	return &Server{
		listenAddr: opts.Addr,
		app:        app,
	}
}

// App exposes the fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App { return s.app }

// Run serves until ctx is cancelled, then drains open connections.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.listenAddr).Msg("server listening")
		errc <- s.app.Listen(s.listenAddr)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	if err := s.app.ShutdownWithTimeout(10 * time.Second); err != nil {
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}

func requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	log.Debug().
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", c.Response().StatusCode()).
		Dur("elapsed", time.Since(start)).
		Msg("request")
	return err
}
