package server

import (
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/oarkflow/log"
	"github.com/robfig/cron/v3"

	"github.com/oarkflow/svcl"
	"github.com/oarkflow/svcl/pkg/loader"
)

const introspectionPrefix = "/__svcl"

// LoadFunc produces a fresh bundle for hot reload.
type LoadFunc func() (*loader.Bundle, error)

// snapshot is everything derived from one loaded program. It is replaced
// wholesale on reload and never mutated.
type snapshot struct {
	program     *svcl.Program
	source      string
	evaluator   *svcl.Evaluator
	diagnostics []svcl.Diagnostic
	schema      svcl.Schema
	loadedAt    time.Time
}

type Server struct {
	app         *fiber.App
	current     atomic.Pointer[snapshot]
	caps        svcl.Capabilities
	evalOpts    []svcl.Option
	annotations svcl.Annotations
	auth        *Auth
	load        LoadFunc
	reloadSpec  string
	onReload    func(*svcl.Program) error
	cron        *cron.Cron
	logger      *log.Logger
	version     string
	accessLog   bool
}

type Option func(*Server)

func WithCapabilities(caps svcl.Capabilities) Option {
	return func(s *Server) { s.caps = caps }
}

func WithEvaluatorOptions(opts ...svcl.Option) Option {
	return func(s *Server) { s.evalOpts = append(s.evalOpts, opts...) }
}

// WithAnnotations sets the function annotations used for the diagnostics route.
func WithAnnotations(annotations svcl.Annotations) Option {
	return func(s *Server) { s.annotations = annotations }
}

func WithAuth(auth Auth) Option {
	return func(s *Server) { s.auth = &auth }
}

// WithReload re-runs load on the cron schedule spec and swaps the program
// when the source changed.
func WithReload(spec string, load LoadFunc) Option {
	return func(s *Server) {
		s.reloadSpec = spec
		s.load = load
	}
}

// WithReloadHook runs before a reloaded program goes live. An error keeps
// the previous program.
func WithReloadHook(fn func(*svcl.Program) error) Option {
	return func(s *Server) { s.onReload = fn }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithVersion(version string) Option {
	return func(s *Server) { s.version = version }
}

// WithAccessLog toggles the request logging middleware.
func WithAccessLog(enabled bool) Option {
	return func(s *Server) { s.accessLog = enabled }
}

func New(bundle *loader.Bundle, opts ...Option) (*Server, error) {
	if bundle == nil || bundle.Program == nil {
		return nil, svcl.ErrNilProgram
	}
	// Values stored by config_set and cache_set outlive the request.
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		Immutable:             true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})
	s := &Server{
		app:       app,
		caps:      svcl.NoBuiltins,
		logger:    &log.DefaultLogger,
		version:   "dev",
		accessLog: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.current.Store(s.newSnapshot(bundle))
	if s.reloadSpec != "" && s.load != nil {
		s.cron = cron.New()
		if _, err := s.cron.AddFunc(s.reloadSpec, func() { _ = s.Reload() }); err != nil {
			return nil, err
		}
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) newSnapshot(bundle *loader.Bundle) *snapshot {
	return &snapshot{
		program:     bundle.Program,
		source:      bundle.Source,
		evaluator:   svcl.NewEvaluator(bundle.Program, s.evalOpts...),
		diagnostics: svcl.Diagnose(bundle.Program, s.annotations),
		schema:      svcl.BuildSchema(bundle.Program),
		loadedAt:    time.Now(),
	}
}

func (s *Server) setupRoutes() {
	s.app.Use(cors.New())
	if s.accessLog {
		s.app.Use(logger.New())
	}
	s.app.Use(requestid.New(requestid.Config{
		Header:    fiber.HeaderXRequestID,
		Generator: uuid.NewString,
	}))
	if s.auth != nil {
		s.app.Use(s.authenticate)
	}

	s.app.Get(introspectionPrefix+"/health", s.healthHandler)
	s.app.Get(introspectionPrefix+"/schema", s.schemaHandler)
	s.app.Get(introspectionPrefix+"/diagnostics", s.diagnosticsHandler)
	s.app.Get(introspectionPrefix+"/source", s.sourceHandler)

	s.app.Use(s.dispatch)
}

// Program returns the program currently being served.
func (s *Server) Program() *svcl.Program {
	return s.current.Load().program
}

// Reload loads a fresh bundle and swaps it in when its source differs. A
// failed load keeps the running program.
func (s *Server) Reload() error {
	if s.load == nil {
		return nil
	}
	bundle, err := s.load()
	if err != nil {
		s.logger.Error().Err(err).Msg("reload failed; keeping current program")
		return err
	}
	if bundle.Source == s.current.Load().source {
		return nil
	}
	if s.onReload != nil {
		if err := s.onReload(bundle.Program); err != nil {
			s.logger.Error().Err(err).Msg("reload hook failed; keeping current program")
			return err
		}
	}
	next := s.newSnapshot(bundle)
	s.current.Store(next)
	s.logger.Info().Int("endpoints", len(next.program.Endpoints)).Msg("program reloaded")
	return nil
}

func (s *Server) Start(addr string) error {
	s.startReloader()
	s.logger.Info().Str("addr", addr).Msg("starting svcl server")
	return s.app.Listen(addr)
}

func (s *Server) StartTLS(addr, certFile, keyFile string) error {
	s.startReloader()
	s.logger.Info().Str("addr", addr).Str("cert", certFile).Msg("starting svcl server with TLS")
	return s.app.ListenTLS(addr, certFile, keyFile)
}

func (s *Server) Shutdown() error {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.logger.Info().Msg("shutting down svcl server")
	return s.app.Shutdown()
}

func (s *Server) startReloader() {
	if s.cron != nil {
		s.logger.Info().Str("schedule", s.reloadSpec).Msg("hot reload enabled")
		s.cron.Start()
	}
}
