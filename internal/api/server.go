package api

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/tether007/greenChain-Advisory/internal/analysis"
	"github.com/tether007/greenChain-Advisory/internal/channel"
	"github.com/tether007/greenChain-Advisory/internal/database"
	"github.com/tether007/greenChain-Advisory/internal/orchestrator"
	"github.com/tether007/greenChain-Advisory/internal/relay"
)

const maxUploadBytes = 10 * 1024 * 1024

// Server is the HTTP surface the UI consumes.
type Server struct {
	app       *fiber.App
	db        *database.Database
	dispatch  *analysis.Dispatch
	orch      *orchestrator.Orchestrator
	relayer   *relay.Relayer
	channels  *channel.Manager
	validator *validator.Validate

	reportsDir string
	uploadsDir string
}

// Options carries the server's collaborators. Orchestrator, relayer, and
// channel manager may be nil when their backing services are not configured;
// the corresponding routes answer 503.
type Options struct {
	DB         *database.Database
	Dispatch   *analysis.Dispatch
	Orch       *orchestrator.Orchestrator
	Relayer    *relay.Relayer
	Channels   *channel.Manager
	ReportsDir string
	UploadsDir string
}

func NewServer(opts Options) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		BodyLimit:             maxUploadBytes + 1024*1024,
	})

	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} - ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))

	server := &Server{
		app:        app,
		db:         opts.DB,
		dispatch:   opts.Dispatch,
		orch:       opts.Orch,
		relayer:    opts.Relayer,
		channels:   opts.Channels,
		validator:  validator.New(),
		reportsDir: opts.ReportsDir,
		uploadsDir: opts.UploadsDir,
	}
	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.app.Post("/api/analyses", s.handleRegisterAnalysis)
	s.app.Post("/api/analyze", s.handleAnalyze)
	s.app.Get("/api/analyses/:farmerAddress", s.handleAnalysisHistory)
	s.app.Get("/api/reports/:file", s.handleReport)

	s.app.Post("/api/relay", s.handleRelay)
	s.app.Post("/api/payments", s.handlePayment)
	s.app.Post("/api/flow", s.handleChannelFlow)
	s.app.Post("/api/channel/faucet", s.handleFaucet)

	s.app.Post("/api/marketplace/list", s.handleMarketplaceList)
	s.app.Get("/api/marketplace/items", s.handleMarketplaceItems)
	s.app.Post("/api/marketplace/buy", s.handleMarketplaceBuy)

	s.app.Get("/api/health", s.handleHealth)
}

// App exposes the underlying fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Start(port int) error {
	return s.app.Listen(fmt.Sprintf(":%d", port))
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
