// Package server exposes suite runs over HTTP: async jobs with SSE and
// websocket progress, model discovery and the stored run history.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"ollamabenchmark/internal/api"
	"ollamabenchmark/internal/logging"
	"ollamabenchmark/internal/monitor"
	"ollamabenchmark/internal/questions"
	"ollamabenchmark/internal/speed"
	"ollamabenchmark/internal/store"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// DefaultJobRetention is how long finished jobs stay queryable
const DefaultJobRetention = time.Hour

// HistoryStore persists finished suite runs
type HistoryStore interface {
	Save(ctx context.Context, run *speed.SuiteRun) error
	Get(ctx context.Context, id string) (*speed.SuiteRun, error)
	List(ctx context.Context, opts store.ListOptions) ([]store.Summary, error)
}

// Options wires the server dependencies. Store may be nil.
type Options struct {
	Client    api.Client
	Questions questions.Source
	Store     HistoryStore
	Logger    *logging.Logger
	// Probes overrides the monitor probes of monitored jobs
	Probes []monitor.Probe
	// Getenv reads CORS and mode settings; nil uses os.Getenv
	Getenv func(string) string
	// KeepAlive is the SSE ping interval; zero means 30s
	KeepAlive time.Duration
	// JobRetention bounds how long finished jobs are kept in memory; zero
	// means DefaultJobRetention
	JobRetention time.Duration
}

// Server runs suite jobs for HTTP clients
type Server struct {
	client    api.Client
	questions questions.Source
	store     HistoryStore
	logger    *logging.Logger
	probes    []monitor.Probe
	getenv    func(string) string
	keepAlive time.Duration
	retention time.Duration

	jobs *JobManager
	hub  *Hub
}

// New creates a server. The websocket hub starts with Run or Start.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	keepAlive := opts.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}
	retention := opts.JobRetention
	if retention <= 0 {
		retention = DefaultJobRetention
	}
	source := opts.Questions
	if source == nil {
		source = questions.Builtin()
	}

	s := &Server{
		client:    opts.Client,
		questions: source,
		store:     opts.Store,
		logger:    logger,
		probes:    opts.Probes,
		getenv:    getenv,
		keepAlive: keepAlive,
		retention: retention,
		jobs:      NewJobManager(logger),
		hub:       NewHub(logger),
	}
	s.jobs.OnUpdate(func(job Job) {
		s.hub.Broadcast(NewJobMessage(job))
	})
	return s
}

// Jobs returns the job manager
func (s *Server) Jobs() *JobManager {
	return s.jobs
}

// Start runs the background parts of the server (the websocket hub and the
// eviction of old finished jobs) until ctx is cancelled
func (s *Server) Start(ctx context.Context) {
	go s.hub.Run(ctx)
	go s.evictJobs(ctx)
}

func (s *Server) evictJobs(ctx context.Context) {
	interval := min(s.retention, 5*time.Minute)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.jobs.CleanupOldJobs(s.retention); n > 0 {
				s.logger.Info("Evicted %d finished jobs older than %s", n, s.retention)
			}
		}
	}
}

// Router builds the gin engine with every route and middleware
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	SetupRoutes(router, s)
	return router
}

// Run serves on addr until ctx is cancelled, then cancels running jobs and
// shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	s.Start(hubCtx)

	srv := &http.Server{
		Addr:           addr,
		Handler:        s.Router(),
		ReadTimeout:    5 * time.Minute,
		WriteTimeout:   0, // disabled for SSE connections
		MaxHeaderBytes: 1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server starting on %s", addr)
		s.logger.Info("API endpoints available at http://%s/api", addr)
		s.logger.Info("WebSocket endpoint available at ws://%s/ws", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server...")
	s.jobs.CancelAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Server forced to shutdown: %v", err)
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	s.logger.Info("Server exited gracefully")
	return nil
}

// startSuite validates the request, creates the job and runs it in the
// background
func (s *Server) startSuite(req SuiteRequest) (Job, error) {
	cfg := req.SuiteConfig()
	cfg.Probes = s.probes

	tester, err := speed.NewTester(cfg, s.client, s.questions, s.logger)
	if err != nil {
		return Job{}, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := s.jobs.CreateJob(req, len(tester.Tasks()), cancel)
	tester.OnResult = func(done, total int, result speed.Result) {
		msg := fmt.Sprintf("Question %s finished", result.QuestionID)
		if result.Failed() {
			msg = fmt.Sprintf("Question %s failed: %s", result.QuestionID, result.Error)
		}
		s.jobs.UpdateJobProgress(job.ID, done, total, msg)
	}

	go s.runSuite(ctx, cancel, job.ID, tester)
	return job, nil
}

func (s *Server) runSuite(ctx context.Context, cancel context.CancelFunc, jobID string, tester *speed.Tester) {
	defer cancel()
	log := s.logger.WithContext(&logging.LogContext{JobID: jobID, Model: tester.Config().Model})
	log.Info("Starting suite job")

	run, err := tester.RunSuite(ctx)
	if err != nil {
		log.Error("Suite job failed: %v", err)
		s.jobs.FailJob(jobID, err.Error())
		return
	}

	if s.store != nil && ctx.Err() == nil {
		if err := s.store.Save(context.Background(), run); err != nil {
			log.Error("Failed to store suite run %s: %v", run.ID, err)
		}
	}
	s.jobs.CompleteJob(jobID, run)
}
