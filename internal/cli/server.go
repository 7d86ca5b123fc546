package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/config"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/infra/memory"
	pginfra "quiz-attempt-service/internal/infra/postgres"
	redisinfra "quiz-attempt-service/internal/infra/redis"
	transport "quiz-attempt-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the attempt service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// NewSweepCmd runs a single expiration sweep and exits, for cron-style setups.
func NewSweepCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run a single expiration sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			deps, err := buildDeps(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer deps.close()

			expired, err := deps.sweeper.SweepOnce(cmd.Context())
			if err != nil {
				return err
			}
			log.Info().Int("expired", expired).Msg("sweep complete")
			return nil
		},
	}
}

type deps struct {
	service *app.AttemptService
	sweeper *app.Sweeper
	pool    *pgxpool.Pool
	redis   *redis.Client
}

func (d *deps) close() {
	if d.pool != nil {
		d.pool.Close()
	}
	if d.redis != nil {
		_ = d.redis.Close()
	}
}

// buildDeps wires the store, catalog, service and sweeper from config. Postgres
// and Redis are both optional; memory fallbacks keep the service runnable for
// demos and local development.
func buildDeps(ctx context.Context, cfg config.Config) (*deps, error) {
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		var err error
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, err
		}
	}

	var loader memory.CourseLoader = memory.NewStaticCourseLoader(sampleCourses())
	if pool != nil {
		loader = pginfra.NewCourseLoader(pool)
	}

	catalogTTL := config.Duration(cfg.Catalog.TTL, 10*time.Minute)
	var catalog app.QuizCatalog
	if redisClient != nil {
		catalog = redisinfra.NewQuizCatalog(redisClient, loader, catalogTTL)
	} else {
		catalog = memory.NewCatalog(loader, catalogTTL)
	}

	var store app.AttemptStore = memory.NewAttemptStore()
	if pool != nil {
		store = pginfra.NewAttemptStore(pool)
	}

	var lock app.RunLock = memory.NewSweepLock()
	if redisClient != nil {
		lock = redisinfra.NewSweepLock(redisClient, config.Duration(cfg.Sweep.LockTTL, time.Minute))
	}

	service := app.NewAttemptService(store, catalog)
	sweeper := app.NewSweeper(store, lock, config.Duration(cfg.Sweep.Interval, time.Minute))

	return &deps{service: service, sweeper: sweeper, pool: pool, redis: redisClient}, nil
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	d, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.close()

	handler := transport.NewHandler(d.service)
	wsHandler := transport.NewWSHandler(d.service)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	handler.Register(mux)
	mux.HandleFunc("GET /ws/attempts/{attemptID}", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go d.sweeper.Run(sweepCtx)

	go func() {
		log.Info().Str("port", finalPort).Msg("starting attempt service")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down server...")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down server...")
	}
	stopSweeper()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleCourses provides minimal course data for dependency-free demo runs;
// production deployments read course documents from Postgres.
func sampleCourses() map[string]domain.Course {
	limit := 5
	return map[string]domain.Course{
		"course-1": {
			ID:    "course-1",
			Title: "Intro to Geography",
			Modules: []domain.Module{
				{
					ID:    "m1",
					Title: "Capitals",
					Lessons: []domain.Lesson{
						{ID: "lesson-video", Title: "Capitals overview", Type: "video"},
						{
							ID:    "lesson-quiz",
							Title: "Capitals quiz",
							Type:  "quiz",
							Quiz: &domain.QuizDefinition{
								TimeLimit:    &limit,
								PassingScore: 70,
								Questions: []domain.QuestionDefinition{
									{
										ID:            "q1",
										Question:      "What is the capital of France?",
										Type:          domain.QuestionText,
										CorrectAnswer: "Paris",
										Points:        10,
										Explanation:   "Paris has been the capital since 987.",
									},
									{
										ID:            "q2",
										Question:      "The Nile flows north.",
										Type:          domain.QuestionTrueFalse,
										CorrectAnswer: true,
										Points:        10,
									},
									{
										ID:            "q3",
										Question:      "Which of these are in Europe?",
										Type:          domain.QuestionMultipleChoice,
										Options:       []string{"Spain", "Peru", "Italy", "Laos"},
										CorrectAnswer: []string{"Spain", "Italy"},
										Points:        10,
									},
								},
							},
						},
					},
				},
			},
		},
	}
}
