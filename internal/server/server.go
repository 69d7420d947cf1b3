package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/victornm/stopgame/internal/api"
	"github.com/victornm/stopgame/internal/countdown"
	"github.com/victornm/stopgame/internal/domain"
	"github.com/victornm/stopgame/internal/event"
	"github.com/victornm/stopgame/internal/game"
	"github.com/victornm/stopgame/internal/history"
	"github.com/victornm/stopgame/internal/leaderboard"
	"github.com/victornm/stopgame/internal/room"
	"github.com/victornm/stopgame/internal/score"
	"github.com/victornm/stopgame/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	GRPC struct {
		Port int32
	}

	Game struct {
		MinPlayers       int
		MaxPlayers       int
		MaxRounds        int
		CountdownSeconds int
		DiscussionDelay  time.Duration
		Categories       []string
	}

	Rooms struct {
		CodeAttempts  int
		EmptyTTL      time.Duration
		InactiveTTL   time.Duration
		SweepInterval time.Duration
		StatsInterval time.Duration
	}

	Session struct {
		ReconnectGrace time.Duration
		AllowedOrigins []string
	}

	// A Redis or Postgres section without address disables the feature using it.
	Redis struct {
		Leaderboard struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		History struct {
			Addr string
			User string
			Pass string
			Name string
		}
	}
}

func DefaultConfig() Config {
	var c Config

	c.HTTP.Port = 8080
	c.GRPC.Port = 9090

	c.Game.MinPlayers = 2
	c.Game.MaxPlayers = 6
	c.Game.MaxRounds = 5
	c.Game.CountdownSeconds = 10
	c.Game.DiscussionDelay = 500 * time.Millisecond
	c.Game.Categories = append([]string(nil), domain.DefaultCategories...)

	c.Rooms.CodeAttempts = 100
	c.Rooms.EmptyTTL = 5 * time.Minute
	c.Rooms.InactiveTTL = 2 * time.Hour
	c.Rooms.SweepInterval = time.Hour
	c.Rooms.StatsInterval = 30 * time.Minute

	c.Session.ReconnectGrace = 30 * time.Second
	c.Session.AllowedOrigins = []string{"*"}

	c.Redis.Leaderboard.Prefix = "stopgame"
	c.Redis.Pubsub.Prefix = "stopgame"

	return c
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			leaderboard redis.UniversalClient
			pubsub      redis.UniversalClient
		}

		postgres struct {
			history *pgxpool.Pool
		}
	}

	service struct {
		rooms       *room.Registry
		score       *score.Service
		engine      *game.Engine
		countdown   *countdown.Coordinator
		leaderboard *leaderboard.Service
		history     *history.Service
	}

	http   *http.Server
	grpc   *grpc.Server
	health *health.Server

	cancel context.CancelFunc
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initService(); err != nil {
		return nil, fmt.Errorf("server: init service: %w", err)
	}

	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(name string, addrs []string, pass string) (redis.UniversalClient, error) {
		if len(addrs) == 0 {
			slog.Warn(fmt.Sprintf("server: redis %s disabled, no address configured", name))
			return nil, nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r, name); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.leaderboard, err = connect("leaderboard", s.c.Redis.Leaderboard.Addrs, s.c.Redis.Leaderboard.Pass)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	s.infra.redis.pubsub, err = connect("pubsub", s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() (err error) {
	connect := func(addr, user, pass, name string) (*pgxpool.Pool, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", user, pass, addr, name))
		if err != nil {
			return nil, err
		}

		db, err := pgxpool.NewWithConfig(ctx, cc)
		if err != nil {
			return nil, err
		}

		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, err
		}

		return db, nil
	}

	h := s.c.Postgres.History
	if h.Addr == "" {
		slog.Warn("server: game history disabled, no postgres address configured")
		return nil
	}

	s.infra.postgres.history, err = connect(h.Addr, h.User, h.Pass, h.Name)
	if err != nil {
		return fmt.Errorf("postgres: history: %w", err)
	}

	return nil
}

func (s *Server) initService() error {
	s.service.rooms = room.NewRegistry(room.Config{
		EventBus:      s.eb,
		MaxPlayers:    s.c.Game.MaxPlayers,
		Categories:    s.c.Game.Categories,
		CodeAttempts:  s.c.Rooms.CodeAttempts,
		EmptyTTL:      s.c.Rooms.EmptyTTL,
		InactiveTTL:   s.c.Rooms.InactiveTTL,
		SweepInterval: s.c.Rooms.SweepInterval,
		StatsInterval: s.c.Rooms.StatsInterval,
	})

	s.service.score = score.NewService(score.Config{
		EventBus: s.eb,
	})

	s.service.engine = game.NewEngine(game.Config{
		Rooms:      s.service.rooms,
		EventBus:   s.eb,
		Scorer:     s.service.score,
		MinPlayers: s.c.Game.MinPlayers,
		MaxRounds:  s.c.Game.MaxRounds,
	})

	s.service.countdown = countdown.NewCoordinator(countdown.Config{
		Rooms:           s.service.rooms,
		Engine:          s.service.engine,
		Seconds:         s.c.Game.CountdownSeconds,
		DiscussionDelay: s.c.Game.DiscussionDelay,
	})

	if s.infra.redis.leaderboard != nil {
		s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
			EventBus: s.eb,
			Redis:    s.infra.redis.leaderboard,
			Prefix:   s.c.Redis.Leaderboard.Prefix,
		})
	}

	if s.infra.postgres.history != nil {
		s.service.history = history.NewService(history.Config{
			DB:       s.infra.postgres.history,
			EventBus: s.eb,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.service.history.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("history: %w", err)
		}
	}

	return nil
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	var pubsub api.Redis
	if s.infra.redis.pubsub != nil {
		pubsub = s.infra.redis.pubsub
	}

	router := api.New(api.Config{
		EventBus:       s.eb,
		Rooms:          s.service.rooms,
		Engine:         s.service.engine,
		Countdown:      s.service.countdown,
		Leaderboard:    s.service.leaderboard,
		History:        s.service.history,
		Redis:          pubsub,
		PubsubPrefix:   s.c.Redis.Pubsub.Prefix,
		ReconnectGrace: s.c.Session.ReconnectGrace,
		AllowedOrigins: s.c.Session.AllowedOrigins,
		Info: api.Info{
			Name:             "stopgame",
			Categories:       s.c.Game.Categories,
			MinPlayers:       s.c.Game.MinPlayers,
			MaxPlayers:       s.c.Game.MaxPlayers,
			MaxRounds:        s.c.Game.MaxRounds,
			CountdownSeconds: s.c.Game.CountdownSeconds,
		},
	})
	router.Register(e)

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptors()...)
	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

// Handler returns the HTTP handler serving the WebSocket endpoint, the HTTP API and the debug endpoints.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	go s.service.rooms.Run(ctx)

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.cancel != nil {
		s.cancel()
	}

	s.health.Shutdown()
	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()

	if s.infra.redis.leaderboard != nil {
		_ = s.infra.redis.leaderboard.Close()
	}
	if s.infra.redis.pubsub != nil {
		_ = s.infra.redis.pubsub.Close()
	}
	if s.infra.postgres.history != nil {
		s.infra.postgres.history.Close()
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
