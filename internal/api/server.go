package api

import (
	"context"
	"log"
	"os"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"routeday/internal/config"
	"routeday/internal/locks"
	"routeday/internal/plan"
	"routeday/internal/solver"
	"routeday/internal/store"
	"routeday/internal/traveltime"
	"routeday/internal/webhooks"
)

type Server struct {
	Store  store.Store
	Plan   *plan.Service
	Est    *traveltime.Estimator
	Solver solver.Solver
	Broker EventBroker
	Pub    *webhooks.Publisher
	Policy config.Policy
}

// NewServer wires the service from the environment. With no DATABASE_URL it
// runs fully in memory; with no KAKAO_REST_API_KEY every travel estimate is
// the local fallback model.
func NewServer() (*Server, error) {
	pol, err := config.Load(os.Getenv("POLICY_FILE"))
	if err != nil {
		return nil, err
	}

	var st store.Store
	var pg *store.Postgres
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn == "" {
		st = store.NewMemory()
	} else {
		pg, err = store.NewPostgres(dsn)
		if err != nil {
			return nil, err
		}
		if os.Getenv("DB_MIGRATE") != "false" {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := pg.EnsureSchema(ctx); err != nil {
				return nil, err
			}
		}
		st = pg
	}

	var rdb *redis.Client
	if url := os.Getenv("REDIS_URL"); url != "" {
		opt, err := redis.ParseURL(url)
		if err != nil {
			return nil, err
		}
		rdb = redis.NewClient(opt)
	}

	var cache traveltime.Cache
	switch {
	case rdb != nil:
		cache = traveltime.NewRedisCache(rdb, 0)
	case pg != nil:
		pc := traveltime.NewPGCache(pg.DB())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := pc.InitSchema(ctx); err != nil {
			return nil, err
		}
		cache = pc
	default:
		cache = traveltime.NewMemoryCache()
	}

	var provider traveltime.Provider
	if key := os.Getenv("KAKAO_REST_API_KEY"); key != "" {
		provider = traveltime.NewKakao(key)
	} else {
		log.Printf("KAKAO_REST_API_KEY not set; travel times use the fallback model only")
	}
	est := traveltime.NewEstimator(provider, cache, pol, log.Default())

	var sv solver.Solver = solver.Heuristic{}
	if url := os.Getenv("SOLVER_URL"); url != "" {
		sv = solver.Fallback{Primary: solver.NewRemote(url), Backup: solver.Heuristic{}}
	}

	var locker locks.Locker
	var broker EventBroker
	if rdb != nil {
		locker = locks.NewRedis(rdb)
		broker = NewRedisBroker(rdb)
	} else {
		locker = locks.NewMemory()
		broker = NewBroker()
	}

	planSvc := plan.NewService(st, est, sv, locker, log.Default())

	return &Server{
		Store:  st,
		Plan:   planSvc,
		Est:    est,
		Solver: sv,
		Broker: broker,
		Pub:    webhooks.NewPublisher(st),
		Policy: pol,
	}, nil
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store)
}
