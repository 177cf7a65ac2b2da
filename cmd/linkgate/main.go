package main

import (
	"context"
	"log"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/linkgate/linkgate/internal/aggregate"
	"github.com/linkgate/linkgate/internal/decision"
	"github.com/linkgate/linkgate/internal/detect"
	"github.com/linkgate/linkgate/internal/httpx"
	"github.com/linkgate/linkgate/internal/metrics"
	"github.com/linkgate/linkgate/internal/repo"
	"github.com/linkgate/linkgate/internal/signal"
	"github.com/linkgate/linkgate/internal/signal/cache"
	"github.com/linkgate/linkgate/internal/sink"
	"github.com/linkgate/linkgate/pkg/config"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	th := signal.DefaultThresholds()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics()

	// result cache
	ttls := cache.FromThresholds(th)
	var store cache.Store
	switch cfg.CacheBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: int(cfg.RedisDB)})
		store = cache.NewRedisStore(client, ttls, "linkgate:sig")
		log.Printf("cache: redis backend at %s", cfg.RedisAddr)
	default:
		store = cache.NewMemoryStore(ttls, 0)
	}
	store = cache.Instrument(store, func(kind signal.Kind, hit bool) {
		outcome := "miss"
		if hit {
			outcome = "hit"
		}
		m.IncrementCacheLookups(string(kind), outcome)
	})

	// link repository
	var repository repo.Repository
	if cfg.PostgresDSN != "" {
		pg, err := repo.OpenPG(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("repo: %v", err)
		}
		defer pg.Close()
		repository = pg
	} else {
		mem := repo.NewMemoryRepository()
		seedDemoLinks(mem)
		repository = mem
		log.Printf("repo: no PG_DSN set, using in-memory repository with demo links")
	}

	// geolocation sources
	var geoSources []detect.WeightedSource
	var maxmind *detect.MaxMindSource
	if cfg.GeoIPCityDB != "" {
		mm, err := detect.OpenMaxMind(cfg.GeoIPCityDB, cfg.GeoIPASNDB)
		if err != nil {
			log.Fatalf("geoip: %v", err)
		}
		defer mm.Close()
		maxmind = mm
		geoSources = append(geoSources, detect.WeightedSource{Source: mm, Trust: 0.9})
	}
	if cfg.GeoHTTPEndpoint != "" {
		src := detect.NewHTTPSource("geo_http", cfg.GeoHTTPEndpoint, nil)
		geoSources = append(geoSources, detect.WeightedSource{Source: src, Trust: float64(cfg.GeoHTTPTrust) / 100})
	}

	vpnCfg := detect.VPNConfig{HostingASNs: detect.DefaultHostingASNs()}
	if maxmind != nil && cfg.GeoIPASNDB != "" {
		vpnCfg.ASN = maxmind
	}

	challenges, err := detect.NewChallengeVerifier(th, cfg.ChallengeSecret)
	if err != nil {
		log.Fatalf("challenge: %v", err)
	}
	honeypots := detect.NewHoneypotValidator(th, detect.DefaultHoneypotPool(), 3)

	providers := []signal.Provider{
		detect.NewVPNDetector(th, store, vpnCfg),
		detect.NewGeoDetector(th, store, geoSources),
		detect.NewDomainChecker(th, store, detect.DomainConfig{}),
		honeypots,
		detect.NewFlatlineAnalyzer(th),
		detect.NewAITextDetector(th),
		challenges,
		detect.NewDeviceFingerprinter(),
	}

	evaluator := aggregate.NewEvaluator(th, providers, cfg.ProviderTimeout)
	evaluator.Observe = func(kind signal.Kind, elapsed time.Duration, failed bool) {
		m.ObserveDetectorLatency(string(kind), elapsed)
		if failed {
			m.IncrementDetectorFailures(string(kind))
		}
	}

	engine := decision.NewEngine(th, repository)

	// flag sinks
	sinks := []sink.Sink{}
	for _, name := range cfg.Outputs {
		switch name {
		case "log":
			sinks = append(sinks, sink.NewLogSink())
		case "kafka":
			sinks = append(sinks, sink.NewKafkaSinkFromEnv())
		default:
			log.Printf("unknown output %q, skipping", name)
		}
	}
	for _, s := range sinks {
		if err := s.Start(ctx); err != nil {
			log.Fatalf("sink %s: %v", s.Name(), err)
		}
	}
	emit := func(ev sink.FlagEvent) {
		for _, s := range sinks {
			if err := s.Enqueue(ev); err != nil {
				m.IncrementSinkErrors(s.Name(), "enqueue")
				log.Printf("sink %s: enqueue: %v", s.Name(), err)
			}
		}
	}

	if getBool("TEST_MODE", false) {
		runTestMode(emit)
		for _, s := range sinks {
			_ = s.Close()
		}
		return
	}

	// session sweepers and the pending-sessions gauge
	honeypots.StartSweeper(ctx, cfg.SweepInterval)
	challenges.StartSweeper(ctx, cfg.SweepInterval)
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.PendingSessions.WithLabelValues("honeypot").Set(float64(honeypots.PendingSessions()))
				m.PendingSessions.WithLabelValues("challenge").Set(float64(challenges.Pending()))
			}
		}
	}()

	metricsServer := metrics.NewServer(metrics.LoadConfig())
	_ = metricsServer.Start(ctx)

	env := httpx.Env{
		Cfg:        cfg,
		Evaluator:  evaluator,
		Engine:     engine,
		Repo:       repository,
		Honeypots:  honeypots,
		Challenges: challenges,
		Metrics:    m,
		Emit:       emit,
	}

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: httpx.NewMux(env),
	}

	go func() {
		log.Printf("linkgate listening on %s", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	ossignal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	_ = srv.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
	for _, s := range sinks {
		_ = s.Close()
	}
}

// seedDemoLinks gives the in-memory repository something to screen so a dev
// instance works out of the box.
func seedDemoLinks(mem *repo.MemoryRepository) {
	mem.AddLink(repo.Link{
		UID:       "demo",
		ProjectID: "demo-project",
		SurveyURL: "https://surveys.example.com/demo",
		Type:      repo.LinkLive,
		Status:    repo.StatusActive,
	})
	mem.AddLink(repo.Link{
		UID:       "demo-test",
		ProjectID: "demo-project",
		SurveyURL: "https://surveys.example.com/demo",
		Type:      repo.LinkTest,
		Status:    repo.StatusActive,
	})
	mem.SetPolicy("demo-project", repo.Policy{})
}

func getBool(key string, def bool) bool {
	switch os.Getenv(key) {
	case "1", "t", "true", "y", "yes":
		return true
	case "0", "f", "false", "n", "no":
		return false
	}
	return def
}
