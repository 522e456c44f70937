package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"livecatalog-server/auth"
	"livecatalog-server/config"
	"livecatalog-server/core"
	"livecatalog-server/handlers/api/accounts"
	"livecatalog-server/handlers/api/records"
	"livecatalog-server/handlers/websocket"
	"livecatalog-server/stores"
	"livecatalog-server/stores/sessions"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func allowLocalhost(r *http.Request, origin string) bool {
	if origin == "" {
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	switch parsed.Scheme {
	case "http", "https":
		switch parsed.Hostname() {
		case "localhost", "127.0.0.1", "::1":
			return true
		}
	}
	return false
}

func setupRouter(store stores.Store, gate *auth.Gate, hub *websocket.Hub, origins []string) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	corsOptions := cors.Options{
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if len(origins) > 0 {
		corsOptions.AllowedOrigins = origins
	} else {
		corsOptions.AllowOriginFunc = allowLocalhost
	}
	r.Use(cors.Handler(corsOptions))

	// Socket.IO is mounted on r directly, outside the compressed group.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Compress(5))

		r.Route("/api", func(r chi.Router) {
			for _, kind := range core.Kinds {
				r.Get("/"+kind.String(), records.HandleList(store, kind))
				r.With(gate.RequireSession).Post("/"+kind.String(), records.HandleCreate(store, kind, hub))
			}
		})

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", accounts.HandleRegister(store, gate))
			r.Post("/login", accounts.HandleLogin(store, gate))
			r.Post("/logout", accounts.HandleLogout(gate))
			r.With(gate.RequireSession).Get("/me", accounts.HandleMe())
		})

		r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			render.JSON(w, r, map[string]any{
				"status":      "ok",
				"connections": hub.Count(),
			})
		})
	})

	return r
}

func waitForShutdown() {
	signalC := make(chan os.Signal, 1)
	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	s := <-signalC
	logrus.WithField("signal", s.String()).Info("Shutting down")
}

func main() {
	logLevel := flag.String("loglevel", "", "Set the logging level: debug, info, warn, error, fatal, panic (overrides LOG_LEVEL)")
	listenAddr := flag.String("listen", "", "Set the server listen address (overrides PORT)")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	logrus.SetLevel(level)

	addr := cfg.ListenAddr()
	if *listenAddr != "" {
		addr = *listenAddr
	}

	var rc *redis.Client
	if cfg.SessionStore == config.SessionStoreRedis || cfg.BroadcastRelay == config.RelayRedis {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logrus.WithError(err).Fatal("Invalid REDIS_URL")
		}
		rc = redis.NewClient(opts)
	}

	recordStore, err := stores.GetStore(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open record store")
	}
	sessionStore, err := sessions.GetStore(cfg, rc)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open session store")
	}

	bootstrap(context.Background(), recordStore, cfg.SeedProductsFile)

	policy, err := websocket.ParsePolicy(cfg.RealtimeAuth)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid realtime auth policy")
	}
	gate := auth.NewGate(sessionStore, cfg.SessionSecret, cfg.SessionTTL)
	hub := websocket.NewHub(recordStore, gate, policy)

	relayCtx, stopRelay := context.WithCancel(context.Background())
	relayDone := make(chan struct{})
	if cfg.BroadcastRelay == config.RelayRedis {
		relay := websocket.NewRedisRelay(rc, cfg.BroadcastChannel, hub.Deliver)
		hub.SetRelay(relay)
		go func() {
			defer close(relayDone)
			relay.Run(relayCtx)
		}()
	} else {
		close(relayDone)
	}
	logrus.WithFields(logrus.Fields{
		"relay":  cfg.BroadcastRelay,
		"policy": policy,
	}).Info("Realtime hub ready")

	r := setupRouter(recordStore, gate, hub, cfg.Origins())
	ioo := websocket.SetupSocketIO(hub, gate, cfg.Origins())
	r.Handle("/socket.io/", ioo.ServeHandler(nil))

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logrus.WithField("addr", addr).Info("starting server")
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	waitForShutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ioo.Close(nil)
	if err := hub.Shutdown(ctx); err != nil {
		logrus.WithError(err).Warn("Realtime hub did not drain")
	}
	stopRelay()
	<-relayDone
	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("HTTP server shutdown failed")
	}
	if err := sessionStore.Close(); err != nil {
		logrus.WithError(err).Error("Failed to close session store")
	}
	if err := recordStore.Close(); err != nil {
		logrus.WithError(err).Error("Failed to close record store")
	}
	if rc != nil {
		if err := rc.Close(); err != nil {
			logrus.WithError(err).Error("Failed to close redis client")
		}
	}
	logrus.Info("Server stopped")
}
