package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"blueprints-relay/handlers/api/blueprints"
	"blueprints-relay/handlers/websocket"
	"blueprints-relay/persistence"
	"blueprints-relay/rooms"
	"blueprints-relay/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

func waitForShutdown(ioo *socketio.Server) {
	exit := make(chan struct{})
	SignalC := make(chan os.Signal, 1)

	signal.Notify(SignalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		for s := range SignalC {
			switch s {
			case os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
				close(exit)
				return
			}
		}
	}()

	<-exit
	fmt.Println("Shutting down...")
	ioo.Close(nil)
	os.Exit(0)
}

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	logLevel := flag.String("loglevel", "info", "Set the logging level: debug, info, warn, error, fatal, panic")
	listenAddr := flag.String("listen", ":3002", "Set the server listen address")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	registry := rooms.NewRegistry()

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// External service wins; without it the relay embeds the persistence
	// service and serves its API itself.
	var client persistence.Client
	if apiURL := os.Getenv("BLUEPRINTS_API_URL"); apiURL != "" {
		logrus.WithField("url", apiURL).Info("Using external blueprints API")
		client = persistence.NewHTTP(apiURL)
	} else {
		store := stores.GetStore()
		client = persistence.NewLocal(store)
		r.Route("/blueprints", func(r chi.Router) {
			r.Get("/", blueprints.HandleList(store))
			r.Get("/{author}/{name}", blueprints.HandleGet(store))
			r.Post("/{author}/{name}/points", blueprints.HandleAppendPoint(store))
		})
		logrus.Info("Embedded blueprints API mounted")
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/api/rooms", func(w http.ResponseWriter, r *http.Request) {
		type roomEntry struct {
			ID    string `json:"id"`
			Users int    `json:"users"`
		}

		snapshot := registry.Snapshot()
		roomList := make([]roomEntry, 0, len(snapshot))
		for id, users := range snapshot {
			roomList = append(roomList, roomEntry{ID: id, Users: users})
		}

		sort.Slice(roomList, func(i, j int) bool {
			if roomList[i].Users == roomList[j].Users {
				return roomList[i].ID < roomList[j].ID
			}
			return roomList[i].Users > roomList[j].Users
		})

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(roomList); err != nil {
			http.Error(w, "failed to encode response", http.StatusInternalServerError)
		}
	})

	coordinator := websocket.NewCoordinator(registry, client)
	ioo := websocket.SetupSocketIO(coordinator)
	r.Handle("/socket.io/", ioo.ServeHandler(nil))

	logrus.WithField("addr", *listenAddr).Info("starting server")
	go func() {
		if err := http.ListenAndServe(*listenAddr, r); err != nil {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	logrus.Debug("Server is running in the background")
	waitForShutdown(ioo)
}
