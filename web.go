package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/gobwas/ws"
	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"

	"roomsync/room"
	"roomsync/store"
)

func serve(ctx context.Context, cfg *Config) error {
	logger := newLogger(cfg.verbose)

	st := store.NewMemory()
	reaper := room.NewReaper(st, cfg.roomConfig(), logger)
	keys := NewHostKeys(cfg.jwtSecret, cfg.hostReconnectWindow)
	relay := NewRelay(st, reaper, keys, cfg.hostReconnectWindow, logger)

	reaper.Start()
	defer reaper.Stop()
	defer relay.Shutdown()

	addr := net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port))
	srv := &http.Server{Addr: addr, Handler: newRouter(relay, cfg, logger)}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	LogStartedServer(logger, addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

type httpHandler struct {
	relay *Relay
	cfg   *Config
	log   zerolog.Logger
}

func newRouter(relay *Relay, cfg *Config, logger zerolog.Logger) http.Handler {
	h := httpHandler{relay, cfg, logger}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.corsOrigins,
		AllowedMethods:   []string{"GET"},
		AllowCredentials: false,
	}))
	r.Use(httprate.Limit(cfg.rateLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP, httprate.KeyByEndpoint)))
	r.Use(middleware.Heartbeat("/"))

	r.Get("/ws", h.websocket())
	r.Get("/rooms/{roomCode}", h.roomEventStream())
	r.Get("/rooms/{roomCode}/meta", h.roomMeta())
	r.Get("/rooms/{roomCode}/qr", h.roomQR())
	return r
}

func (h httpHandler) websocket() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			LogErrorWhileUpgradingHTTP(h.log, err)
			return
		}
		go newClientConn(h.relay, conn, GetConnLogger(h.log, r.RemoteAddr)).serve()
	}
}

func (h httpHandler) roomEventStream() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "HTTP Streaming not supported!", http.StatusBadRequest)
			return
		}
		roomCode := chi.URLParam(r, "roomCode")

		events := make(chan store.Event, 64)
		unsub := h.relay.store.Subscribe("rooms/"+roomCode, func(ev store.Event) {
			select {
			case events <- ev:
			default:
			}
		})
		defer unsub()

		// Subscribing first and reading second means a change landing between
		// the two is buffered instead of lost; replaying it after the snapshot
		// is harmless.
		var raw json.RawMessage
		found, err := h.relay.store.Get(r.Context(), "rooms/"+roomCode, &raw)
		if err != nil || !found {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		stream := NewEventStream(w, flusher)
		stream.SendSnapshot(raw)
		for {
			select {
			case ev := <-events:
				stream.SendChange(ev)
			case <-r.Context().Done():
				return
			}
		}
	}
}

func (h httpHandler) roomMeta() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomCode := chi.URLParam(r, "roomCode")
		var raw json.RawMessage
		found, err := h.relay.store.Get(r.Context(), "rooms/"+roomCode+"/meta", &raw)
		if err != nil || !found {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(raw)
	}
}

const qrSize = 256

// roomQR renders the join URL as a PNG so a room can be shared by pointing a
// phone at the host's screen.
func (h httpHandler) roomQR() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomCode := chi.URLParam(r, "roomCode")
		var raw json.RawMessage
		found, err := h.relay.store.Get(r.Context(), "rooms/"+roomCode+"/meta", &raw)
		if err != nil || !found {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		url := fmt.Sprintf("%s://%s/join/%s", scheme, r.Host, roomCode)
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(png)
	}
}
