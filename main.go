// Command rewinder serves interactive, rewindable battle replay sessions
// over WebSocket. Each connection owns one session: commands arrive as
// newline-delimited text, responses leave as tag-framed payloads. Finished
// sessions are archived to disk and indexed in the catalog.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"battlerewind/rewinder/internal/archive"
	"battlerewind/rewinder/internal/auth"
	"battlerewind/rewinder/internal/catalog"
	"battlerewind/rewinder/internal/config"
	"battlerewind/rewinder/internal/driver"
	"battlerewind/rewinder/internal/engine/bookkeep"
	"battlerewind/rewinder/internal/logging"
	"battlerewind/rewinder/internal/session"
)

type server struct {
	cfg      *config.Config
	log      *logging.Logger
	catalog  *catalog.Catalog
	verifier *auth.HMACTokenVerifier
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions int
}

func newServer(cfg *config.Config, logger *logging.Logger, store *catalog.Catalog) *server {
	s := &server{cfg: cfg, log: logger, catalog: store}
	if cfg.SessionSecret != "" {
		verifier, err := auth.NewHMACTokenVerifier(cfg.SessionSecret, 30*time.Second)
		if err == nil {
			s.verifier = verifier
		} else {
			logger.Warn("session auth disabled", logging.Error(err))
		}
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			//1.- An empty allowlist admits every origin, mirroring local use.
			if len(cfg.AllowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range cfg.AllowedOrigins {
				if strings.EqualFold(origin, allowed) {
					return true
				}
			}
			return false
		},
	}
	return s
}

func (s *server) acquireSlot() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.MaxSessions > 0 && s.sessions >= s.cfg.MaxSessions {
		return false
	}
	s.sessions++
	return true
}

func (s *server) releaseSlot() {
	s.mu.Lock()
	s.sessions--
	s.mu.Unlock()
}

func (s *server) serveSession(w http.ResponseWriter, r *http.Request) {
	if s.verifier != nil {
		//1.- Token-gated deployments verify the session token before upgrade.
		if _, err := s.verifier.Verify(r.URL.Query().Get("token")); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}
	if !s.acquireSlot() {
		http.Error(w, "session capacity reached", http.StatusServiceUnavailable)
		return
	}
	defer s.releaseSlot()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", logging.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(s.cfg.MaxPayloadBytes)

	logger := s.log.With(logging.String("remote", r.RemoteAddr))
	var writeMu sync.Mutex
	sess := session.New(bookkeep.Factory{}, logger, func(payload string) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
			logger.Debug("session write failed", logging.Error(err))
		}
	},
		driver.WithSnapshotWindow(s.cfg.SnapshotWindow),
		driver.WithAutoResolveLimit(s.cfg.AutoResolveLimit))
	logger.Info("session opened")

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				writeMu.Lock()
				err := conn.WriteMessage(websocket.PingMessage, nil)
				writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			break
		}
		//1.- A frame may batch several commands, one per line, processed in
		// strict arrival order.
		for _, line := range strings.Split(string(message), "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			sess.Dispatch(line)
		}
	}
	close(done)
	s.archiveSession(sess, logger)
	logger.Info("session closed")
}

// archiveSession persists a finished session's bundle and indexes it so the
// replay can be found and resumed later.
func (s *server) archiveSession(sess *session.Session, logger *logging.Logger) {
	drv := sess.Driver()
	eng := drv.Engine()
	if eng == nil || eng.Turn() == 0 {
		return
	}
	bundle, err := drv.ExportState()
	if err != nil {
		logger.Warn("export for archive failed", logging.Error(err))
		return
	}
	path, _, err := archive.Save(s.cfg.ArchiveDir, bundle.FormatID, bundle, time.Now)
	if err != nil {
		logger.Warn("archive save failed", logging.Error(err))
		return
	}
	entry := catalog.Entry{
		FormatID:   bundle.FormatID,
		Turns:      bundle.Turn,
		Winner:     eng.Winner(),
		BundlePath: path,
	}
	if side := eng.Side("p1"); side != nil {
		entry.P1Name = side.Name
	}
	if side := eng.Side("p2"); side != nil {
		entry.P2Name = side.Name
	}
	if _, err := s.catalog.Save(context.Background(), entry); err != nil {
		logger.Warn("catalog save failed", logging.Error(err))
		return
	}
	logger.Info("session archived", logging.String("path", path), logging.Int("turns", bundle.Turn))
}

func (s *server) serveArchives(w http.ResponseWriter, r *http.Request) {
	entries, err := s.catalog.List(r.Context(), 100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(entries); err != nil {
		s.log.Debug("archive listing write failed", logging.Error(err))
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.L().Fatal("invalid configuration", logging.Error(err))
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		logging.L().Fatal("logger initialization failed", logging.Error(err))
	}
	defer logger.Sync()

	store, err := catalog.Open(cfg.CatalogPath)
	if err != nil {
		logger.Fatal("catalog open failed", logging.Error(err))
	}
	defer store.Close()

	s := newServer(cfg, logger, store)
	mux := http.NewServeMux()
	mux.HandleFunc("/session", s.serveSession)
	mux.HandleFunc("/archives", s.serveArchives)

	logger.Info("rewinder listening", logging.String("addr", cfg.Address))
	server := &http.Server{Addr: cfg.Address, Handler: mux}
	if err := server.ListenAndServe(); err != nil {
		logger.Fatal("server stopped", logging.Error(err))
	}
}
