// Package server is the HTTP speech server that ttsd runs in the background.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"time"

	"github.com/caarlos0/ctrlc"
	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blacktop/ttsd/internal/powershell"
)

const shutdownTimeout = 5 * time.Second

// ErrNoSpeechCommand is returned when the host has no speech synthesizer.
var ErrNoSpeechCommand = errors.New("no speech command available")

// Speaker turns text into audio.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// CommandSpeaker shells out to the platform speech command: /usr/bin/say on
// macOS, the SAPI synthesizer through PowerShell on Windows, and espeak
// elsewhere. Rate is in words per minute.
type CommandSpeaker struct {
	Rate int
	GOOS string
}

func (s CommandSpeaker) Speak(ctx context.Context, text string) error {
	cmd, err := s.command(ctx, text)
	if err != nil {
		return err
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s failed: %w: %s", cmd.Path, err, out)
	}
	return nil
}

func (s CommandSpeaker) command(ctx context.Context, text string) (*exec.Cmd, error) {
	rate := s.Rate
	if rate <= 0 {
		rate = 200
	}
	goos := s.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}

	switch goos {
	case "darwin":
		return exec.CommandContext(ctx, "/usr/bin/say", "--rate="+strconv.Itoa(rate), text), nil
	case "windows":
		cmd := exec.CommandContext(ctx, "powershell.exe", "-NoProfile", "-Command", powershell.SAPICommand(rate))
		cmd.Env = append(os.Environ(), powershell.TextEnv+"="+text)
		return cmd, nil
	default:
		path, err := exec.LookPath("espeak")
		if err != nil {
			return nil, ErrNoSpeechCommand
		}
		return exec.CommandContext(ctx, path, "-s", strconv.Itoa(rate), text), nil
	}
}

// Server serves /speak, /healthz and /metrics.
type Server struct {
	speaker  Speaker
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	mux      *http.ServeMux
}

// New builds a Server that speaks through speaker.
func New(speaker Speaker) *Server {
	s := &Server{
		speaker:  speaker,
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ttsd",
			Name:      "speak_requests_total",
			Help:      "Speak requests handled, by result",
		}, []string{"result"}),
		mux: http.NewServeMux(),
	}
	s.registry.MustRegister(s.requests)
	s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s.mux.HandleFunc("/speak", s.handleSpeak)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.requests.WithLabelValues("bad_request").Inc()
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Get text from request
	if err := r.ParseForm(); err != nil {
		s.requests.WithLabelValues("bad_request").Inc()
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}
	text := r.FormValue("text")
	if text == "" {
		s.requests.WithLabelValues("bad_request").Inc()
		http.Error(w, "Text is required", http.StatusBadRequest)
		return
	}

	if err := s.speaker.Speak(r.Context(), text); err != nil {
		if errors.Is(err, ErrNoSpeechCommand) {
			s.requests.WithLabelValues("unavailable").Inc()
			http.Error(w, "Speech is not available on this host", http.StatusServiceUnavailable)
			return
		}
		log.Error("Failed to speak", "error", err)
		s.requests.WithLabelValues("error").Inc()
		http.Error(w, "Failed to process speech", http.StatusInternalServerError)
		return
	}

	s.requests.WithLabelValues("ok").Inc()
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Speaking: " + text))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"status": "ok", "pid": os.Getpid()})
}

// Run listens on ln until ctx is cancelled or the process is interrupted,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("Starting ttsd server", "addr", ln.Addr().String(), "pid", os.Getpid())
	served := make(chan error, 1)
	err := ctrlc.Default.Run(ctx, func() error {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		served <- err
		return err
	})

	// Serve returned on its own: nothing to shut down.
	select {
	case serr := <-served:
		return serr
	default:
	}

	// Interrupted by a signal or by ctx.
	log.Info("Shutting down ttsd server", "reason", err)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		return fmt.Errorf("failed to shut down server: %w", serr)
	}
	return nil
}

// ListenAndRun binds port on all interfaces and calls Run.
func (s *Server) ListenAndRun(ctx context.Context, port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", port, err)
	}
	return s.Run(ctx, ln)
}
