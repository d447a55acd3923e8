package viewer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/banshee-data/pcdtools/internal/cloud"
	"github.com/banshee-data/pcdtools/internal/monitoring"
	"tailscale.com/tsweb"
)

// DefaultAddr is the listen address used when Viewer.Addr is empty.
const DefaultAddr = "127.0.0.1:8083"

// Viewer serves a scene over HTTP for interactive inspection.
type Viewer struct {
	Params ViewParams
	Addr   string

	// Routes, if set, is called with the server mux so callers can mount
	// extra admin routes (for example a run log browser).
	Routes func(mux *http.ServeMux)

	// OnListen, if set, is called with the bound address once the server
	// is accepting connections.
	OnListen func(addr string)
}

// Show serves the clouds and blocks until ctx is cancelled or a client posts
// to /close. Closing the session is not an error.
func (v *Viewer) Show(ctx context.Context, clouds ...*cloud.PointCloud) error {
	var page bytes.Buffer
	if err := RenderHTML(&page, v.Params, clouds...); err != nil {
		return err
	}
	snap := &pngCache{params: v.Params, clouds: clouds}

	closed := make(chan struct{})
	var closeOnce sync.Once

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(page.Bytes())
	})
	mux.HandleFunc("/view.png", func(w http.ResponseWriter, r *http.Request) {
		img, err := snap.get()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(img)
	})
	mux.HandleFunc("/close", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		closeOnce.Do(func() { close(closed) })
	})

	debug := tsweb.Debugger(mux)
	debug.KV("Clouds", len(clouds))
	debug.KV("Points", totalPoints(clouds))
	if v.Routes != nil {
		v.Routes(mux)
	}

	addr := v.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	server := &http.Server{Handler: mux}

	serveErr := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	bound := ln.Addr().String()
	monitoring.Logf("viewer listening on http://%s/ (POST /close to exit)", bound)
	if v.OnListen != nil {
		v.OnListen(bound)
	}

	var result error
	select {
	case <-ctx.Done():
	case <-closed:
	case err := <-serveErr:
		result = fmt.Errorf("viewer server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("viewer shutdown error: %v", err)
		if err := server.Close(); err != nil {
			monitoring.Logf("viewer force close error: %v", err)
		}
	}
	monitoring.Debugf("viewer stopped")
	return result
}

// pngCache renders the snapshot on first request.
type pngCache struct {
	params ViewParams
	clouds []*cloud.PointCloud

	once sync.Once
	img  []byte
	err  error
}

func (p *pngCache) get() ([]byte, error) {
	p.once.Do(func() {
		var buf bytes.Buffer
		p.err = RenderPNG(&buf, p.params, p.clouds...)
		p.img = buf.Bytes()
	})
	return p.img, p.err
}
