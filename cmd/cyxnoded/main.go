// Command cyxnoded runs one cyxchat node: it loads or creates a passphrase
// protected identity, opens a cyxchat.Library against it, and exposes an
// HTTP status/control plane plus a Prometheus /metrics endpoint, in the
// teacher's main.go idiom (flags, two independent http.Servers, a
// cooperative poll loop, context-scoped shutdown).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/code3hr/cyxchat-sub001/cyxchat"
	"github.com/code3hr/cyxchat-sub001/dns"
	"github.com/code3hr/cyxchat-sub001/ids"
)

func main() {
	cfg := cyxchat.DefaultConfig()

	var (
		configPath string
		newID      bool
		idPass     string
		logLevel   string
	)
	flag.StringVar(&configPath, "config", "", "YAML config path (optional)")
	flag.StringVar(&cfg.APIAddr, "api-addr", cfg.APIAddr, "HTTP status API bind address")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics bind address")
	flag.StringVar(&cfg.IdentityDir, "identity-dir", cfg.IdentityDir, "directory holding identity.enc")
	flag.StringVar(&cfg.BootstrapAddr, "bootstrap", cfg.BootstrapAddr, "bootstrap peer multiaddr")
	flag.BoolVar(&newID, "new-identity", false, "generate a fresh identity.enc and exit")
	flag.StringVar(&idPass, "identity-pass", "", "passphrase for identity.enc (or set CYXCHAT_IDENTITY_PASS)")
	flag.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	if err := cyxchat.SetLogLevel(logLevel); err != nil {
		log.Fatalf("log level: %v", err)
	}

	if configPath != "" {
		loaded, err := cyxchat.LoadConfig(configPath)
		if err != nil {
			log.Fatalf("config load: %v", err)
		}
		loaded.APIAddr = cfg.APIAddr
		loaded.MetricsAddr = cfg.MetricsAddr
		loaded.IdentityDir = cfg.IdentityDir
		loaded.BootstrapAddr = cfg.BootstrapAddr
		cfg = loaded
	}

	if idPass == "" {
		idPass = os.Getenv("CYXCHAT_IDENTITY_PASS")
	}
	if idPass == "" {
		log.Fatalf("identity passphrase missing. Supply --identity-pass or set CYXCHAT_IDENTITY_PASS")
	}

	idDir, err := cyxchat.ExpandIdentityDir(cfg.IdentityDir)
	if err != nil {
		log.Fatalf("identity dir: %v", err)
	}
	idPath := idDir + "/identity.enc"

	var ident cyxchat.Identity
	if newID {
		ident, err = cyxchat.NewIdentity()
		if err != nil {
			log.Fatalf("identity generate: %v", err)
		}
		if err := cyxchat.SaveIdentity(idPath, ident, []byte(idPass)); err != nil {
			log.Fatalf("identity save: %v", err)
		}
		log.Printf("[identity] created %s node=%s", idPath, ident.Node)
		return
	}

	if _, err := os.Stat(idPath); err == nil {
		ident, err = cyxchat.LoadIdentity(idPath, []byte(idPass))
		if err != nil {
			log.Fatalf("identity load: %v", err)
		}
	} else {
		ident, err = cyxchat.NewIdentity()
		if err != nil {
			log.Fatalf("identity generate: %v", err)
		}
		if err := cyxchat.SaveIdentity(idPath, ident, []byte(idPass)); err != nil {
			log.Fatalf("identity save: %v", err)
		}
		log.Printf("[identity] created %s", idPath)
	}
	log.Printf("[node] id=%s", ident.Node)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lib, err := cyxchat.Open(ctx, cfg, ident)
	if err != nil {
		log.Fatalf("library open: %v", err)
	}
	defer lib.Close()

	reg := prometheus.NewRegistry()
	for _, c := range lib.Dns().Collectors() {
		reg.MustRegister(c)
	}

	apiSrv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           statusMux(lib),
		ReadHeaderTimeout: 5 * time.Second,
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("[api] listening on %s", cfg.APIAddr)
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("api http: %v", err)
		}
	}()
	go func() {
		log.Printf("[metrics] listening on %s", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("metrics http: %v", err)
		}
	}()

	go pollLoop(ctx, lib)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Print("[node] shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = apiSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
}

// pollLoop drives every subsystem's cooperative scheduling, the way the
// teacher's startAutoSavePeersLoop and broadcaster goroutines each run
// their own ticker off the shared context.
func pollLoop(ctx context.Context, lib *cyxchat.Library) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			lib.Poll(t.UnixMilli())
		}
	}
}

func statusMux(lib *cyxchat.Library) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		st := lib.Connection().GetStatus()
		_ = json.NewEncoder(w).Encode(st)
	})

	mux.HandleFunc("/peers", func(w http.ResponseWriter, r *http.Request) {
		peers := lib.Connection().ConnectedPeers()
		out := make([]string, 0, len(peers))
		for _, p := range peers {
			out = append(out, p.String())
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	mux.HandleFunc("/connect", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		var req struct{ Node string }
		if json.NewDecoder(r.Body).Decode(&req) != nil || req.Node == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		node, err := ids.NodeIDFromHex(req.Node)
		if err != nil {
			http.Error(w, "bad node id", http.StatusBadRequest)
			return
		}
		if err := lib.Connection().Connect(node, time.Now().UnixMilli(), nil); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("/send", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Node string
			Text string
		}
		if json.NewDecoder(r.Body).Decode(&req) != nil || req.Node == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		node, err := ids.NodeIDFromHex(req.Node)
		if err != nil {
			http.Error(w, "bad node id", http.StatusBadRequest)
			return
		}
		if _, err := lib.Chat().SendText(node, req.Text, nil); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/recv", func(w http.ResponseWriter, r *http.Request) {
		ev, ok := lib.Chat().RecvNext()
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_ = json.NewEncoder(w).Encode(ev)
	})

	mux.HandleFunc("/dns/lookup", func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		if name == "" {
			http.Error(w, "missing name", http.StatusBadRequest)
			return
		}
		now := time.Now()
		type result struct {
			rec   *dns.Record
			ready chan struct{}
		}
		res := &result{ready: make(chan struct{})}
		lib.Dns().Lookup(name, uint64(now.UnixMilli()), now.UnixMilli(), func(r *dns.Record) {
			res.rec = r
			close(res.ready)
		})
		select {
		case <-res.ready:
		case <-time.After(6 * time.Second):
			http.Error(w, "lookup timed out", http.StatusGatewayTimeout)
			return
		}
		if res.rec == nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(res.rec)
	})

	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "cyxchat")
	})

	return mux
}
