// Command dnsstub runs the local DNS stub resolver: a loopback-bound
// front end that accepts client queries, forwards them through a
// pluggable resolver, and replies with a RFC 1035/6891-conformant
// answer it assembled and finalized itself.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/jroosing/stubresolve/internal/config"
	"github.com/jroosing/stubresolve/internal/diag"
	"github.com/jroosing/stubresolve/internal/diag/handlers"
	"github.com/jroosing/stubresolve/internal/diag/models"
	"github.com/jroosing/stubresolve/internal/logging"
	"github.com/jroosing/stubresolve/internal/machineid"
	"github.com/jroosing/stubresolve/internal/resolver"
	"github.com/jroosing/stubresolve/internal/stub"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// cliFlags holds parsed command-line flag values. These override the
// config file and environment, matching the teacher's flag-beats-file
// precedence.
type cliFlags struct {
	configPath string
	host       string
	port       int
	upstream   string
	workers    int
	jsonLogs   bool
	debug      bool
	diag       bool
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "", "Path to YAML config file")
	flag.StringVar(&f.host, "host", "", "Override primary listener bind address")
	flag.IntVar(&f.port, "port", 0, "Override primary listener bind port")
	flag.StringVar(&f.upstream, "upstream", "", "Override upstream resolver (ip:port)")
	flag.IntVar(&f.workers, "workers", -1, "Clamp worker goroutines per socket (-1 means auto)")
	flag.BoolVar(&f.jsonLogs, "json-logs", false, "Enable JSON structured logging")
	flag.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&f.diag, "diag", false, "Enable the diagnostics HTTP API")
	flag.Parse()
	return f
}

func applyCLIOverrides(cfg *config.Config, f cliFlags) {
	if f.host != "" {
		cfg.Listen.PrimaryAddress = f.host
	}
	if f.port != 0 {
		cfg.Listen.PrimaryPort = f.port
	}
	if f.upstream != "" {
		cfg.Upstream.Server = f.upstream
	}
	if f.workers >= 0 {
		cfg.Listen.Workers = config.WorkerSetting{Mode: config.WorkersFixed, Value: f.workers}
	}
	if f.jsonLogs {
		cfg.Logging.Structured = true
		cfg.Logging.StructuredFormat = "json"
	}
	if f.debug {
		cfg.Logging.Level = "DEBUG"
	}
	if f.diag {
		cfg.Diag.Enabled = true
	}
}

func run() error {
	flags := parseFlags()

	cfgPath := config.ResolveConfigPath(flags.configPath)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyCLIOverrides(cfg, flags)

	logger := logging.Configure(logging.Config{
		Level:            cfg.Logging.Level,
		Structured:       cfg.Logging.Structured,
		StructuredFormat: cfg.Logging.StructuredFormat,
		IncludePID:       cfg.Logging.IncludePID,
	})

	logger.Info("stub resolver starting",
		"primary", net.JoinHostPort(cfg.Listen.PrimaryAddress, strconv.Itoa(cfg.Listen.PrimaryPort)),
		"upstream", cfg.Upstream.Server,
		"workers", cfg.Listen.Workers.String(),
		"extra_listeners", len(cfg.Listen.ExtraListeners),
	)

	limiter := stub.NewRateLimiter(stub.RateLimitSettings{
		CleanupSeconds:   cfg.RateLimit.CleanupSeconds,
		MaxIPEntries:     cfg.RateLimit.MaxIPEntries,
		MaxPrefixEntries: cfg.RateLimit.MaxPrefixEntries,
		GlobalQPS:        cfg.RateLimit.GlobalQPS,
		GlobalBurst:      cfg.RateLimit.GlobalBurst,
		PrefixQPS:        cfg.RateLimit.PrefixQPS,
		PrefixBurst:      cfg.RateLimit.PrefixBurst,
		IPQPS:            cfg.RateLimit.IPQPS,
		IPBurst:          cfg.RateLimit.IPBurst,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	res := resolver.NewForwarding(cfg.Upstream.Server)
	if d, derr := time.ParseDuration(cfg.Upstream.UDPTimeout); derr == nil && d > 0 {
		res.UDPTimeout = d
	}
	if d, derr := time.ParseDuration(cfg.Upstream.TCPTimeout); derr == nil && d > 0 {
		res.TCPTimeout = d
	}

	dispatcher := stub.NewDispatcher(res, logger)
	dispatcher.Stats = stub.NewStats()

	if cfg.NSID.Enabled {
		salt, serr := nsidSalt(cfg.NSID.Salt)
		if serr != nil {
			logger.Warn("nsid salt invalid, disabling nsid", "err", serr)
		} else if err := dispatcher.SetNSID(machineid.Gopsutil{}, salt); err != nil {
			logger.Warn("nsid unavailable, disabling nsid", "err", err)
		}
	}

	var wg sync.WaitGroup
	runListener := func(kind stub.ListenerKind, network, addr string) {
		if network == "udp" || network == "both" {
			l := &stub.UDPListener{Logger: logger, Dispatcher: dispatcher, Limiter: limiter, Kind: kind}
			if cfg.Listen.Workers.Mode == config.WorkersFixed {
				l.WorkersPerSocket = cfg.Listen.Workers.Value
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := l.Run(ctx, addr); err != nil {
					logger.Error("udp listener stopped", "addr", addr, "err", err)
				}
			}()
		}
		if network == "tcp" || network == "both" {
			l := &stub.TCPListener{Logger: logger, Dispatcher: dispatcher, Kind: kind}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := l.Run(ctx, addr); err != nil {
					logger.Error("tcp listener stopped", "addr", addr, "err", err)
				}
			}()
		}
	}

	primaryAddr := net.JoinHostPort(cfg.Listen.PrimaryAddress, strconv.Itoa(cfg.Listen.PrimaryPort))
	runListener(stub.ListenerPrimary, "both", primaryAddr)

	listenerInfo := []models.ListenerInfo{
		{Kind: "primary", Network: "udp", Address: primaryAddr},
		{Kind: "primary", Network: "tcp", Address: primaryAddr},
	}
	for _, extra := range cfg.Listen.ExtraListeners {
		addr := net.JoinHostPort(extra.Address, strconv.Itoa(extra.Port))
		runListener(stub.ListenerExtra, extra.Network, addr)
		if extra.Network == "udp" || extra.Network == "both" {
			listenerInfo = append(listenerInfo, models.ListenerInfo{Kind: "extra", Network: "udp", Address: addr})
		}
		if extra.Network == "tcp" || extra.Network == "both" {
			listenerInfo = append(listenerInfo, models.ListenerInfo{Kind: "extra", Network: "tcp", Address: addr})
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx)
	}()

	var diagSrv *diag.Server
	if cfg.Diag.Enabled {
		hostID := dispatcher.NSIDValue
		h := handlers.New(hostID, func() stub.Snapshot { return dispatcher.Stats.Snapshot() }, func() []models.ListenerInfo { return listenerInfo })
		diagSrv = diag.New(&cfg.Diag, h, logger)

		logger.Info("diagnostics API starting", "addr", diagSrv.Addr())
		go func() {
			serveErr := diagSrv.ListenAndServe()
			if serveErr == nil || errors.Is(serveErr, http.ErrServerClosed) {
				return
			}
			logger.Error("diagnostics API error", "err", serveErr)
			cancel()
		}()
	}

	<-ctx.Done()
	logger.Info("stub resolver shutting down")

	if diagSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = diagSrv.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	wg.Wait()
	logger.Info("stub resolver stopped")
	return nil
}

// nsidSalt decodes the configured hex salt, or generates a random one
// when unset. A random salt still satisfies the purpose (distinct NSIDs
// per deployment) but won't survive a restart, so operators who want a
// stable NSID across restarts must set nsid.salt explicitly.
func nsidSalt(hexSalt string) ([16]byte, error) {
	var salt [16]byte
	if hexSalt == "" {
		if _, err := rand.Read(salt[:]); err != nil {
			return salt, err
		}
		return salt, nil
	}
	decoded, err := hex.DecodeString(hexSalt)
	if err != nil {
		return salt, fmt.Errorf("nsid.salt: invalid hex: %w", err)
	}
	if len(decoded) != 16 {
		return salt, fmt.Errorf("nsid.salt: must decode to 16 bytes, got %d", len(decoded))
	}
	copy(salt[:], decoded)
	return salt, nil
}
