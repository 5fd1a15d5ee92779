package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	catman "github.com/shanexu/catman-election"
	"github.com/shanexu/catman-election/config"
	"github.com/shanexu/catman-election/consul"
	"github.com/shanexu/catman-election/etcdv3"
	"github.com/shanexu/catman-election/status"
	"github.com/shanexu/catman-election/utils"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "catman-elector: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logCfg := utils.DefaultLogConfig("catman-elector")
	logCfg.Level = cfg.LogLevel
	logCfg.Encoding = cfg.LogEncoding
	log, err := utils.NewLogger(logCfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	coord, err := dial(cfg, log)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	elector := catman.NewElector(coord, cfg.Namespace,
		catman.WithData([]byte(nodeName(cfg))),
		catman.WithLogger(log),
		catman.WithMetrics(catman.NewMetrics(reg)),
		catman.WithListener(catman.LeaderElectionAwareFunc(func(event catman.ElectionEvent) {
			switch event {
			case catman.ElectionEventElected:
				fmt.Println("I am the leader!")
			case catman.ElectionEventWatching:
				fmt.Println("I am not the leader!")
			}
		})),
	)

	if cfg.StatusAddr != "" {
		srv := status.NewServer(elector, reg)
		go func() {
			if err := srv.Start(cfg.StatusAddr); err != nil && err != http.ErrServerClosed {
				log.Errorf("status server: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	return elect(ctx, elector, coord, log, os.Stdout)
}

// elect starts the election and waits for the session to end. The exit
// message is only printed for a session that got past start.
func elect(ctx context.Context, elector *catman.Elector, coord catman.Coordinator, log utils.Logger, out io.Writer) error {
	if err := elector.Start(); err != nil {
		if cerr := coord.Close(); cerr != nil {
			log.Warnf("close coordinator: %v", cerr)
		}
		return fmt.Errorf("start election: %w", err)
	}
	err := elector.Await(ctx)
	fmt.Fprintln(out, "Disconnected from coordination service, exiting application...")
	return err
}

func dial(cfg *config.Config, log utils.Logger) (catman.Coordinator, error) {
	log.Infof("using %s on %v", cfg.Backend, cfg.Servers)
	switch cfg.Backend {
	case config.BackendEtcd:
		return etcdv3.Dial(cfg.Servers, cfg.SessionTimeout,
			etcdv3.WithCandidatePrefix(cfg.CandidatePrefix),
			etcdv3.WithLogger(log),
		)
	case config.BackendConsul:
		return consul.Dial(cfg.Servers[0], cfg.SessionTimeout,
			consul.WithCandidatePrefix(cfg.CandidatePrefix),
			consul.WithLogger(log),
		)
	default:
		cm, err := catman.Dial(cfg.Servers, cfg.SessionTimeout,
			catman.WithCandidatePrefix(cfg.CandidatePrefix),
			catman.WithCatManLogger(log),
		)
		if err != nil {
			return nil, err
		}
		if err := cm.EnsureNamespace(cfg.Namespace); err != nil {
			cm.Close()
			return nil, fmt.Errorf("ensure namespace %s: %w", cfg.Namespace, err)
		}
		return cm, nil
	}
}

// nodeName identifies this process in its candidate entry.
func nodeName(cfg *config.Config) string {
	if cfg.NodeName != "" {
		return cfg.NodeName
	}
	if hostname, err := os.Hostname(); err == nil {
		return hostname
	}
	return "elector-" + uuid.New().String()
}
