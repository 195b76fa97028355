// Command provchaind is the provenance chain daemon: it ingests artifacts
// dropped into a spool directory by the external capture pipeline, appends
// them to the chain, and serves the status API.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/witnesscam/provchain"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to YAML configuration")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *debug {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg := provchain.DefaultConfig()
	if _, err := os.Stat(*configPath); err == nil {
		loaded, err := provchain.LoadConfig(*configPath)
		if err != nil {
			log.WithError(err).Fatal("load configuration")
		}
		cfg = loaded
	} else {
		log.WithField("path", *configPath).Info("no config file, using defaults")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("daemon error")
	}
}

func run(ctx context.Context, cfg provchain.Config, log *logrus.Logger) error {
	for _, dir := range []string{cfg.DataDir, cfg.SpoolDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	keys := provchain.NewKeyManager(cfg.KeysDir)
	pair, err := keys.EnsureKeypair()
	if err != nil {
		return err
	}

	store, err := cfg.OpenStore()
	if err != nil {
		return err
	}
	defer store.Close()

	frames, err := provchain.NewDirArtifacts(cfg.ArtifactsDir())
	if err != nil {
		return err
	}

	notifier := provchain.MultiNotifier{&provchain.LogNotifier{Log: log}}
	if cfg.WebhookURL != "" {
		notifier = append(notifier, provchain.NewWebhookNotifier(cfg.WebhookURL, log))
	}

	builder, err := provchain.NewBuilder(store, frames, pair.Private, provchain.BuilderConfig{Notifier: notifier})
	if err != nil {
		return err
	}
	verifier, err := provchain.NewVerifier(store, frames, pair.Public, provchain.VerifierConfig{Notifier: notifier})
	if err != nil {
		return err
	}

	length, err := store.Len()
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"store":       cfg.StoreBackend,
		"chainLength": length,
		"spoolDir":    cfg.SpoolDir,
		"listenAddr":  cfg.ListenAddr,
	}).Info("starting provenance daemon")

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           provchain.NewServer(store, verifier, frames, log).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	go ingestLoop(ctx, cfg, builder, log)
	if cfg.VerifyInterval() > 0 {
		go verifyLoop(ctx, cfg, verifier, log)
	}

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// ingestLoop polls the spool directory and appends every dropped artifact to
// the chain, oldest name first. Files are removed from the spool only after a
// successful append.
func ingestLoop(ctx context.Context, cfg provchain.Config, builder *provchain.Builder, log *logrus.Logger) {
	ticker := time.NewTicker(cfg.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		names, err := spoolFiles(cfg.SpoolDir)
		if err != nil {
			log.WithError(err).Error("scan spool dir")
			continue
		}
		for _, name := range names {
			path := filepath.Join(cfg.SpoolDir, name)
			data, err := os.ReadFile(path)
			if err != nil {
				log.WithError(err).WithField("file", name).Error("read spool file")
				continue
			}
			entry, err := builder.Ingest(data, name)
			if err != nil {
				log.WithError(err).WithField("file", name).Error("ingest artifact")
				continue
			}
			if err := os.Remove(path); err != nil {
				log.WithError(err).WithField("file", name).Warn("remove spool file")
			}
			log.WithFields(logrus.Fields{
				"index": entry.Index,
				"file":  name,
			}).Debug("ingested artifact")
		}
	}
}

func verifyLoop(ctx context.Context, cfg provchain.Config, verifier *provchain.Verifier, log *logrus.Logger) {
	ticker := time.NewTicker(cfg.VerifyInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if _, err := verifier.Verify(ctx, 0); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("periodic verification")
		}
	}
}

func spoolFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
