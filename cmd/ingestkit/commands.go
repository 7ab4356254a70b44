// cmd/ingestkit/commands.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/valpere/ingestkit/internal/browser"
	"github.com/valpere/ingestkit/internal/config"
	"github.com/valpere/ingestkit/internal/fetch"
	"github.com/valpere/ingestkit/internal/monitoring"
	"github.com/valpere/ingestkit/internal/optimizer"
	"github.com/valpere/ingestkit/internal/utils"
)

func loadConfig(configFile string) (*config.Config, error) {
	cfg, err := config.LoadFromFile(configFile)
	if err != nil {
		return nil, err
	}
	utils.ConfigureLogging(cfg.Log)
	return cfg, nil
}

// runFetch fetches urls and prints one JSON line per result.
func runFetch(w io.Writer, configFile string, urls []string, followLinks, render bool) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	svc, err := optimizer.New(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	enc := json.NewEncoder(w)
	if render {
		return renderAll(ctx, svc, cfg, urls, enc)
	}

	fetcher := fetch.New(svc, cfg.Fetch)

	var errs []error
	for _, res := range fetcher.FetchAll(ctx, urls) {
		line := map[string]interface{}{"url": res.URL}
		if res.Err != nil {
			line["error"] = res.Err.Error()
			line["code"] = utils.CodeOf(res.Err)
			errs = append(errs, res.Err)
		} else {
			line["page"] = res.Page
		}
		if err := enc.Encode(line); err != nil {
			return err
		}

		if followLinks && res.Page != nil {
			linked, err := fetcher.FetchLinked(ctx, res.Page, 20, 0)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			for _, p := range linked {
				if err := enc.Encode(map[string]interface{}{"url": p.URL, "parent": res.URL, "page": p}); err != nil {
					return err
				}
			}
		}
	}

	snap := svc.Metrics()
	utils.GetLogger("cli").WithFields(map[string]interface{}{
		"ops":       snap.Throughput.TotalOperations,
		"cache_hit": snap.Cache.HitRate,
		"width":     snap.Concurrency.LastWidth,
	}).Info("fetch finished")
	return utils.NewMultiError(errs...)
}

// renderAll renders urls through pooled Chrome sessions, one task per URL.
func renderAll(ctx context.Context, svc *optimizer.Service, cfg *config.Config, urls []string, enc *json.Encoder) error {
	bcfg := browser.DefaultConfig()
	if cfg.Fetch.UserAgent != "" {
		bcfg.UserAgent = cfg.Fetch.UserAgent
	}
	if cfg.Fetch.Timeout > 0 {
		bcfg.Timeout = cfg.Fetch.Timeout
	}
	factory := browser.SessionFactory(bcfg)

	tasks := make([]optimizer.Task, len(urls))
	names := make([]string, len(urls))
	for i, u := range urls {
		names[i] = browser.ServiceName
		tasks[i] = func(ctx context.Context) (any, error) {
			return browser.FetchRendered(ctx, svc.Pool(), factory, u)
		}
	}

	var errs []error
	for _, res := range svc.RunConcurrently(ctx, tasks, names) {
		line := map[string]interface{}{"url": urls[res.Index], "duration": res.Duration.String()}
		if res.Err != nil {
			line["error"] = res.Err.Error()
			line["code"] = utils.CodeOf(res.Err)
			errs = append(errs, res.Err)
		} else {
			line["html"] = res.Value
		}
		if err := enc.Encode(line); err != nil {
			return err
		}
	}
	return utils.NewMultiError(errs...)
}

// runValidate loads and validates a configuration file.
func runValidate(w io.Writer, configFile string, verbose bool) error {
	cfg, err := config.LoadFromFile(configFile)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "✓ Configuration file '%s' is valid\n", configFile)
	if verbose {
		fmt.Fprintf(w, "  Mode: %s\n", cfg.Mode)
		fmt.Fprintf(w, "  Cache: %d entries, ttl %s\n", cfg.Cache.MaxSize, cfg.Cache.DefaultTTL)
		fmt.Fprintf(w, "  Concurrency: %d-%d (hard limit %d)\n", cfg.Concurrency.Min, cfg.Concurrency.Max, cfg.Concurrency.HardLimit)
		fmt.Fprintf(w, "  Rate: %.1f/s x%.1f burst per %s\n", cfg.RateLimit.BaseRate, cfg.RateLimit.BurstMultiplier, cfg.RateLimit.Window)
		fmt.Fprintf(w, "  Memory threshold: %.0fMB\n", cfg.Memory.ThresholdMB)
	}
	return nil
}

// runTemplate writes the YAML configuration for mode.
func runTemplate(w io.Writer, mode string) error {
	return config.SaveToWriter(config.GenerateTemplate(mode), w)
}

// runServe serves health, stats and metrics until interrupted. Changes to
// the configuration file are applied without a restart.
func runServe(configFile, addr string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	logger := utils.GetLogger("server")

	recorder := monitoring.NewPrometheusRecorder(monitoring.MetricsConfig{
		Namespace:            cfg.Metrics.Namespace,
		EnableGoMetrics:      true,
		EnableProcessMetrics: true,
	})
	svc, err := optimizer.New(cfg, optimizer.WithRecorder(recorder))
	if err != nil {
		return err
	}
	defer svc.Close()
	if err := svc.Start(); err != nil {
		return err
	}

	watcher, err := config.NewWatcher(configFile)
	if err != nil {
		logger.Warnf("config hot reload disabled: %v", err)
	} else {
		defer watcher.Close()
		watcher.OnChange(func(next *config.Config) {
			if err := svc.Reconfigure(next); err != nil {
				logger.Errorf("rejected configuration change: %v", err)
			}
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := newServer(addr, svc, recorder, cfg.Metrics.Path)
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
