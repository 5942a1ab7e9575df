package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nugget/neoc/internal/api"
	"github.com/nugget/neoc/internal/buildinfo"
	"github.com/nugget/neoc/internal/connwatch"
	"github.com/nugget/neoc/internal/mqtt"
)

// runServe runs the loop behind the HTTP/WebSocket server and, when a
// broker is configured, the MQTT mirror. It returns after the shutdown
// keyword arrives on any input channel or the process is signalled.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stdout, cfg)
	logger.Info("starting NeoC", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"ollama_url", cfg.Models.OllamaURL,
		"directives_dir", cfg.DirectivesDir,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	// --- Connection health ---
	// Every provider a role depends on, plus the broker below, is
	// probed in the background and reported by /healthz.
	connMgr := connwatch.NewManager(logger)
	defer connMgr.Stop()
	for name, client := range rt.providers {
		connMgr.Watch(ctx, name, client.Ping, connwatch.DefaultBackoffConfig())
	}

	// --- MQTT mirror ---
	var mqttPub *mqtt.Publisher
	if cfg.MQTT.Configured() {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("mqtt instance id: %w", err)
		}
		mqttPub = mqtt.New(cfg.MQTT, instanceID, rt.input, logger)
		sub := rt.bus.Subscribe(256)
		go func() {
			defer rt.bus.Unsubscribe(sub)
			if err := mqttPub.Start(ctx, sub); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()
		connMgr.Watch(ctx, "mqtt", func(pCtx context.Context) error {
			awaitCtx, awaitCancel := context.WithTimeout(pCtx, 2*time.Second)
			defer awaitCancel()
			return mqttPub.AwaitConnection(awaitCtx)
		}, connwatch.DefaultBackoffConfig())
		logger.Info("mqtt mirror enabled",
			"broker", cfg.MQTT.Broker,
			"events_topic", mqtt.EventsTopic(cfg.MQTT.TopicPrefix),
			"input_topic", mqtt.InputTopic(cfg.MQTT.TopicPrefix),
		)
	} else {
		logger.Info("mqtt mirror disabled (not configured)")
	}

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, api.Deps{
		Input:  rt.input,
		Bus:    rt.bus,
		Status: rt.loop,
		Memory: rt.memory,
		Health: connMgr,
		Usage:  rt.usage,
		Logger: logger,
	})

	pumped := rt.start(ctx, logger)

	// The shutdown keyword ends the loop without a signal; treat it
	// like one so the hosts wind down too.
	go func() {
		select {
		case <-rt.loop.Done():
			logger.Info("thinking loop finished, stopping hosts")
			cancel()
		case <-ctx.Done():
		}
	}()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		// Let the final flush reach WebSocket and MQTT subscribers
		// before they are torn down.
		rt.loop.Stop()
		<-pumped

		if mqttPub != nil {
			if err := mqttPub.Stop(shutdownCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}
		_ = server.Shutdown(shutdownCtx)
	}()

	err = server.Start(ctx)
	failed := ctx.Err() == nil
	cancel()
	rt.loop.Stop()
	<-pumped

	if err != nil && !errors.Is(err, http.ErrServerClosed) && failed {
		return fmt.Errorf("server failed: %w", err)
	}
	logger.Info("NeoC stopped")
	return nil
}
