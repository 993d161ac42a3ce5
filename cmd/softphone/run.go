/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tejzpr/crm-softphone/calling"
	"github.com/tejzpr/crm-softphone/calllogs"
	"github.com/tejzpr/crm-softphone/config"
	"github.com/tejzpr/crm-softphone/crmsdk"
	"github.com/tejzpr/crm-softphone/logging"
	"github.com/tejzpr/crm-softphone/media"
	"github.com/tejzpr/crm-softphone/queues"
	"github.com/tejzpr/crm-softphone/scripts"
	"github.com/tejzpr/crm-softphone/sipua"
	"github.com/tejzpr/crm-softphone/tasks"
	"github.com/tejzpr/crm-softphone/tones"
	"github.com/tejzpr/crm-softphone/transfers"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the softphone console",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runSoftphone(ctx, cfg, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

// logNotifier shows notifications on the console
type logNotifier struct {
	out io.Writer
}

func (n logNotifier) Notify(title, body string) error {
	_, err := fmt.Fprintf(n.out, "! %s: %s\n", title, body)
	return err
}

func runSoftphone(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {
	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()
	log := logger.WithField("component", "softphone")

	var mic media.Microphone = media.SilenceMicrophone{}
	if cfg.Media.MicrophoneWAV != "" {
		mic = media.NewWAVMicrophone(cfg.Media.MicrophoneWAV)
	}
	output, closeOutput, err := openOutput(cfg.Media.OutputWAV)
	if err != nil {
		return err
	}
	defer closeOutput()
	toneOutput, closeToneOutput, err := openOutput(cfg.Media.ToneWAV)
	if err != nil {
		return err
	}
	defer closeToneOutput()

	factory, err := media.NewPeerFactory(cfg.Media.PeerConfig(), mic, logger)
	if err != nil {
		return err
	}
	adapter, err := sipua.NewAdapter(cfg.SIP.AdapterConfig(), func() (sipua.Peer, error) {
		peer, err := factory.NewPeer()
		if err != nil {
			return nil, err
		}
		return peer, nil
	}, logger)
	if err != nil {
		return err
	}
	defer adapter.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	deps := calling.Dependencies{
		Transport:  adapter,
		Media:      media.NewPipeline(media.NewSink(output, logger), logger),
		Tones:      tones.NewGenerator(toneOutput, cfg.Tones.GeneratorConfig(), logger),
		Microphone: mic,
		Transfers:  adapter,
		Notifier:   logNotifier{out: out},
		Metrics:    calling.NewMetrics(registry),
		Logger:     logger,
	}

	var queueClient *queues.Client
	if cfg.Backend.Token != "" {
		coreConfig := cfg.Backend.CoreConfig(cfg.SIP.UserAgent)
		coreConfig.Logger = logger
		core, err := crmsdk.NewClient(cfg.Backend.Token, coreConfig)
		if err != nil {
			return err
		}
		queueClient = queues.New(core, cfg.Backend.QueuesConfig())
		deps.CallLogs = calllogs.New(core, &calllogs.Config{Path: cfg.Backend.CallLogsPath})
		deps.Queues = queueClient
		deps.Scripts = scripts.New(core, &scripts.Config{TreePath: cfg.Backend.ScriptsPath})
		deps.Tasks = tasks.New(core, cfg.Backend.TasksConfig())
		if cfg.Backend.TransferVia == "backend" {
			deps.Transfers = transfers.New(core, &transfers.Config{Path: cfg.Backend.TransferPath})
		}
	} else {
		log.Warn("No backend token configured, CRM features are disabled")
	}

	ctrl, err := calling.NewController(deps, cfg.Controller.CallingConfig())
	if err != nil {
		return err
	}
	defer ctrl.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := ctrl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("Event pump stopped")
		}
	}()
	if queueClient != nil {
		go watchQueue(ctx, queueClient.Stream(logger), ctrl, log)
	}
	if cfg.Metrics.Enabled {
		srv := serveMetrics(cfg.Metrics, registry, log)
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	con := newConsole(ctrl, out, cfg.SIP.Identity, cfg.SIP.Credential)
	ctrl.Subscribe(con.onSnapshot)
	if cfg.SIP.Identity != "" {
		ctrl.Connect(ctx, cfg.SIP.Identity, cfg.SIP.Credential)
	}

	err = con.run(ctx, in)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func watchQueue(ctx context.Context, stream *queues.Stream, ctrl *calling.Controller, log logrus.FieldLogger) {
	if err := stream.Watch(ctx, ctrl.ApplyQueueState); err != nil && ctx.Err() == nil {
		log.WithError(err).Warn("Queue stream stopped")
	}
}

func serveMetrics(cfg config.MetricsConfig, registry *prometheus.Registry, log logrus.FieldLogger) *http.Server {
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:         cfg.Listen,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	log.WithField("addr", cfg.Listen).Info("Starting metrics server")
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("Metrics server error")
		}
	}()
	return srv
}

// openOutput opens a WAV recording at path, or discards audio when path
// is empty. Remote audio and tones each get their own.
func openOutput(path string) (media.Output, func(), error) {
	if path == "" {
		return media.DiscardOutput{}, func() {}, nil
	}
	out, err := media.NewWAVFileOutput(path)
	if err != nil {
		return nil, nil, err
	}
	return out, func() { _ = out.Close() }, nil
}
