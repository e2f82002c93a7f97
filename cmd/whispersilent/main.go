package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/marvinmvns/whispersilent-sub000/pkg/aggregator"
	"github.com/marvinmvns/whispersilent-sub000/pkg/api"
	"github.com/marvinmvns/whispersilent-sub000/pkg/audio"
	"github.com/marvinmvns/whispersilent-sub000/pkg/config"
	"github.com/marvinmvns/whispersilent-sub000/pkg/connectivity"
	httpserver "github.com/marvinmvns/whispersilent-sub000/pkg/http"
	"github.com/marvinmvns/whispersilent-sub000/pkg/messaging"
	"github.com/marvinmvns/whispersilent-sub000/pkg/metrics"
	"github.com/marvinmvns/whispersilent-sub000/pkg/pipeline"
	"github.com/marvinmvns/whispersilent-sub000/pkg/realtime"
	"github.com/marvinmvns/whispersilent-sub000/pkg/stt"
	"github.com/marvinmvns/whispersilent-sub000/pkg/transcript"
	"github.com/marvinmvns/whispersilent-sub000/pkg/util"
)

const shutdownStageTimeout = 15 * time.Second

// blockDispatcher delivers finalized aggregation blocks through the same
// ingestion API client that carries individual transcriptions.
type blockDispatcher struct {
	client *api.Client
}

func (d *blockDispatcher) SendBlock(block *aggregator.Block) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return d.client.Send(ctx, block.FullText, block.EndTime)
}

func main() {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	cfg.ApplyLogging(logger)
	metrics.Init(logger)

	capture, err := audio.NewCapture(logger, cfg.Audio)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize audio capture")
	}
	defer capture.Close()

	primary, err := stt.NewEngine(cfg.STT.PrimaryEngine, logger, cfg)
	if err != nil {
		logger.WithError(err).WithField("engine", cfg.STT.PrimaryEngine).Fatal("Failed to initialize primary transcription engine")
	}

	var fallback stt.Engine
	if cfg.STT.EnableFallback && cfg.STT.FallbackEngine != "" && cfg.STT.FallbackEngine != cfg.STT.PrimaryEngine {
		fallback, err = stt.NewEngine(cfg.STT.FallbackEngine, logger, cfg)
		if err != nil {
			logger.WithError(err).WithField("engine", cfg.STT.FallbackEngine).Warn("Fallback engine unavailable, continuing without it")
		}
	}
	transcriber := stt.NewFallbackTranscriber(logger, primary, fallback)

	monitor := connectivity.NewMonitor(logger, cfg.Connectivity)
	monitor.OnChange(transcriber.OnConnectivityChange)
	monitor.Start()

	store := transcript.NewStore(logger, cfg.API.MaxRecords)

	deviceName := cfg.API.DeviceName
	if dev := capture.Device(); dev != nil && deviceName == "" {
		deviceName = dev.Name
	}
	apiClient := api.NewClient(logger, cfg.API, api.Metadata{
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
		Model:      cfg.STT.PrimaryEngine,
		Device:     deviceName,
	})

	var aggDispatcher aggregator.Dispatcher
	if apiClient.Enabled() {
		aggDispatcher = &blockDispatcher{client: apiClient}
	}
	agg := aggregator.New(logger, cfg.Aggregator, aggDispatcher)
	agg.Start()

	hub := realtime.NewHub(logger, cfg.Realtime)
	hub.Start()

	health := pipeline.NewHealthMonitor(pipeline.GopsutilSampler{})
	pipe := pipeline.New(logger, cfg, capture, transcriber, store, agg, hub, apiClient, health)

	publisher := messaging.NewPublisher(logger, cfg.AMQP)
	if publisher.Enabled() {
		if err := publisher.Connect(); err != nil {
			logger.WithError(err).Warn("AMQP connection failed, transcription mirroring disabled")
		} else {
			pipe.AddListener(publisher)
		}
	}

	server := httpserver.NewServer(logger, cfg, pipe, health, store, agg, hub, transcriber)
	if cfg.HTTP.Enabled {
		server.Start()
	}

	if err := pipe.Start(); err != nil {
		logger.WithError(err).Fatal("Failed to start transcription pipeline")
	}
	logger.WithFields(logrus.Fields{
		"engine":   transcriber.CurrentEngine(),
		"device":   deviceName,
		"http":     cfg.HTTP.Enabled,
		"api_send": apiClient.Enabled(),
	}).Info("whispersilent started")

	shutdown := util.NewShutdownManager(logger, shutdownStageTimeout)
	shutdown.RegisterFunc("websocket hub", hub.Stop, 10)
	if cfg.HTTP.Enabled {
		shutdown.Register(util.ShutdownStage{Name: "http server", Shutdown: server.Shutdown, Priority: 20})
	}
	shutdown.RegisterFunc("aggregator", agg.Stop, 30)
	shutdown.RegisterFunc("pipeline", pipe.Stop, 40)
	shutdown.RegisterFunc("connectivity monitor", monitor.Stop, 50)
	if publisher.Enabled() {
		shutdown.RegisterFunc("amqp publisher", publisher.Close, 60)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.WithField("signal", sig.String()).Info("Shutdown signal received")

	if err := shutdown.Shutdown(context.Background()); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
		os.Exit(1)
	}
	logger.Info("whispersilent stopped")
}
