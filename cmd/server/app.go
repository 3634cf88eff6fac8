package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"gas-monitor/internal/alert"
	"gas-monitor/internal/database"
	"gas-monitor/internal/feed"
	"gas-monitor/internal/metrics"
	"gas-monitor/internal/ml"
	"gas-monitor/internal/models"
	"gas-monitor/internal/mqtt"
	"gas-monitor/internal/services"
	"gas-monitor/pkg/config"
)

// app holds the wired components. Workers are started by start and every
// closer runs on close, in reverse order. Cancel the workers' context and
// wait before close so queued writes reach open connections.
type app struct {
	cfg        *config.Config
	log        *logrus.Logger
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	classifier ml.Classifier
	alerts     alert.Sink
	manual     *services.ManualPredictor

	mqttClient  *mqtt.Client
	publisher   *mqtt.EventPublisher
	asyncMailer *alert.AsyncMailer
	clickhouse *database.ClickHouseDB
	recorders  []services.NamedRecorder

	workers []func(ctx context.Context)
	running sync.WaitGroup
	closers []func()
}

// buildApp wires classification, alerting and the optional MQTT connection.
// The loop and its stores are added by buildLoop.
func buildApp(cfg *config.Config, logger *logrus.Logger) (*app, error) {
	a := &app{cfg: cfg, log: logger, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.registry)
	a.classifier = loadClassifier(cfg.ModelPath, logger)

	if cfg.MQTTBroker != "" {
		logger.Info("Connecting to MQTT broker...")
		client, err := mqtt.NewClient(mqtt.ClientConfig{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
		}, logger)
		if err != nil {
			if cfg.FeedSource == "mqtt" {
				return nil, fmt.Errorf("failed to initialize MQTT client: %w", err)
			}
			logger.WithError(err).Warn("MQTT unavailable, continuing without event stream")
		} else {
			a.mqttClient = client
			a.closers = append(a.closers, client.Close)
			a.publisher = mqtt.NewPublisher(client.GetNativeClient(), mqtt.PublisherConfig{
				DeviceID:    cfg.DeviceID,
				EventsTopic: cfg.MQTTTopicEvents,
				AlertsTopic: cfg.MQTTTopicAlerts,
			}, logger)
		}
	}

	alerts, err := a.buildAlerts()
	if err != nil {
		a.close()
		return nil, err
	}
	a.alerts = alerts
	a.manual = services.NewManualPredictor(a.classifier, a.alerts, a.metrics, logger)
	return a, nil
}

func (a *app) buildAlerts() (alert.Sink, error) {
	var beeper alert.Beeper = alert.NopBeeper{}
	if a.cfg.BeepEnabled {
		beeper = alert.SystemBeeper{}
	}

	var mailer alert.Mailer
	if a.cfg.MailEnabled() {
		smtp, err := alert.NewSMTPMailer(alert.SMTPConfig{
			Host:     a.cfg.SMTPHost,
			Port:     a.cfg.SMTPPort,
			Username: a.cfg.SMTPUsername,
			Password: a.cfg.SMTPPassword,
			From:     a.cfg.MailFrom,
			To:       a.cfg.MailTo,
			Timeout:  a.cfg.SMTPTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to configure mailer: %w", err)
		}
		mailer = smtp
		if a.cfg.MailAsync {
			async := alert.NewAsyncMailer(smtp, 16, a.log)
			a.workers = append(a.workers, async.Start)
			a.asyncMailer = async
			mailer = async
		}
	} else {
		a.log.Info("SMTP not configured, danger emails disabled")
	}

	var publisher alert.Publisher
	if a.publisher != nil {
		publisher = a.publisher
	}
	return alert.NewNotifier(beeper, mailer, publisher, a.log), nil
}

// buildLoop creates the feed client, the event stores and the prediction loop
func (a *app) buildLoop(ctx context.Context, presenter services.Presenter) (*services.PredictionLoop, error) {
	source, err := a.buildFeed()
	if err != nil {
		return nil, err
	}
	if err := a.buildStores(ctx); err != nil {
		return nil, err
	}

	var recorders []services.Recorder
	if len(a.recorders) > 0 {
		svc := services.NewRecorderService(a.recorders, services.RecorderServiceConfig{
			ChannelSize:    a.cfg.RecordQueueSize,
			EnqueueTimeout: 100 * time.Millisecond,
			WriteTimeout:   5 * time.Second,
		}, a.metrics, a.log)
		a.workers = append(a.workers, svc.Start)
		recorders = append(recorders, svc)
	}

	loop, err := services.NewPredictionLoop(services.LoopDeps{
		Feed:       source,
		Classifier: a.classifier,
		Alerts:     a.alerts,
		Presenter:  presenter,
		Recorders:  recorders,
		Metrics:    a.metrics,
		Logger:     a.log,
	}, a.loopConfig())
	if err != nil {
		return nil, err
	}

	if a.asyncMailer != nil {
		a.asyncMailer.OnError(mailFailureReporter(presenter, a.metrics))
	}

	if a.clickhouse != nil && a.cfg.RestoreHistory {
		events, err := a.clickhouse.RecentEvents(ctx, a.cfg.HistorySize)
		if err != nil {
			a.log.WithError(err).Warn("Failed to restore history from ClickHouse")
		} else {
			loop.Restore(events)
			a.log.WithField("events", len(events)).Info("History restored from ClickHouse")
		}
	}
	return loop, nil
}

// loopConfig applies the configured timings on top of the loop defaults.
// Retry intervals keep their defaults.
func (a *app) loopConfig() services.LoopConfig {
	lc := services.DefaultLoopConfig()
	lc.DedupInterval = a.cfg.DedupInterval
	lc.CycleInterval = a.cfg.CycleInterval
	lc.FetchMaxRetries = a.cfg.FetchMaxRetries
	if a.cfg.HistorySize > 0 {
		lc.HistorySize = a.cfg.HistorySize
	}
	return lc
}

func (a *app) buildFeed() (feed.Client, error) {
	switch a.cfg.FeedSource {
	case "thingspeak":
		return feed.NewThingSpeakClient(feed.Config{
			BaseURL:   a.cfg.ThingSpeakBaseURL,
			ChannelID: a.cfg.ThingSpeakChannelID,
			APIKey:    a.cfg.ThingSpeakReadAPIKey,
			Timeout:   a.cfg.FeedTimeout,
			RateLimit: a.cfg.FeedRateLimit,
		}, nil)
	case "mqtt":
		if a.mqttClient == nil {
			return nil, errors.New("FEED_SOURCE=mqtt requires MQTT_BROKER")
		}
		sub := mqtt.NewSubscriber(a.mqttClient.GetNativeClient(), mqtt.SubscriberConfig{
			ReadingsTopic: a.cfg.MQTTTopicReadings,
			WaitTimeout:   a.cfg.FeedTimeout,
		}, a.log)
		if err := sub.Subscribe(); err != nil {
			return nil, fmt.Errorf("failed to subscribe to readings: %w", err)
		}
		return sub, nil
	default:
		return nil, fmt.Errorf("unknown FEED_SOURCE %q", a.cfg.FeedSource)
	}
}

func (a *app) buildStores(ctx context.Context) error {
	switch a.cfg.StoreBackend {
	case "", "none":
	case "clickhouse":
		db, err := database.NewClickHouseDB(ctx, database.ClickHouseConfig{
			Addr:     a.cfg.ClickHouseAddr,
			Database: a.cfg.ClickHouseDB,
			Username: a.cfg.ClickHouseUser,
			Password: a.cfg.ClickHousePass,
			DeviceID: a.cfg.DeviceID,
		}, a.log)
		if err != nil {
			return fmt.Errorf("failed to initialize ClickHouse: %w", err)
		}
		a.clickhouse = db
		a.closers = append(a.closers, func() { db.Close() })
		a.recorders = append(a.recorders, services.NamedRecorder{Name: "clickhouse", Recorder: db})
	case "influx":
		store, err := database.NewInfluxStore(ctx, database.InfluxConfig{
			URL:      a.cfg.InfluxDBURL,
			Token:    a.cfg.InfluxDBToken,
			Org:      a.cfg.InfluxDBOrg,
			Bucket:   a.cfg.InfluxDBBucket,
			DeviceID: a.cfg.DeviceID,
		}, a.log)
		if err != nil {
			return fmt.Errorf("failed to initialize InfluxDB: %w", err)
		}
		a.closers = append(a.closers, func() { store.Close() })
		a.recorders = append(a.recorders, services.NamedRecorder{Name: "influx", Recorder: store})
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", a.cfg.StoreBackend)
	}

	if a.publisher != nil {
		a.recorders = append(a.recorders, services.NamedRecorder{Name: "mqtt", Recorder: a.publisher})
	}
	return nil
}

func (a *app) start(ctx context.Context) {
	for _, w := range a.workers {
		a.running.Add(1)
		go func() {
			defer a.running.Done()
			w(ctx)
		}()
	}
}

// wait blocks until every worker has returned. Workers return after their
// context is cancelled and their queues are flushed.
func (a *app) wait() {
	a.running.Wait()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// mailFailureReporter surfaces background mail failures the same way the loop
// reports synchronous alert failures
func mailFailureReporter(presenter services.Presenter, m *metrics.Metrics) func(models.ClassifiedEvent, error) {
	return func(ev models.ClassifiedEvent, err error) {
		m.NotifyFailure()
		if presenter == nil {
			return
		}
		presenter.Report(services.Notice{
			Severity: services.SeverityWarning,
			Message:  fmt.Sprintf("Alert for entry %s failed: %v: %v", ev.EntryID, alert.ErrMail, err),
			Time:     time.Now(),
		})
	}
}

// loadClassifier loads the model file, falling back to fixed gas thresholds
func loadClassifier(path string, logger logrus.FieldLogger) ml.Classifier {
	if _, err := os.Stat(path); err != nil {
		logger.WithField("path", path).Warn("Model file not found, using threshold classifier")
		return ml.DefaultThresholds()
	}
	p, err := ml.NewPredictor(path)
	if err != nil {
		logger.WithError(err).Warn("Failed to load model, using threshold classifier")
		return ml.DefaultThresholds()
	}
	logger.WithFields(logrus.Fields{"path": path, "version": p.Version()}).Info("Model loaded")
	return p
}
