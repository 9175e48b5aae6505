package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"siprec-bridge/pkg/call"
	"siprec-bridge/pkg/config"
	http_server "siprec-bridge/pkg/http"
	"siprec-bridge/pkg/notify"
	"siprec-bridge/pkg/session"
	"siprec-bridge/pkg/sip"
)

var logger = logrus.New()

func main() {
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	cfg.ApplyLogLevel(logger)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	registry := session.NewRegistry(logger, cfg.MaxSessions)
	scheduler := session.NewExpiryScheduler(logger, registry)

	broker := notify.NewBroker(logger, registry, cfg.EventQueueSize)
	if cfg.AMQPUrl != "" {
		sink := notify.NewAMQPSink(logger, cfg.AMQPUrl, cfg.AMQPExchange)
		if err := sink.Connect(); err != nil {
			logger.WithError(err).Warn("AMQP sink unavailable, continuing without it")
		} else {
			broker.AddSink(sink)
			defer sink.Close()
		}
	}
	broker.Start()
	defer broker.Stop()

	policy := call.ParsePolicy(cfg.AnswerPolicy)

	var engine http_server.Engine
	var sipServer *sip.Server

	if cfg.ResponderEnabled {
		// Fallback UAS: no full signaling engine, just the stateless
		// datagram responder.
		responder := sip.NewResponder(logger, cfg.MediaIP, cfg.RTPPort)
		if err := responder.Listen(cfg.ResponderListenAddr); err != nil {
			logger.WithError(err).Fatal("Failed to bind fallback UAS endpoint")
		}
		go responder.Serve()
		defer responder.Close()
		engine = responder
	} else {
		srv, err := sip.NewServer(logger, cfg.MediaIP, cfg.RTPPort)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize signaling engine")
		}
		sipServer = srv
		handler := call.NewHandler(logger, registry, broker, scheduler, sipServer, policy, cfg.RetentionWindow)
		sipServer.SetHandler(handler)

		go func() {
			if err := sipServer.ListenAndServe(rootCtx, cfg.SIPTransport, cfg.SIPListenAddr); err != nil {
				logger.WithError(err).Fatal("Signaling engine terminated")
			}
		}()
		defer sipServer.Shutdown()
		engine = sipServer
	}

	httpServer := http_server.NewServer(logger, registry, broker, engine)
	if err := httpServer.Start(cfg.HTTPListenAddr); err != nil {
		logger.WithError(err).Fatal("Failed to start HTTP server")
	}

	watcher, err := config.WatchLogLevel(logger, ".env")
	if err != nil {
		logger.WithError(err).Warn("Config hot reload disabled")
	} else if watcher != nil {
		defer watcher.Close()
	}

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.StaleSweepSchedule, func() {
		if removed := scheduler.SweepStale(cfg.StaleMaxAge); removed > 0 {
			logger.WithField("removed", removed).Info("Stale session sweep complete")
		}
		if sipServer != nil {
			if pruned := sipServer.PruneStaleDialogs(cfg.StaleMaxAge); pruned > 0 {
				logger.WithFields(logrus.Fields{
					"pruned":  pruned,
					"dialogs": sipServer.DialogCount(),
				}).Warn("Pruned silent SIP dialogs")
			}
		}
	}); err != nil {
		logger.WithError(err).Fatal("Invalid stale sweep schedule")
	}
	sweeper.Start()
	defer sweeper.Stop()

	logger.WithFields(logrus.Fields{
		"sip_addr":  cfg.SIPListenAddr,
		"http_addr": cfg.HTTPListenAddr,
		"policy":    cfg.AnswerPolicy,
	}).Info("SIPREC bridge started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("Shutting down")

	rootCancel()
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP shutdown incomplete")
	}
}
