package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"mboflow/config"
	"mboflow/logger"
	"mboflow/processor"
	"mboflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultPath, "Path to configuration file")
	flag.Parse()

	path := config.ResolvePath(*configPath)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"path": path}).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	env := config.AppEnvironment()
	log.WithFields(logger.Fields{
		"service":     cfg.MBOFlow.Name,
		"version":     cfg.MBOFlow.Version,
		"environment": env,
		"config":      path,
		"instruments": len(cfg.Instruments),
	}).Info("starting mboflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch {
		dashboard := ""
		if cfg.Metrics.Dashboard {
			dashboard = cfg.MBOFlow.Name
		}
		logger.InitCloudWatch(cfg.Metrics.Region, cfg.Metrics.Namespace, dashboard)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, cfg.Metrics.ReportInterval)
	}

	var uploader *writer.S3Uploader
	if cfg.Storage.S3.Enabled {
		uploader, err = writer.NewS3Uploader(ctx, cfg.Storage.S3, cfg.MBOFlow.Version)
		if err != nil {
			log.WithError(err).Error("failed to create S3 uploader")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("S3 storage disabled; files are written locally only")
	}

	pipelines := make([]*processor.Pipeline, 0, len(cfg.Instruments))
	for _, inst := range cfg.Instruments {
		p, err := processor.NewPipeline(cfg, inst, uploader)
		if err != nil {
			log.WithError(err).Error("failed to create pipeline")
			os.Exit(1)
		}
		pipelines = append(pipelines, p)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
	}()

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range pipelines {
		p := p
		symbol := cfg.Instruments[i].Symbol
		g.Go(func() error {
			res, err := p.Run(gctx)
			if err != nil {
				return err
			}
			log.WithComponent("main").WithFields(logger.Fields{
				"symbol":              symbol,
				"events":              res.Events,
				"sequences":           res.Sequences,
				"exported":            res.Exported,
				"files":               res.Writer.Files,
				"unknown_order_refs":  res.Classifier.UnknownRefs,
				"suppressed_warnings": res.SuppressedWarnings,
				"run_id":              res.Dataset.RunID,
			}).Info("instrument finished")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("pipeline run failed")
		cancel()
		os.Exit(1)
	}

	logger.LogPerformanceEntry(log.WithComponent("main"), "main", "run", time.Since(start), logger.Fields{
		"instruments": len(pipelines),
	})
	log.Info("mboflow stopped")
}
