package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"k8s.io/klog/v2"

	"github.com/tsawler/petsbench/config"
	"github.com/tsawler/petsbench/device"
	"github.com/tsawler/petsbench/tracking"
	"github.com/tsawler/petsbench/training"
)

func main() {
	cfg := config.Default()
	config.BindFlags(flag.CommandLine, &cfg)

	dataRoot := flag.String("data_root", "data", "Local directory holding datasets")
	s3Bucket := flag.String("s3_bucket", "", "Fetch datasets from this S3 bucket instead of data_root")
	s3Prefix := flag.String("s3_prefix", "datasets", "Key prefix of datasets in the S3 bucket")
	s3Region := flag.String("s3_region", "us-east-1", "Region of the S3 bucket")
	metricsFile := flag.String("metrics_file", "", "Also append metrics records to this file")
	progress := flag.Bool("progress", true, "Show the model listing and epoch progress bars")

	klog.InitFlags(nil)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, cfg, options{
		dataRoot:    *dataRoot,
		s3Bucket:    *s3Bucket,
		s3Prefix:    *s3Prefix,
		s3Region:    *s3Region,
		metricsFile: *metricsFile,
		progress:    *progress,
	})
	stop()
	if err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
	klog.Flush()
}

type options struct {
	dataRoot    string
	s3Bucket    string
	s3Prefix    string
	s3Region    string
	metricsFile string
	progress    bool
}

func run(ctx context.Context, cfg config.Config, opts options) error {
	var provider tracking.DatasetProvider = tracking.LocalProvider{Root: opts.dataRoot}
	if opts.s3Bucket != "" {
		p, err := tracking.NewS3Provider(opts.s3Region, opts.s3Bucket, opts.s3Prefix, filepath.Join(opts.dataRoot, "s3"))
		if err != nil {
			return fmt.Errorf("failed to create S3 provider: %w", err)
		}
		provider = p
	}

	sinks := tracking.MultiSink{tracking.KlogSink{}}
	if opts.metricsFile != "" {
		fileSink, err := tracking.NewProtoFileSink(opts.metricsFile, cfg.Labels())
		if err != nil {
			return fmt.Errorf("failed to open metrics file: %w", err)
		}
		defer fileSink.Close()
		sinks = append(sinks, fileSink)
	}

	rc := &training.RunController{
		Provider: provider,
		Sink:     sinks,
		Detector: device.HostDetector{},
	}
	if opts.progress {
		rc.Progress = os.Stderr
	}

	for i := 0; i < cfg.NumExperiments; i++ {
		klog.Infof("Experiment %d/%d", i+1, cfg.NumExperiments)
		if _, err := rc.Run(ctx, cfg); err != nil {
			return fmt.Errorf("experiment %d: %w", i+1, err)
		}
	}
	return nil
}
