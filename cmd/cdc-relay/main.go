package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flags "github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
	mbp "go.gazette.dev/core/mainboilerplate"
	"go.gazette.dev/core/task"

	"github.com/estuary/cdc-relay/internal/checkpoint"
	"github.com/estuary/cdc-relay/internal/checkpoint/dynamodb"
	"github.com/estuary/cdc-relay/internal/config"
	"github.com/estuary/cdc-relay/internal/coordinator"
	"github.com/estuary/cdc-relay/internal/flushpolicy"
	"github.com/estuary/cdc-relay/internal/processor"
	"github.com/estuary/cdc-relay/internal/sink"
	"github.com/estuary/cdc-relay/internal/sink/sqs"
	"github.com/estuary/cdc-relay/internal/source"
	"github.com/estuary/cdc-relay/internal/source/mysql"
	"github.com/estuary/cdc-relay/internal/worker"
)

const iniFilename = "cdc-relay.ini"

// Config is the top-level configuration object of the cdc-relay worker.
var Config = new(config.Config)

type cmdServe struct{}

func newSource(cfg *config.Config) (source.Source, error) {
	switch cfg.App.DataSourceType {
	case "mysql":
		return mysql.New(mysql.Config{
			Host:     cfg.MySQL.Host,
			User:     cfg.MySQL.User,
			Password: cfg.MySQL.Password,
			Port:     cfg.MySQL.Port,
			ServerID: cfg.MySQL.ServerID,
		}), nil
	default:
		return nil, fmt.Errorf("unknown data source type %q", cfg.App.DataSourceType)
	}
}

func newSink(cfg *config.Config) (sink.Sink, error) {
	switch cfg.App.StreamType {
	case "sqs":
		return sqs.New(sqs.Config{
			QueueURL:        cfg.SQS.QueueURL,
			Region:          cfg.SQS.Region,
			EndpointURL:     cfg.SQS.EndpointURL,
			AccessKeyID:     cfg.SQS.AccessKeyID,
			SecretAccessKey: cfg.SQS.SecretAccessKey,
			Source:          cfg.SQS.Source,
		}), nil
	default:
		return nil, fmt.Errorf("unknown stream type %q", cfg.App.StreamType)
	}
}

func newCheckpointStore(cfg *config.Config) (checkpoint.Store, error) {
	switch cfg.App.StateManagerType {
	case "dynamodb":
		return dynamodb.New(dynamodb.Config{
			Region:          cfg.DynamoDB.Region,
			EndpointURL:     cfg.DynamoDB.EndpointURL,
			AccessKeyID:     cfg.DynamoDB.AccessKeyID,
			SecretAccessKey: cfg.DynamoDB.SecretAccessKey,
			TableName:       cfg.DynamoDB.TableName,
		})
	default:
		return nil, fmt.Errorf("unknown state manager type %q", cfg.App.StateManagerType)
	}
}

func (cmdServe) Execute(_ []string) error {
	defer mbp.InitDiagnosticsAndRecover(Config.Diagnostics)()
	mbp.InitLog(Config.Log)

	log.WithFields(log.Fields{
		"config":    Config,
		"version":   mbp.Version,
		"buildDate": mbp.BuildDate,
	}).Info("cdc-relay configuration")

	src, err := newSource(Config)
	mbp.Must(err, "selecting data source")
	snk, err := newSink(Config)
	mbp.Must(err, "selecting stream")
	store, err := newCheckpointStore(Config)
	mbp.Must(err, "selecting checkpoint store")

	coord := coordinator.New(coordinator.Config{
		Source:    src,
		Processor: processor.New(nil),
		Policy:    flushpolicy.New(Config.App.BatchSize, Config.App.FlushInterval),
		Sink:      snk,
		Store:     store,
	})
	w := worker.New(coord)

	var (
		tasks    = task.NewGroup(context.Background())
		signalCh = make(chan os.Signal, 1)
	)

	tasks.Queue("worker", func() error {
		return w.Run(tasks.Context())
	})

	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)
	tasks.Queue("watch signalCh", func() error {
		select {
		case sig := <-signalCh:
			log.WithField("signal", sig).Info("caught signal")
			w.Stop()
			tasks.Cancel()
			return nil
		case <-tasks.Context().Done():
			return nil
		}
	})

	tasks.GoRun()
	return tasks.Wait()
}

func main() {
	parser := flags.NewParser(Config, flags.Default)

	_, _ = parser.AddCommand("serve", "Serve as a cdc-relay worker", `
Serve a cdc-relay worker with the provided configuration, until signaled to
exit (via SIGTERM or SIGINT).
`, &cmdServe{})

	mbp.AddPrintConfigCmd(parser, iniFilename)
	mbp.MustParseConfig(parser, iniFilename)
}
