package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/config"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/database"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/event"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/logger"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/writequeue"
)

type app struct {
	configPath string
	config     config.Config
	cleaner    *event.Cleaner
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "assistant-client",
		Short:         "Realtime assistant client with a durable offline write queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", config.DefaultConfigFile, "path to the JSON configuration file")
	root.AddCommand(newRunCommand(a), newQueueCommand(a))
	return root
}

func (a *app) init() error {
	cfg, err := config.ReadConfig(a.configPath)
	switch {
	case errors.Is(err, config.ErrConfigCreated):
		fmt.Fprintf(os.Stderr, "configuration file %s created with defaults\n", a.configPath)
	case err != nil:
		return fmt.Errorf("error occured while reading config: %w", err)
	}
	a.config = cfg
	a.cleaner = event.NewCleaner(logger.Init(cfg.LogDir, cfg.DebugMode))
	logger.Debug("Application initializing...")
	return nil
}

// openQueue 打开配置的存储后端并创建写队列，存储的关闭回调注册到 cleaner
func (a *app) openQueue(ctx context.Context) (*writequeue.Queue, error) {
	store, closer, err := database.Open(ctx, a.config.Store, a.config.AppName)
	if err != nil {
		return nil, fmt.Errorf("error occured while opening store: %w", err)
	}
	if closer != nil {
		a.cleaner.Add(closer)
	}
	opts, err := writequeue.OptionsFromConfig(a.config.WriteQueue)
	if err != nil {
		return nil, err
	}
	return writequeue.New(store, opts, writequeue.WithErrorLogger(logger.NewSlogErrorLogger("write-queue")))
}

func (a *app) newSender() (*writequeue.HTTPSender, error) {
	timing, err := a.config.WriteQueue.Timing()
	if err != nil {
		return nil, err
	}
	return writequeue.NewHTTPSender(a.config.WriteQueue.APIBaseURL, timing.RequestTimeout)
}
