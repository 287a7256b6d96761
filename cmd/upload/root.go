package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stefando/resumableupload/internal/config"
	"github.com/stefando/resumableupload/internal/logging"
)

type app struct {
	envFile string
	cfg     config.Config
	log     *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "upload",
		Short:         "Resumable chunked file uploads",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.envFile, "env", "", "dotenv file to load before reading the environment")

	root.AddCommand(newPutCmd(a), newServeCmd(a))
	return root
}

func (a *app) init() error {
	var files []string
	if a.envFile != "" {
		files = append(files, a.envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return err
	}
	log, err := logging.New(logging.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON, File: cfg.LogFile})
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log
	return nil
}
