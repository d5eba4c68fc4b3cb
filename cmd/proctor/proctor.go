package main

import (
	"fmt"
	"os"

	"github.com/akamensky/argparse"
	"github.com/azrihasin/proctoring/server"
	"github.com/azrihasin/proctoring/server/config"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/logs"
)

func main() {
	parser := argparse.NewParser("proctor", "Exam proctoring violation monitor")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Configuration file", Default: "proctor.json"})
	noStart := parser.Flag("", "nostart", &argparse.Options{Help: "Do not start a session at launch, regardless of config", Default: false})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	srv, err := server.NewServer(logger, cfg)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	srv.ListenForKillSignals()

	// Hot-reload the tunable config settings when the file changes.
	// A watcher failure (e.g. the file was passed from a read-only mount)
	// is not fatal; we just run with the startup config.
	watcher, err := config.NewWatcher(logger, *configFile, func(newCfg *config.Config) {
		if err := srv.ApplyConfig(newCfg); err != nil {
			logger.Errorf("Failed to apply reloaded config: %v", err)
		}
	})
	if err != nil {
		logger.Warnf("Config file watch disabled: %v", err)
	} else {
		defer watcher.Close()
	}

	if cfg.AutoStart && !*noStart {
		if _, err := srv.StartSession(""); err != nil {
			logger.Errorf("Failed to auto-start session: %v", err)
		}
	}

	// Tell systemd that we're alive
	daemon.SdNotify(false, daemon.SdNotifyReady)

	if err := srv.ListenHTTP(cfg.HTTPAddr); err != nil {
		logger.Errorf("ListenHTTP returned: %v", err)
	}
	<-srv.ShutdownComplete
}
