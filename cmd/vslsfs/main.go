// Command vslsfs shares a folder over a network session and gives guests
// access to it through the shared filesystem protocol.
//
// Usage:
//
//	vslsfs host  -listen :7070 -root ./project
//	vslsfs guest -connect host:7070 ls /
//	vslsfs guest -connect host:7070 cat /README.md
//	vslsfs guest -connect host:7070 watch -recursive /src
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/jmgilman/vslsfs/config"
	"github.com/jmgilman/vslsfs/internal/logging"
	"github.com/jmgilman/vslsfs/storage/billy"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "host":
		err = runHost(ctx, os.Args[2:])
	case "guest":
		err = runGuest(ctx, os.Args[2:])
	case "-h", "-help", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "vslsfs: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: vslsfs host  [-listen addr] [-root dir] [-config file] [-log-level level]")
	fmt.Fprintln(os.Stderr, "       vslsfs guest [-connect addr] [-config file] [-log-level level] <command> [args]")
	fmt.Fprintln(os.Stderr, "guest commands: ls, cat, stat, put, mkdir, rm, mv, cp, watch")
}

// common holds the flags both sides accept.
type common struct {
	configPath string
	logLevel   string
}

func (c *common) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "configuration file (.cue, .yaml, .yml or .json)")
	fs.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn or error")
}

// load reads the configuration file, if any, and applies flag overrides.
func (c *common) load(ctx context.Context) (config.Config, *logging.Logger, error) {
	cfg := config.Default()
	if c.configPath != "" {
		abs, err := filepath.Abs(c.configPath)
		if err != nil {
			return config.Config{}, nil, err
		}
		cfg, err = config.Load(ctx, billy.NewLocal(), abs)
		if err != nil {
			return config.Config{}, nil, err
		}
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, nil, err
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := logging.NewLogger(logging.Config{Level: level})
	return cfg, logger, nil
}
