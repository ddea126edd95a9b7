// torrcctl inspects and edits the bridge and proxy settings of a torrc.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/andrej220/torito/internal/lg"
	"github.com/andrej220/torito/internal/persistence"
	"github.com/andrej220/torito/pkg/config"
	"github.com/andrej220/torito/pkg/config/filestore"
	"github.com/andrej220/torito/pkg/notify"
	"github.com/andrej220/torito/pkg/torrc"
	"golang.org/x/sync/errgroup"
)

var errUsage = errors.New("usage: torrcctl [flags] backup|show|export|bridges|proxy|watch|events [args]")

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "torrcctl:", err)
		os.Exit(1)
	}
}

type app struct {
	store    config.Config
	notifier notify.Notifier
	kafka    *notify.KafkaConfig
	logger   lg.Logger
	out      io.Writer
	backedUp bool
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet(SERVICENAME, flag.ContinueOnError)
	logCfg := lg.RegisterFlags(fs, SERVICENAME)
	configPath := fs.String("config", CONFIGFILENAME, "tool config file (YAML)")
	torrcPath := fs.String("torrc", "", "torrc path, overrides the config file")
	backupDir := fs.String("backup-dir", "", "backup directory name, created next to the torrc")
	storeName := fs.String("store", "", "store backend: file or mongo")
	atomic := fs.Bool("atomic", false, "replace the torrc atomically on save")
	if err := fs.Parse(args); err != nil {
		return err
	}

	explicit := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})
	toolCfg, err := loadToolConfig(*configPath, explicit)
	if err != nil {
		return err
	}
	if *torrcPath != "" {
		toolCfg.File.Path = *torrcPath
	}
	if *backupDir != "" {
		toolCfg.File.BackupDir = *backupDir
	}
	if *storeName != "" {
		toolCfg.Store = *storeName
	}
	if *atomic {
		toolCfg.File.Atomic = true
	}
	if err := toolCfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if fs.NArg() == 0 {
		return errUsage
	}

	logger := lg.New(logCfg)
	defer logger.Sync()

	a, err := newApp(toolCfg, logger, out)
	if err != nil {
		return err
	}
	defer a.close()

	return a.dispatch(ctx, fs.Arg(0), fs.Args()[1:])
}

func newApp(cfg *TorrcctlConfig, logger lg.Logger, out io.Writer) (*app, error) {
	a := &app{notifier: notify.Nop, kafka: cfg.Kafka, logger: logger, out: out}

	if cfg.Kafka != nil {
		n, err := notify.NewKafkaNotifier(*cfg.Kafka, logger)
		if err != nil {
			return nil, err
		}
		a.notifier = n
	}

	storeType, err := config.ParseStoreType(cfg.Store)
	if err != nil {
		return nil, err
	}

	var storeCfg any
	switch storeType {
	case config.MongoStore:
		storeCfg = &cfg.Mongo
	default:
		fileCfg := cfg.File
		fileCfg.Options = append(fileCfg.Options,
			filestore.WithLogger(logger),
			filestore.WithNotifier(a.notifier))
		storeCfg = &fileCfg
	}

	store, err := config.NewStore(storeType, storeCfg)
	if err != nil {
		_ = a.notifier.Close()
		return nil, err
	}
	a.store = store
	return a, nil
}

func (a *app) close() {
	if c, ok := a.store.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.logger.Warn("failed to close store", lg.Err(err))
		}
	}
	if err := a.notifier.Close(); err != nil {
		a.logger.Warn("failed to close notifier", lg.Err(err))
	}
}

func (a *app) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "backup":
		return a.backup()
	case "show":
		return a.show(args)
	case "export":
		return a.export(args)
	case "bridges":
		return a.bridges(args)
	case "proxy":
		return a.proxy(args)
	case "watch":
		return a.watch(ctx)
	case "events":
		return a.events(ctx, args)
	default:
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}
}

func (a *app) backup() error {
	if err := a.store.Backup(); err != nil {
		return err
	}
	a.backedUp = true
	if fs, ok := a.store.(*filestore.FileStore); ok {
		fmt.Fprintln(a.out, fs.BackupPath())
	}
	return nil
}

// mutate backs the torrc up once per run, applies fn and saves the result.
func (a *app) mutate(fn func(cfg *torrc.Config) error) error {
	cfg, err := a.store.Load()
	if err != nil {
		return err
	}
	if !a.backedUp {
		if err := a.store.Backup(); err != nil {
			return fmt.Errorf("refusing to save without a backup: %w", err)
		}
		a.backedUp = true
	}
	if err := fn(cfg); err != nil {
		return err
	}
	return a.store.Save(cfg)
}

func (a *app) show(args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	format := fs.String("format", "yaml", "json or yaml")
	if err := fs.Parse(args); err != nil {
		return err
	}
	serializer, err := persistence.SerializerFor(*format)
	if err != nil {
		return err
	}
	cfg, err := a.store.Load()
	if err != nil {
		return err
	}
	return persistence.Export(cfg, "-", serializer, persistence.StreamWriter{W: a.out})
}

func (a *app) export(args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	output := fs.String("o", "", "output file")
	format := fs.String("format", "json", "json or yaml")
	force := fs.Bool("force", false, "overwrite an existing output file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	serializer, err := persistence.SerializerFor(*format)
	if err != nil {
		return err
	}
	cfg, err := a.store.Load()
	if err != nil {
		return err
	}
	return persistence.Export(cfg, *output, serializer, persistence.FileWriter{Overwrite: *force})
}

func (a *app) bridges(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("bridges: list|add|remove|clear|enable|disable: %w", errUsage)
	}
	switch args[0] {
	case "list":
		cfg, err := a.store.Load()
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "UseBridges %t\n", cfg.UseBridge)
		for i, b := range cfg.BridgeConfig.Bridges {
			fmt.Fprintf(a.out, "%d\t%s\n", i, b)
		}
		return nil
	case "add":
		if len(args) < 2 {
			return fmt.Errorf("bridges add <bridge>...: %w", errUsage)
		}
		return a.mutate(func(cfg *torrc.Config) error {
			cfg.BridgeConfig.Bridges = append(cfg.BridgeConfig.Bridges, args[1:]...)
			return nil
		})
	case "remove":
		if len(args) != 2 {
			return fmt.Errorf("bridges remove <index>: %w", errUsage)
		}
		idx, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid bridge index %q: %w", args[1], err)
		}
		return a.mutate(func(cfg *torrc.Config) error {
			bridges := cfg.BridgeConfig.Bridges
			if idx < 0 || idx >= len(bridges) {
				return fmt.Errorf("bridge index %d out of range (%d bridges)", idx, len(bridges))
			}
			cfg.BridgeConfig.Bridges = append(bridges[:idx:idx], bridges[idx+1:]...)
			return nil
		})
	case "clear":
		return a.mutate(func(cfg *torrc.Config) error {
			cfg.BridgeConfig.Bridges = nil
			return nil
		})
	case "enable", "disable":
		enable := args[0] == "enable"
		return a.mutate(func(cfg *torrc.Config) error {
			cfg.UseBridge = enable
			return nil
		})
	default:
		return fmt.Errorf("unknown bridges command %q: %w", args[0], errUsage)
	}
}

func (a *app) proxy(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("proxy: list|set|clear: %w", errUsage)
	}
	switch args[0] {
	case "list":
		cfg, err := a.store.Load()
		if err != nil {
			return err
		}
		for _, d := range torrc.Directives() {
			for _, v := range cfg.ProxyConfig.Values(d) {
				fmt.Fprintf(a.out, "%s %s\n", d, v)
			}
		}
		return nil
	case "set", "clear":
		if len(args) < 2 || (args[0] == "set" && len(args) < 3) {
			return fmt.Errorf("proxy set <directive> <value>... | proxy clear <directive>: %w", errUsage)
		}
		d := torrc.Directive(args[1])
		if !torrc.IsProxyDirective(d) {
			return fmt.Errorf("unknown proxy directive %q", args[1])
		}
		var values []string
		if args[0] == "set" {
			values = args[2:]
		}
		return a.mutate(func(cfg *torrc.Config) error {
			cfg.ProxyConfig.Set(d, values)
			return nil
		})
	default:
		return fmt.Errorf("unknown proxy command %q: %w", args[0], errUsage)
	}
}

// watch reloads the torrc on every change and prints a one-line summary
// until interrupted.
func (a *app) watch(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	changes := make(chan struct{}, 1)
	if err := a.store.Watch(ctx, func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	}); err != nil {
		return err
	}
	a.logger.Info("watching torrc")

	reloaded := make(chan *torrc.Config)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(reloaded)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-changes:
				cfg, err := a.store.Load()
				if err != nil {
					a.logger.Warn("reload failed", lg.Err(err))
					continue
				}
				select {
				case reloaded <- cfg:
				case <-gctx.Done():
					return nil
				}
			}
		}
	})
	g.Go(func() error {
		for cfg := range reloaded {
			if _, err := fmt.Fprintf(a.out, "useBridge=%t bridges=%d others=%d\n",
				cfg.UseBridge, len(cfg.BridgeConfig.Bridges), len(cfg.Others)); err != nil {
				return err
			}
		}
		return nil
	})
	return g.Wait()
}

// events prints torrc events from Kafka as JSON lines until interrupted.
func (a *app) events(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	group := fs.String("group", SERVICENAME, "consumer group id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if a.kafka == nil {
		return errors.New("events: no kafka section in the tool config")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	consumer := notify.NewConsumer(notify.ConsumerConfig{KafkaConfig: *a.kafka, GroupID: *group})
	defer consumer.Close()

	enc := json.NewEncoder(a.out)
	for {
		ev, err := consumer.Read(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			a.logger.Warn("failed to read event", lg.Err(err))
			continue
		}
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
}
