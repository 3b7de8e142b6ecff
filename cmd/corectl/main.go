package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gopkg.in/yaml.v3"

	"hivecore/pkg/config"
	"hivecore/pkg/logging"
	"hivecore/pkg/plugin"
	"hivecore/pkg/pool"
)

func main() {
	var (
		configFiles = flag.String("config", "", "Comma separated configuration files")
		command     = flag.String("cmd", "get", "Command: get, keys, validate, pools, plugins, watch, serve, demo")
		key         = flag.String("key", "", "Configuration key")
		manifest    = flag.String("manifest", "", "Plugin manifest (defaults to plugins.manifest)")
		format      = flag.String("format", "yaml", "Output format (json, yaml)")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var paths []string
	if *configFiles != "" {
		paths = strings.Split(*configFiles, ",")
	}

	var opts []config.Option
	store, err := config.SecretStoreFromEnv(nil)
	if err != nil {
		fail("failed to open secret store: %v", err)
	}
	if store != nil {
		opts = append(opts, config.WithSecretStore(store))
	}

	cfg, err := config.Bootstrap(ctx, paths, nil, opts...)
	if err != nil {
		fail("failed to load config: %v", err)
	}
	defer cfg.Close()

	rc, err := config.LoadRuntime(cfg)
	if err != nil {
		fail("invalid runtime config: %v", err)
	}
	rc.Logging.Output = os.Stderr
	logger := logging.New(rc.Logging)

	if *manifest == "" {
		*manifest = rc.Plugins.Manifest
	}

	switch *command {
	case "get":
		cmdGet(cfg, *key, *format)
	case "keys":
		printOutput(cfg.Keys(*key), *format)
	case "validate":
		cmdValidate(cfg, *manifest)
	case "pools":
		cmdPools(cfg, *format)
	case "plugins":
		cmdPlugins(*manifest, *format)
	case "watch":
		cmdWatch(ctx, cfg, *key, logger)
	case "serve":
		if err := runServe(ctx, cfg, rc, logger); err != nil {
			fail("serve failed: %v", err)
		}
	case "demo":
		if err := runDemo(ctx, cfg, rc, logger); err != nil {
			fail("demo failed: %v", err)
		}
	default:
		fail("unknown command: %s", *command)
	}
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func cmdGet(cfg *config.ConfigManager, key, format string) {
	redacted := cfg.Redacted()
	if key == "" {
		printOutput(redacted, format)
		return
	}
	if v, ok := redacted[key]; ok {
		printOutput(map[string]interface{}{key: v}, format)
		return
	}
	sub := make(map[string]interface{})
	for k, v := range redacted {
		if strings.HasPrefix(k, key+".") {
			sub[strings.TrimPrefix(k, key+".")] = v
		}
	}
	if len(sub) == 0 {
		fail("failed to get config: %v: %s", config.ErrKeyNotFound, key)
	}
	printOutput(map[string]interface{}{key: sub}, format)
}

func cmdValidate(cfg *config.ConfigManager, manifest string) {
	var errs config.MultiError
	for _, name := range append([]string{"default"}, pool.Names(cfg)...) {
		if _, err := pool.LoadConfig(cfg, name); err != nil {
			errs.Add(err)
		}
	}
	if manifest != "" {
		man, err := plugin.ReadManifest(manifest)
		if err != nil {
			errs.Add(err)
		} else if _, err := man.Order(); err != nil {
			errs.Add(err)
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		fail("validation failed: %v", err)
	}
	fmt.Println("configuration is valid")
}

func cmdPools(cfg *config.ConfigManager, format string) {
	out := make(map[string]pool.Config)
	for _, name := range append([]string{"default"}, pool.Names(cfg)...) {
		pc, err := pool.LoadConfig(cfg, name)
		if err != nil {
			fail("pool %s: %v", name, err)
		}
		out[name] = pc
	}
	printOutput(out, format)
}

func cmdPlugins(manifest, format string) {
	if manifest == "" {
		fail("no plugin manifest given")
	}
	man, err := plugin.ReadManifest(manifest)
	if err != nil {
		fail("%v", err)
	}
	ordered, err := man.Order()
	if err != nil {
		fail("%v", err)
	}
	printOutput(ordered, format)
}

func cmdWatch(ctx context.Context, cfg *config.ConfigManager, key string, logger logging.Logger) {
	if err := cfg.WatchFiles(ctx); err != nil {
		fail("failed to watch config files: %v", err)
	}
	logger.Info("watching config changes", "key", key)

	ch := cfg.Watch()
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-ch:
			if !ok {
				return
			}
			if key == "" || change.Key == key || strings.HasPrefix(change.Key, key+".") {
				fmt.Printf("%s: %v -> %v (%s)\n", change.Key, change.OldValue, change.NewValue, change.Source)
			}
		}
	}
}

func printOutput(data interface{}, format string) {
	switch format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(data); err != nil {
			fail("failed to encode output: %v", err)
		}
	default:
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			fail("failed to encode output: %v", err)
		}
		enc.Close()
	}
}

