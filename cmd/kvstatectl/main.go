package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/unkn0wn-root/kvstate"
	"github.com/unkn0wn-root/kvstate/config"
	zaplog "github.com/unkn0wn-root/kvstate/log/zap"
	"github.com/unkn0wn-root/kvstate/store/backend"
)

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("kvstatectl"),
		kong.Description("Inspect and edit persisted state slots, and issue bounded HTTP requests."),
		kong.UsageOnError(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, err := setup(ctx, &cli)
	kctx.FatalIfErrorf(err)

	err = kctx.Run(g)
	g.Close() // FatalIfErrorf exits without running defers
	kctx.FatalIfErrorf(err)
}

func setup(ctx context.Context, cli *CLI) (*Global, error) {
	cfg, err := config.Load(cli.Env...)
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if cli.Verbose {
		level = "debug"
	}
	log, err := zaplog.New(level)
	if err != nil {
		return nil, err
	}
	cfg.Store = chooseStore(cli.Store)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if processLocal(cfg.Store) {
		log.Warn("store keeps entries in process memory; nothing survives this command",
			kvstate.Fields{"store": cfg.Store})
	}

	st, err := backend.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log.Debug("store opened", kvstate.Fields{"store": cfg.Store})

	return &Global{
		Ctx:     ctx,
		Config:  cfg,
		Logger:  log,
		Storage: kvstate.NewStorage(st, kvstate.StorageOptions{Logger: log}),
		Out:     os.Stdout,
		ErrOut:  os.Stderr,
		closers: []func(){
			func() {
				if st != nil {
					_ = st.Close(context.Background())
				}
			},
			func() { _ = log.L.Sync() },
		},
	}, nil
}

// chooseStore prefers --store, then STORE from the environment or .env, and
// otherwise the durable sqlite store so separate invocations see each
// other's writes.
func chooseStore(flag string) string {
	if flag != "" {
		return flag
	}
	if v, ok := os.LookupEnv("STORE"); ok && v != "" {
		return v
	}
	return config.StoreSQLite
}

func processLocal(store string) bool {
	switch store {
	case config.StoreMemory, "", config.StoreCookie, config.StoreBigCache, config.StoreRistretto:
		return true
	}
	return false
}
