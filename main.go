package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/profile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/trim21/errgo"
	_ "go.uber.org/automaxprocs"
	"golang.org/x/sync/errgroup"

	"udpfs/internal/client"
	"udpfs/internal/config"
	"udpfs/internal/metrics"
	"udpfs/internal/pkg/global"
	"udpfs/internal/server"
	"udpfs/internal/tree"
	"udpfs/internal/util"
	"udpfs/internal/web"
)

const usage = `Usage:
  udpfs [flags] serve [root] [bind-address]
  udpfs [flags] fetch <server> <resource-id>
  udpfs [flags] cat <server> [path]
  udpfs [flags] server_ls [root]

Flags:
`

func main() {
	if err := run(); err != nil {
		log.Error().Err(err).Msg("failed")
		os.Exit(1)
	}
}

func run() error {
	var configFilePath = pflag.String("config", "", "path to config file")
	var logLevel = pflag.String("log-level", "", "trace, debug, info, warn or error (default info)")
	var verbose = pflag.CountP("verbose", "v", "-v for debug logs, -vv for trace logs")
	var workers = pflag.Int("workers", 0, "request handling goroutines, 0 handles requests on the read loop")
	var adminAddress = pflag.String("admin-address", "", "serve metrics and tree listing over http on this address")
	var timeout = pflag.Duration("timeout", 0, "client wait per request (default 2s)")
	var attempts = pflag.Int("attempts", 0, "client requests per slice before giving up (default 3)")
	var version = pflag.Bool("version", false, "print version and exit")

	var profiling = pflag.Bool("profile", false, "enable profiling for CPU and Memory")
	var profileCpu = pflag.Bool("profile-cpu", false, "enable CPU profiling only")
	var profileMem = pflag.Bool("profile-memory", false, "enable Memory profiling only")

	pflag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		pflag.PrintDefaults()
	}

	// this avoids 'pflag: help requested' error when calling for help message.
	if slices.Contains(os.Args[1:], "--help") || slices.Contains(os.Args[1:], "-h") {
		pflag.Usage()
		fmt.Fprintln(os.Stderr, "\nNote: flags override config file and UDPFS_* environment variables.")
		return nil
	}

	pflag.Parse()

	if *version {
		fmt.Println(global.Version)
		return nil
	}

	if *profileCpu || *profileMem || *profiling {
		var opt = make([]func(*profile.Profile), 0, 2)
		if *profileCpu || *profiling {
			opt = append(opt, profile.CPUProfile)
		}
		if *profileMem || *profiling {
			opt = append(opt, profile.MemProfile)
		}
		defer profile.Start(opt...).Stop()
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})

	cfg, err := config.LoadFromFile(*configFilePath)
	if err != nil {
		return errgo.Wrap(err, "failed to load config")
	}

	if pflag.CommandLine.Changed("log-level") {
		cfg.Log.Level = *logLevel
	}
	if pflag.CommandLine.Changed("workers") {
		cfg.Server.Workers = *workers
	}
	if pflag.CommandLine.Changed("admin-address") {
		cfg.Server.AdminAddress = *adminAddress
	}
	if pflag.CommandLine.Changed("timeout") {
		cfg.Client.Timeout = config.Duration{Duration: *timeout}
	}
	if pflag.CommandLine.Changed("attempts") {
		cfg.Client.Attempts = *attempts
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		return errgo.Wrap(err, "invalid log level")
	}

	switch {
	case *verbose >= 2:
		level = zerolog.TraceLevel
	case *verbose == 1:
		level = min(level, zerolog.DebugLevel)
	}

	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := pflag.Args()
	if len(args) == 0 {
		pflag.Usage()
		return errors.New("command required")
	}

	switch cmd, args := args[0], args[1:]; {
	case cmd == "serve" && len(args) <= 2:
		if len(args) > 0 {
			cfg.Server.Root = args[0]
		}
		if len(args) > 1 {
			cfg.Server.Address = args[1]
		}
		return serve(ctx, cfg.Server, level <= zerolog.DebugLevel)

	case cmd == "fetch" && len(args) == 2:
		id, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("resource id %q is not an unsigned 32 bit integer", args[1])
		}

		addr, err := util.ParseAddrPort(ctx, args[0])
		if err != nil {
			return err
		}

		data, err := client.New(cfg.Client).Fetch(ctx, addr, uint32(id))
		if err != nil {
			return errgo.Wrap(err, fmt.Sprintf("failed to fetch resource %d from %s", id, args[0]))
		}

		return write(data)

	case cmd == "cat" && (len(args) == 1 || len(args) == 2):
		addr, err := util.ParseAddrPort(ctx, args[0])
		if err != nil {
			return err
		}

		var path string
		if len(args) == 2 {
			path = args[1]
		}

		data, err := client.New(cfg.Client).FetchByPath(ctx, addr, path)
		if err != nil {
			return errgo.Wrap(err, fmt.Sprintf("failed to read %q from %s", path, args[0]))
		}

		return write(data)

	case cmd == "server_ls" && len(args) <= 1:
		root := cfg.Server.Root
		if len(args) == 1 {
			root = args[0]
		}

		return serverLs(root)

	default:
		pflag.Usage()
		return fmt.Errorf("unrecognized command %q", cmd)
	}
}

func write(data []byte) error {
	_, err := os.Stdout.Write(data)
	return err
}

func rootOrWd(root string) (string, error) {
	if root != "" {
		return root, nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", errgo.Wrap(err, "failed to get working directory")
	}

	return wd, nil
}

func serverLs(root string) error {
	root, err := rootOrWd(root)
	if err != nil {
		return err
	}

	t, err := tree.Build(root)
	if err != nil {
		return err
	}

	s, err := t.Listing(t.Root())
	if err != nil {
		return errgo.Wrap(err, "failed to list root")
	}

	fmt.Print(s)

	return nil
}

func serve(ctx context.Context, cfg config.Server, debug bool) error {
	root, err := rootOrWd(cfg.Root)
	if err != nil {
		return err
	}

	start := time.Now()
	t, err := tree.Build(root)
	if err != nil {
		return err
	}

	log.Info().Str("root", t.Root()).Int("entries", t.Len()).Dur("took", time.Since(start)).Msg("indexed")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := metrics.NewResponder(reg)

	conn, err := server.Listen(ctx, cfg)
	if err != nil {
		return err
	}

	r := server.New(cfg, t, m)
	defer r.Close()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return r.Serve(ctx, conn)
	})

	if cfg.AdminAddress != "" {
		srv := &http.Server{
			Addr:              cfg.AdminAddress,
			Handler:           web.New(t, reg, debug),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			log.Info().Str("address", cfg.AdminAddress).Msg("admin http server")
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return errgo.Wrap(err, "admin http server")
			}
			return nil
		})

		g.Go(func() error {
			<-ctx.Done()

			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			return srv.Shutdown(shutdown)
		})
	}

	return g.Wait()
}
