package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/gin-gonic/gin"
	"github.com/natefinch/lumberjack"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/zxhio/telemetry-int/internal/api"
	"github.com/zxhio/telemetry-int/internal/config"
	"github.com/zxhio/telemetry-int/internal/dispatch"
	"github.com/zxhio/telemetry-int/internal/event"
	"github.com/zxhio/telemetry-int/internal/flowbuilder"
	"github.com/zxhio/telemetry-int/internal/manager"
	"github.com/zxhio/telemetry-int/internal/repository"
	"github.com/zxhio/telemetry-int/internal/service"
	"github.com/zxhio/telemetry-int/internal/topology"
	"github.com/zxhio/telemetry-int/pkg/builder"
	"github.com/zxhio/telemetry-int/pkg/cookie"
	"github.com/zxhio/telemetry-int/pkg/profile"
	"github.com/zxhio/telemetry-int/pkg/utils"
	"golang.org/x/sync/errgroup"
)

const logoAscii = `
  _       _
 | |_ ___| |___ _ __  ___| |_ _ _ _  _
 |  _/ -_) / -_) '  \/ -_)  _| '_| || |
  \__\___|_\___|_|_|_\___|\__|_|  \_, |
                                  |__/`

var (
	configFile string
	listen     string
	version    bool
	verbose    bool
)

func main() {
	pflag.StringVarP(&configFile, "config", "c", "", "Config file path")
	pflag.StringVar(&listen, "listen", config.DefaultListen, "HTTP API listen address")
	pflag.BoolVarP(&version, "version", "V", false, "Print version")
	pflag.BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	pflag.Parse()

	if version {
		fmt.Println(color.HiBlueString(logoAscii))
		fmt.Println(builder.BuildInfo())
		os.Exit(0)
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		logrus.WithError(err).Fatal("Fail to load config")
	}
	if pflag.CommandLine.Changed("listen") {
		cfg.Listen = listen
	}

	if verbose {
		gin.SetMode(gin.DebugMode)
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		gin.SetMode(gin.ReleaseMode)
		logrus.SetLevel(logrus.InfoLevel)
		logrus.SetOutput(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100,
			MaxBackups: 10,
			MaxAge:     60,
			Compress:   true,
		})
	}

	logrus.WithField("pid", os.Getpid()).Info("///telemetryd start")
	defer logrus.WithField("pid", os.Getpid()).Info("///telemetryd quit")

	lis, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		logrus.WithError(err).Fatal("Fatal to listen")
	}
	defer lis.Close()
	logrus.WithField("addr", lis.Addr()).Info("Listen on")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logrus.WithField("sig", sig).Info("Recv signal")
		lis.Close()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	wg, ctx := errgroup.WithContext(ctx)

	store := topology.NewStore()
	repo := repository.New(cfg.MEFElineURL, cfg.FlowManagerURL,
		repository.WithRetry(int(cfg.Retry.Attempts), cfg.Retry.Interval))

	dispatcher := dispatch.NewHTTPDispatcher(cfg.FlowManagerURL, dispatch.WithRate(cfg.DispatchRate))
	wg.Go(func() error { return dispatcher.Run(ctx) })
	batcher := dispatch.NewBatcher(dispatcher,
		dispatch.WithBatchSize(cfg.BatchSize),
		dispatch.WithBatchInterval(cfg.BatchInterval))

	intPrefix, mefPrefix := cookie.Prefix(cfg.INTCookiePrefix), cookie.Prefix(cfg.MEFCookiePrefix)
	m := manager.New(store, repo, flowbuilder.New(intPrefix, mefPrefix), batcher,
		manager.WithCookiePrefixes(intPrefix, mefPrefix),
		manager.WithFallbackToMEFLoopDown(*cfg.FallbackToMEFLoopDown),
		manager.WithTableGroupAllowed(cfg.TableGroupAllowed),
	)
	logrus.WithFields(logrus.Fields{
		"int_prefix": fmt.Sprintf("%#x", cfg.INTCookiePrefix),
		"mef_prefix": fmt.Sprintf("%#x", cfg.MEFCookiePrefix),
	}).Info("New telemetry manager")

	bus, err := event.NewBus(m, store)
	if err != nil {
		logrus.WithError(err).Fatal("Fatal to new event bus")
	}
	err = bus.Subscribe(event.TopicTableGroups, func(content event.EnableTableContent) {
		logrus.WithField("group_table", content.GroupTable).Info("Table groups updated")
	})
	if err != nil {
		logrus.WithError(err).Fatal("Fatal to subscribe table groups")
	}

	if cfg.Netlink.Enabled {
		w := topology.NewNetlinkWatcher(store, cfg.Netlink.SwitchID, bus.LinkNotifier())
		wg.Go(func() error { return w.Run(ctx) })
	}

	g := gin.New()
	g.Use(gin.Recovery(), api.RequestID(), api.Logger())
	api.SetTelemetryRouter(g, service.NewTelemetryService(m, repo))
	api.SetTopologyRouter(g, service.NewTopologyService(store))
	api.SetEventRouter(g, bus)
	api.SetMetricsRouter(g)
	if cfg.Pprof || verbose {
		profile.Mount(g)
	}
	if err := g.RunListener(lis); err != nil {
		logrus.WithError(err).Info("Stop serving")
	}

	closers := utils.NamedClosers{
		{Name: "event bus", Close: func() error { bus.Wait(); return nil }},
		{Name: "workers", Close: func() error { cancel(); return wg.Wait() }},
	}
	closers.Close(&utils.CloseOpt{Output: logrus.Info, ErrorOutput: logrus.Error})
}

