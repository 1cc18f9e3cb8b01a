package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"noadb/agent/internal/api"
	"noadb/agent/internal/capture"
	"noadb/agent/internal/config"
	"noadb/agent/internal/device"
	"noadb/agent/internal/domain"
	"noadb/agent/internal/input"
	"noadb/agent/internal/logger"
	"noadb/agent/internal/metrics"
	"noadb/agent/internal/session"
	"noadb/agent/internal/shell"
	sigclient "noadb/agent/internal/signal"
	"noadb/agent/internal/supervisor"
	"noadb/agent/internal/webrtc"
)

const helpText = `noadb-agent - Remote control agent for an Android device

Registers the device with a signaling relay, streams the screen over
WebRTC and executes touch, key and text commands sent by the controller.

Usage:
  noadb-agent [options]

Settings are read from the YAML file given by --config. Environment
variables override the file; a .env file in the working directory is
loaded first.

Environment Variables:
  NOADB_SERVER_URL        Relay URL (ws://, wss://, http:// or https://)
  NOADB_DEVICE_ID         Device id announced to the relay
  NOADB_DEVICE_NAME       Device name announced to the relay
  NOADB_VIDEO_QUALITY     1-100, scales the capture bitrate
  NOADB_RESOLUTION        1080p, 720p, 480p, 360p or 240p
  NOADB_AUTO_RECONNECT    Reconnect after transport loss (true/false)
  NOADB_CONTROL_DELAY_MS  Delay applied to every control command
  NOADB_AUTO_START        Connect when started with --boot
  NOADB_ICE_CONFIG_URL    Endpoint returning STUN/TURN servers

Examples:
  noadb-agent --config /data/local/tmp/noadb.yaml
  NOADB_SERVER_URL=ws://10.0.0.2:3000 noadb-agent --mode dev

Options:
`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		mode        string
		metricsAddr string
		boot        bool
		noCapture   bool
	)

	flagSet := pflag.NewFlagSet("noadb-agent", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "noadb.yaml", "settings file")
	flagSet.StringVar(&mode, "mode", "", "run mode: production or dev (dev also logs to the console)")
	flagSet.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flagSet.BoolVar(&boot, "boot", false, "started by a boot hook; exit unless autoStart is set")
	flagSet.BoolVar(&noCapture, "no-capture", false, "do not start screen capture")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if mode != "" {
		cfg.Mode = mode
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}

	if err := logger.Init(cfg.Log, cfg.Mode); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	log := logger.Named("main")

	if boot && !cfg.AutoStart {
		log.Info("started at boot with autoStart disabled, exiting")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)
	if cfg.MetricsAddr != "" {
		stop := serveMetrics(cfg.MetricsAddr, m, log)
		defer stop()
	}

	prober := device.NewProber(shell.Exec{}, nil, logger.Named("device"))
	profile := prober.Probe(ctx, device.Identity{DeviceID: cfg.DeviceID, DeviceName: cfg.DeviceName})
	if profile.GeneratedID {
		if err := config.PersistDeviceID(configPath, profile.Register.DeviceID); err != nil {
			log.Warn("device id not saved; it will change on restart", zap.Error(err))
		}
	}
	log.Info("device",
		zap.String("id", profile.Register.DeviceID),
		zap.String("model", profile.Register.DeviceModel),
		zap.Int("osLevel", profile.OSLevel),
	)

	sessCfg := cfg.Session(logger.Named("config"))
	if sessCfg.OSLevel == 0 {
		sessCfg.OSLevel = profile.OSLevel
	}
	if cfg.ICEConfigURL != "" {
		servers, err := api.NewClient(cfg.ICEConfigURL, cfg.ICEConfigToken, nil).
			FetchICEServers(ctx, profile.Register.DeviceID)
		if err != nil {
			log.Warn("ICE config fetch failed, using configured servers", zap.Error(err))
		} else {
			sessCfg.ICEServers = servers
		}
	}

	var source domain.CaptureSource = capture.NewScreenRecord(nil, logger.Named("capture"))
	if noCapture {
		source = capture.Nop{Log: logger.Named("capture")}
	}

	deps := session.Deps{
		Signaler:   sigclient.NewClient(sigclient.Options{Logger: logger.Named("signal"), Metrics: m}),
		NewPeer:    webrtc.NewFactory(sessCfg.ICEServers, logger.Named("webrtc")),
		Capture:    source,
		Injector:   input.NewShell(shell.Exec{}, logger.Named("input")),
		Register:   profile.Register,
		DeviceInfo: profile.Info,
		Logger:     logger.Named("session"),
		Metrics:    m,
	}

	sup := supervisor.New(supervisor.Options{
		NewSession: func() supervisor.Session {
			return session.New(deps, sessCfg)
		},
		AutoReconnect: sessCfg.AutoReconnect,
		Logger:        logger.Named("supervisor"),
		Metrics:       m,
	})

	log.Info("starting",
		zap.String("relay", sessCfg.RelayURL),
		zap.String("profile", sessCfg.Profile.Name),
		zap.Int("bitrate", sessCfg.BitrateBps),
		zap.Duration("controlDelay", sessCfg.ControlDelay),
	)
	if err := sup.Run(ctx); err != nil {
		return err
	}
	log.Info("done")
	return nil
}

func serveMetrics(addr string, m *metrics.Metrics, log *zap.Logger) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("metrics listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprint(os.Stderr, helpText)
	fmt.Fprint(os.Stderr, flagSet.FlagUsages())
}
