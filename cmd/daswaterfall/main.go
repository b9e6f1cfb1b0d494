package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/banshee-data/das-waterfall/internal/config"
	"github.com/banshee-data/das-waterfall/internal/das"
	"github.com/banshee-data/das-waterfall/internal/das/driver"
	"github.com/banshee-data/das-waterfall/internal/das/l3scaling"
	"github.com/banshee-data/das-waterfall/internal/das/l4waterfall"
	"github.com/banshee-data/das-waterfall/internal/das/monitor"
	"github.com/banshee-data/das-waterfall/internal/das/network"
	"github.com/banshee-data/das-waterfall/internal/das/pipeline"
	"github.com/banshee-data/das-waterfall/internal/das/session"
	"github.com/banshee-data/das-waterfall/internal/das/stream"
	"github.com/banshee-data/das-waterfall/internal/db"
	"github.com/banshee-data/das-waterfall/internal/monitoring"
	"github.com/banshee-data/das-waterfall/internal/timeutil"
	"github.com/banshee-data/das-waterfall/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to a .json/.yaml configuration file (defaults apply when empty)")
	listen      = flag.String("listen", ":8080", "HTTP listen address")
	grpcListen  = flag.String("grpc-listen", ":50051", "gRPC listen address for the frame stream (empty disables)")
	driverName  = flag.String("driver", "synthetic", "Acquisition driver: synthetic, udp, pcap, serial or explorex")
	dbFile      = flag.String("db", "das-waterfall.db", "Path to the SQLite session ledger (empty disables)")
	forwardAddr = flag.String("forward", "", "host:port to forward decoded blocks to over UDP")
	udpAddress  = flag.String("udp-addr", ":2370", "UDP bind address for the udp driver")
	pcapFile    = flag.String("pcap", "", "Capture file replayed by the pcap driver")
	serialPort  = flag.String("serial-port", "/dev/ttyUSB0", "Serial device for the serial driver")
	debug       = flag.Bool("debug", false, "Log per-block diagnostics to stderr")
	autoStart   = flag.Bool("autostart", false, "Start a session with the configured parameters on launch")
	showVersion = flag.Bool("version", false, "Print the version and exit")
)

// applyFlags copies explicitly set flags over the file configuration.
func applyFlags(cfg *config.Config, set map[string]bool) {
	str := func(name string, v string, dst **string) {
		if set[name] {
			*dst = &v
		}
	}
	str("listen", *listen, &cfg.Server.Listen)
	str("grpc-listen", *grpcListen, &cfg.Server.GRPCListen)
	str("driver", *driverName, &cfg.Source.Driver)
	str("db", *dbFile, &cfg.Server.DBPath)
	str("forward", *forwardAddr, &cfg.Server.Forward)
	str("udp-addr", *udpAddress, &cfg.Source.UDPAddress)
	str("pcap", *pcapFile, &cfg.Source.PCAPFile)
	str("serial-port", *serialPort, &cfg.Source.SerialPort)
	if set["debug"] {
		v := *debug
		cfg.Server.Debug = &v
	}
}

// newDriver builds the configured acquisition driver.
func newDriver(cfg *config.Config, clock timeutil.Clock) (driver.Driver, error) {
	switch cfg.GetDriver() {
	case "synthetic":
		return driver.NewSyntheticDriver(driver.SyntheticConfig{
			MalformedEvery: cfg.GetSyntheticMalformedEvery(),
			Clock:          clock,
		}), nil
	case "udp":
		return driver.NewUDPDriver(driver.UDPConfig{Address: cfg.GetUDPAddress()}), nil
	case "pcap":
		return driver.NewPCAPDriver(driver.PCAPConfig{
			Path:            cfg.GetPCAPFile(),
			AllowedDir:      cfg.GetPCAPDir(),
			Port:            cfg.GetPCAPPort(),
			SpeedMultiplier: cfg.GetPCAPSpeed(),
			Loop:            cfg.GetPCAPLoop(),
			Clock:           clock,
		}), nil
	case "serial":
		return driver.NewSerialDriver(driver.SerialConfig{
			Path:     cfg.GetSerialPort(),
			BaudRate: cfg.GetSerialBaud(),
		}), nil
	case "explorex":
		if !driver.ExploreXAvailable {
			log.Printf("warning: built without the explorex tag; session start will report device not found")
		}
		return driver.NewExploreXDriver(), nil
	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.GetDriver())
	}
}

func loadConfig() (*config.Config, error) {
	cfg := &config.Config{}
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadConfig(*configPath); err != nil {
			return nil, err
		}
	}
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	applyFlags(cfg, set)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}
	if cfg.GetDebug() {
		monitoring.SetDebugWriter(os.Stderr)
	}
	log.Printf("das-waterfall %s", version.String())

	if err := run(cfg); err != nil {
		log.Fatal(err)
	}
}

func run(cfg *config.Config) error {
	clock := timeutil.RealClock{}
	params, err := cfg.Params()
	if err != nil {
		return err
	}
	sessCfg, err := cfg.SessionConfig()
	if err != nil {
		return err
	}
	settings, err := cfg.ScalingSettings()
	if err != nil {
		return err
	}
	scalerCfg, err := cfg.ScalerConfig()
	if err != nil {
		return err
	}
	schedCfg, err := cfg.SchedulerConfig()
	if err != nil {
		return err
	}

	drv, err := newDriver(cfg, clock)
	if err != nil {
		return err
	}

	trace := monitor.NewTraceRecorder(0)
	scalerCfg.OnRecompute = trace.Record
	scaler, err := l3scaling.NewScaler(scalerCfg, settings, clock)
	if err != nil {
		return err
	}
	buffer, err := l4waterfall.New(cfg.GetWaterfallRows())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	var wg sync.WaitGroup

	opts := session.Options{Driver: drv, Scaler: scaler, Buffer: buffer, Clock: clock}

	var database *db.DB
	if path := cfg.GetDBPath(); path != "" {
		database, err = db.NewDB(path)
		if err != nil {
			return fmt.Errorf("failed to open session ledger: %w", err)
		}
		defer database.Close()
		opts.Ledger = db.NewSessionStore(database)
	}

	if addr := cfg.GetForward(); addr != "" {
		fwd, err := network.NewBlockForwarder(addr, cfg.GetStatsLogInterval(), clock)
		if err != nil {
			return err
		}
		defer fwd.Close()
		fwd.Start(ctx)
		opts.Forwarder = fwd
		log.Printf("forwarding decoded blocks to %s", addr)
	}

	sess, err := session.New(sessCfg, opts)
	if err != nil {
		return err
	}
	hub := pipeline.NewHub()
	sched, err := pipeline.NewScheduler(sess, scaler, buffer, hub, schedCfg, clock)
	if err != nil {
		return err
	}
	sess.AttachConsumer(sched)

	ws, err := monitor.NewWebServer(monitor.WebServerConfig{
		Address:   cfg.GetListen(),
		Session:   sess,
		Scaler:    scaler,
		Buffer:    buffer,
		Hub:       hub,
		Scheduler: sched,
		Params:    params,
		Trace:     trace,
	})
	if err != nil {
		return err
	}
	if database != nil {
		if err := database.AttachAdminRoutes(ws.ServeMux()); err != nil {
			return err
		}
	}

	// render loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("render loop error: %v", err)
		}
	}()

	// HTTP server
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ws.Start(ctx); err != nil {
			log.Printf("HTTP server error: %v", err)
			stop()
		}
	}()

	// gRPC frame stream
	var gs *grpc.Server
	if addr := cfg.GetGRPCListen(); addr != "" {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to listen for gRPC: %w", err)
		}
		gs = grpc.NewServer()
		stream.Register(gs, stream.NewServer(hub))
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("gRPC frame stream on %s", lis.Addr())
			if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				log.Printf("gRPC server error: %v", err)
			}
		}()
	}

	if *autoStart {
		if err := sess.Start(ctx, params); err != nil {
			log.Printf("autostart failed: %v", err)
		}
	}

	<-ctx.Done()
	log.Printf("shutting down...")

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sess.Stop(stopCtx); err != nil && !errors.Is(err, das.ErrSessionNotActive) {
		log.Printf("session stop: %v", err)
	}
	// Closing the hub ends every event and frame stream.
	hub.Close()
	if gs != nil {
		stopGRPC(gs, 2*time.Second)
	}
	wg.Wait()
	log.Printf("shutdown complete")
	return nil
}

// stopGRPC drains in-flight streams, forcing a stop after timeout.
func stopGRPC(gs *grpc.Server, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		gs.Stop()
		<-done
	}
}
