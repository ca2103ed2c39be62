package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.bug.st/serial"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/gpxassist/ridetrack/ride"
	"github.com/gpxassist/ridetrack/web"
)

// Version information - populated at build time via ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	config := ride.DefaultConfig()
	var (
		showVersion bool
		gpxFile     string
		listenAddr  string
		startSim    bool
		logFile     string
		logLevel    string
	)

	flag.BoolVar(&showVersion, "version", false, "Show version information and exit")
	flag.StringVar(&gpxFile, "gpx", "", "GPX route file to track against (required)")
	flag.StringVar(&config.BroadcastFile, "broadcast", "", "Broadcast telemetry file (default: Documents/TPVirtual/Broadcast/focus.json)")
	flag.Float64Var(&config.Delta, "delta", config.Delta, "Minimum distance step in meters before an update is emitted")
	flag.DurationVar(&config.PollInterval, "poll", config.PollInterval, "Broadcast poll interval")
	flag.DurationVar(&config.StaleAfter, "stale-after", config.StaleAfter, "Feed age after which telemetry is considered stale")
	flag.BoolVar(&startSim, "sim", false, "Start in simulation mode instead of waiting for broadcast telemetry")
	flag.Float64Var(&config.SimSpeed, "sim-speed", config.SimSpeed, "Simulation speed in km/h")
	flag.Float64Var(&config.SimWindSpeed, "sim-wind-speed", config.SimWindSpeed, "Constant wind speed reported while simulating (m/s)")
	flag.Float64Var(&config.SimWindAngle, "sim-wind-angle", config.SimWindAngle, "Constant wind angle reported while simulating (degrees)")
	flag.StringVar(&config.SerialPort, "serial", config.SerialPort, "Serial port for NMEA output (e.g., /dev/ttyUSB0, COM1)")
	flag.IntVar(&config.BaudRate, "baud", config.BaudRate, "Serial port baud rate")
	flag.StringVar(&config.RecordFile, "record", config.RecordFile, "Write emitted positions to this GPX file")
	flag.StringVar(&listenAddr, "listen", "", "Address for the status/event web server (e.g., :8080; empty = disabled)")
	flag.StringVar(&logFile, "log-file", "", "Write JSON logs to this file with rotation (default: text to stderr)")
	flag.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.BoolVar(&config.Quiet, "quiet", config.Quiet, "Suppress info messages")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nRide Tracker\n")
		fmt.Fprintf(os.Stderr, "Derives position, elevation and wind heading from a GPX route and live broadcast telemetry.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if showVersion {
		if Version != "dev" {
			fmt.Printf("v%s\n", Version)
		} else {
			fmt.Printf("%s\n", Commit)
		}
		os.Exit(0)
	}

	logger := newLogger(logFile, logLevel)

	if gpxFile == "" {
		log.Fatal("A GPX route file must be specified with -gpx")
	}

	if config.BroadcastFile == "" {
		path, err := ride.DefaultBroadcastFile()
		if err != nil {
			log.Fatalf("Failed to determine default broadcast file: %v", err)
		}
		config.BroadcastFile = path
	}

	if err := config.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Load the route and build the distance index.
	waypoints, err := ride.LoadRouteFile(gpxFile)
	if err != nil {
		log.Fatalf("Failed to load route: %v", err)
	}
	route, err := ride.NewRouteIndex(waypoints)
	if err != nil {
		log.Fatalf("Failed to index route: %v", err)
	}

	if !config.Quiet {
		fmt.Fprintf(os.Stderr, "Loaded route: %s (%d points, %.2f km)\n",
			gpxFile, len(waypoints), route.TotalDistance()/1000.0)
		fmt.Fprintf(os.Stderr, "Broadcast file: %s\n", config.BroadcastFile)
		fmt.Fprintf(os.Stderr, "Delta: %.0f m, poll: %v, stale after: %v\n",
			config.Delta, config.PollInterval, config.StaleAfter)
	}

	tracker, err := ride.NewTracker(config, route, logger)
	if err != nil {
		log.Fatalf("Failed to create tracker: %v", err)
	}

	// Optional NMEA output over a serial port.
	if config.SerialPort != "" {
		mode := &serial.Mode{
			BaudRate: config.BaudRate,
			Parity:   serial.NoParity,
			DataBits: 8,
			StopBits: serial.OneStopBit,
		}
		port, err := serial.Open(config.SerialPort, mode)
		if err != nil {
			log.Fatalf("Failed to open serial port %s: %v", config.SerialPort, err)
		}
		defer port.Close()

		writer := ride.NewNMEAWriter(port)
		tracker.AddCallback(func(ev ride.UpdateEvent) {
			if err := writer.WriteUpdate(ev); err != nil {
				logger.Warn("NMEA write failed", "error", err)
			}
		})

		if !config.Quiet {
			fmt.Fprintf(os.Stderr, "NMEA output: %s (%d baud)\n", config.SerialPort, config.BaudRate)
		}
	}

	// Optional GPX recording of emitted positions.
	var recorder *ride.TrackRecorder
	if config.RecordFile != "" {
		recorder, err = ride.NewTrackRecorder(config.RecordFile)
		if err != nil {
			log.Fatalf("Failed to create track recorder: %v", err)
		}
		tracker.AddCallback(func(ev ride.UpdateEvent) {
			recorder.Add(ev)
			if recorder.Len()%10 == 0 {
				if err := recorder.Flush(); err != nil {
					logger.Warn("track recorder flush failed", "error", err)
				}
			}
		})
		if !config.Quiet {
			fmt.Fprintf(os.Stderr, "Recording track to: %s\n", config.RecordFile)
		}
	}

	// Optional web surface for external renderers.
	if listenAddr != "" {
		server := web.NewServer(tracker, logger)
		go func() {
			if err := server.Serve(listenAddr); err != nil {
				logger.Error("web server failed", "error", err)
			}
		}()
	}

	if err := tracker.Start(); err != nil {
		log.Fatalf("Failed to start tracker: %v", err)
	}

	if startSim {
		tracker.StartSimulation()
		if !config.Quiet {
			fmt.Fprintf(os.Stderr, "Simulating at %.1f km/h\n", config.SimSpeed)
		}
	}

	if !config.Quiet {
		fmt.Fprintf(os.Stderr, "\nPress Ctrl+C to stop\n\n")
	}

	// Wait for a signal, then shut down cleanly.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	if err := tracker.Stop(); err != nil {
		log.Printf("Error stopping tracker: %v", err)
	}
	if recorder != nil {
		if err := recorder.Close(); err != nil {
			log.Printf("Error closing track recorder: %v", err)
		}
	}

	// Give in-flight callbacks a moment to finish.
	time.Sleep(100 * time.Millisecond)
}

// newLogger builds the application logger: JSON with rotation when a log
// file is configured, text to stderr otherwise
func newLogger(logFile, level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		fmt.Fprintf(os.Stderr, "%s: invalid log level, using info\n", level)
	}

	var handler slog.Handler
	if logFile != "" {
		w := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    32, // MB
			MaxBackups: 2,
		}
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	}

	return slog.New(handler)
}
