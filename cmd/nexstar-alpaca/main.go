package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"nexstar/pkg/alpaca"
	"nexstar/pkg/drivers/celestron"
	"nexstar/pkg/drivers/simulator"
	"nexstar/pkg/nexstar"
	"nexstar/pkg/serialport"
	"nexstar/templates"

	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
	bolt "go.etcd.io/bbolt"
)

func setLogLevel(c *cli.Context) error {
	if c.Bool("debug") {
		log.SetLevel(log.DebugLevel)
	}
	return nil
}

func driverOptions(c *cli.Context) []celestron.Option {
	opts := []celestron.Option{
		celestron.WithSerialDevice(c.String("device")),
		celestron.WithBaud(c.Int("baud")),
	}
	if c.Bool("simulate") {
		opts = append(opts, celestron.WithSimulation())
	}
	return opts
}

func serve(c *cli.Context) error {
	log.Info("NexStar Alpaca Server")

	tmpl, err := templates.LoadTemplates()
	if err != nil {
		return fmt.Errorf("failed to load templates: %v", err)
	}

	db, err := bolt.Open(c.String("db"), 0600, nil)
	if err != nil {
		return fmt.Errorf("failed to open database: %v", err)
	}
	defer db.Close()

	store, err := alpaca.NewStore(db)
	if err != nil {
		return fmt.Errorf("failed to create store: %v", err)
	}

	telescope, err := celestron.NewDriver(0, db, tmpl, log.WithField("device", "telescope"), driverOptions(c)...)
	if err != nil {
		return fmt.Errorf("failed to create telescope driver: %v", err)
	}
	defer telescope.Close()

	serverDesc := alpaca.ServerDescription{
		Name:                "NexStar Alpaca Server",
		Manufacturer:        "Celestron NexStar",
		ManufacturerVersion: "1.0",
		Location:            "Observatory",
	}

	server := alpaca.NewServer(serverDesc, []alpaca.Device{telescope}, store, tmpl)

	mux := server.AddRoutes()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", c.Int("port")),
		Handler: mux,
	}

	// Channel to listen for interrupt or terminate signals
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		log.Debugf("Server started on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", srv.Addr, err)
		}
		wg.Done()
	}()

	dr, err := alpaca.NewDiscoveryResponder("0.0.0.0", c.Int("port"), log.WithField("component", "discovery"))
	if err != nil {
		return fmt.Errorf("failed to start discovery responder: %v", err)
	}

	wg.Add(1)
	go func() {
		if err := dr.Run(ctx); err != nil {
			log.Errorf("Discovery responder failed: %v", err)
		}
		wg.Done()
		log.Debug("Discovery responder stopped")
	}()

	<-ctx.Done()

	log.Info("Shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx2); err != nil {
		return fmt.Errorf("server forced to shutdown: %v", err)
	}

	wg.Wait()
	log.Info("Server stopped")
	return nil
}

// openMount connects to the hand controller named on the command line.
func openMount(c *cli.Context) (*nexstar.NexStar, io.Closer, error) {
	logger := log.WithField("component", "nexstar")

	if c.Bool("simulate") {
		h := simulator.NewHandset(simulator.DefaultConfig, logger)
		return nexstar.New(h, h, nexstar.WithLogger(logger)), io.NopCloser(nil), nil
	}

	cfg := serialport.DefaultConfig(c.String("device"))
	if baud := c.Int("baud"); baud > 0 {
		cfg.Baud = baud
	}
	port, err := serialport.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	return nexstar.New(port, port, nexstar.WithLogger(logger)), port, nil
}

// info prints the firmware versions and model of the connected mount.
func info(c *cli.Context) error {
	mount, closer, err := openMount(c)
	if err != nil {
		return err
	}
	defer closer.Close()

	version, err := mount.Version()
	if err != nil {
		return fmt.Errorf("failed to read hand controller version: %w", err)
	}
	fmt.Printf("Hand controller version: %s\n", version)

	for _, dev := range nexstar.Devices {
		v, err := mount.DeviceVersion(dev)
		switch {
		case nexstar.IsUnexpectedResponse(err):
			fmt.Printf("%s version: not present\n", dev)
		case err != nil:
			return fmt.Errorf("failed to read %s version: %w", dev, err)
		default:
			fmt.Printf("%s version: %s\n", dev, v)
		}
	}

	model, err := mount.Model()
	if err != nil {
		return fmt.Errorf("failed to read model: %w", err)
	}
	fmt.Printf("Model: %s\n", model)

	aligned, err := mount.IsAlignmentComplete()
	if err != nil {
		return fmt.Errorf("failed to read alignment: %w", err)
	}
	fmt.Printf("Aligned: %v\n", aligned)

	loc, err := mount.Location()
	if err != nil {
		return fmt.Errorf("failed to read location: %w", err)
	}
	fmt.Printf("Location: %.5f, %.5f\n", loc.Latitude, loc.Longitude)

	dt, err := mount.DateTime()
	if err != nil {
		return fmt.Errorf("failed to read date/time: %w", err)
	}
	fmt.Printf("Date/time: %s\n", dt.Time().Format(time.RFC3339))

	return nil
}

func ports(c *cli.Context) error {
	list, err := serialport.List()
	if err != nil {
		return err
	}
	for _, p := range list {
		fmt.Println(p)
	}
	return nil
}

func main() {
	app := cli.App{
		Name:  "nexstar-alpaca",
		Usage: "ASCOM Alpaca server for Celestron NexStar telescopes",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "Enable debug logging",
				Value:   false,
				EnvVars: []string{"DEBUG"},
			},
			&cli.StringFlag{
				Name:    "device",
				Usage:   "Serial device of the hand controller (overrides the stored setting)",
				EnvVars: []string{"NEXSTAR_DEVICE"},
			},
			&cli.IntFlag{
				Name:    "baud",
				Usage:   "Serial baud rate (overrides the stored setting)",
				EnvVars: []string{"NEXSTAR_BAUD"},
			},
			&cli.BoolFlag{
				Name:    "simulate",
				Usage:   "Use the simulated hand controller",
				EnvVars: []string{"NEXSTAR_SIMULATE"},
			},
		},
		Before: setLogLevel,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the Alpaca server",
				Action: serve,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "port",
						Aliases: []string{"p"},
						Usage:   "Port to listen on",
						Value:   8090,
						EnvVars: []string{"ALPACA_PORT"},
					},
					&cli.StringFlag{
						Name:    "db",
						Usage:   "Configuration database",
						Value:   "nexstar.db",
						EnvVars: []string{"NEXSTAR_DB"},
					},
				},
			},
			{
				Name:   "info",
				Usage:  "Print the hand controller's firmware versions and model",
				Action: info,
			},
			{
				Name:   "ports",
				Usage:  "List serial ports",
				Action: ports,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Error: %v", err)
	}
}
