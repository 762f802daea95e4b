// Lumend is the desktop light machine daemon: it boots the program store,
// serves the wire protocol over TCP or serial and runs the render loop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tliron/commonlog"

	"github.com/chazu/lumen/config"
	"github.com/chazu/lumen/host"
	"github.com/chazu/lumen/pliot"
	"github.com/chazu/lumen/storage"
	"github.com/chazu/lumen/vm"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("lumen")

func main() {
	configPath := flag.String("config", "", "TOML configuration file (defaults apply when omitted)")
	verbosity := flag.Int("v", 1, "Log verbosity")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: lumend [options]\n\n")
		fmt.Fprintf(os.Stderr, "Runs the light machine daemon.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	commonlog.Configure(*verbosity, nil)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fatal("%v", err)
		}
		cfg = loaded
	}

	dev, closeDev, err := openDevice(&cfg.Device)
	if err != nil {
		fatal("%v", err)
	}
	defer closeDev()

	strips := make([]host.Strip, len(cfg.Strips))
	for i, s := range cfg.Strips {
		strips[i] = host.Strip{Machines: s.Machines, Leds: s.Leds}
	}

	ctrl, err := host.NewController(dev, strips, cfg.FramePeriod())
	if err != nil {
		fatal("%v", err)
	}
	if err := ctrl.Boot(); err != nil {
		fatal("boot: %v", err)
	}

	ln, err := openListener(&cfg.Transport)
	if err != nil {
		fatal("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := ctrl.Serve(ctx, ln); err != nil && ctx.Err() == nil {
			log.Errorf("serve: %s", err.Error())
			stop()
		}
	}()

	// LED output drivers are external; the daemon renders to keep program
	// state advancing and discards the frames.
	if err := ctrl.Run(ctx, func([][]vm.Color) error { return nil }); err != nil && ctx.Err() == nil {
		fatal("render: %v", err)
	}
}

func openDevice(cfg *config.Device) (storage.Device, func(), error) {
	if cfg.Path == "" {
		return storage.NewMemoryDevice(cfg.Size, cfg.WriteAlign, cfg.EraseAlign), func() {}, nil
	}
	dev, err := storage.OpenBoltDevice(cfg.Path, cfg.Size, cfg.WriteAlign, cfg.EraseAlign)
	if err != nil {
		return nil, nil, err
	}
	return dev, func() { dev.Close() }, nil
}

func openListener(cfg *config.Transport) (pliot.Listener, error) {
	if cfg.TCP != "" {
		log.Infof("serving tcp %s", cfg.TCP)
		return pliot.ListenTCP(cfg.TCP)
	}
	log.Infof("serving serial %s @ %d", cfg.SerialPort, cfg.Baud)
	return pliot.ListenSerial(cfg.SerialPort, cfg.Baud)
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "lumend: "+format+"\n", args...)
	os.Exit(1)
}
