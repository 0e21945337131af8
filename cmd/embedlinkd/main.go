// Command embedlinkd opens a link on a serial device and keeps it
// running, exporting its counters over Prometheus and logging
// connection events. It is a minimal wiring demonstration, not an
// interactive console — grounded on the flag parsing and
// connect/retrieve/serve shape of amken3d-gopper's
// host/cmd/gopper-host/main.go.
package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"embedlink/linkhost"
)

func main() {
	device := flag.String("device", "/dev/ttyACM0", "serial device path")
	baud := flag.Int("baud", 115200, "baud rate")
	metricsAddr := flag.String("metrics-addr", ":9110", "Prometheus /metrics listen address")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	log := logrus.StandardLogger()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg := linkhost.DefaultConfig(*device)
	cfg.Serial.Baud = *baud

	host, err := linkhost.Open(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to open link")
	}
	defer host.Close()

	log.WithFields(logrus.Fields{"host_id": host.ID, "device": *device, "baud": *baud}).Info("link opened")

	reg := prometheus.NewRegistry()
	reg.MustRegister(host.Metrics())
	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server stopped")
		}
	}()
	log.WithField("addr", *metricsAddr).Info("serving metrics")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")
}
