package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wa1ant/mount_interface/cmd/mountd/console"
	"github.com/wa1ant/mount_interface/core"
	"github.com/wa1ant/mount_interface/internal/config"
)

var (
	addr          = flag.String("addr", "127.0.0.1:8502", "address to listen on")
	rotctldAddr   = flag.String("rotctld", "", "address for the rotctld-compatible listener")
	configPath    = flag.String("config", "", "path to YAML config; empty runs the simulator with defaults")
	trackBody     = flag.String("track", "", "celestial body to track (sun, moon, planets)")
	consoleSerial = flag.String("console_serial", "", "hand controller console serial port name")
	consoleBaud   = flag.Int("console_baud", 9600, "hand controller console baud rate")
)

func main() {
	flag.Parse()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Default()
	if *configPath != "" {
		c, err := config.Load(*configPath)
		if err != nil {
			log.Fatal(err)
		}
		cfg = c
	}

	srv := NewServer(cfg)
	m, err := core.Connect(ctx, cfg, srv.statusCallback)
	if err != nil {
		log.Fatal(err)
	}
	defer m.Close()
	srv.mount = m

	if *consoleSerial != "" {
		srv.console = console.Open(ctx, *consoleSerial, *consoleBaud)
	}
	if *rotctldAddr != "" {
		if err := srv.ListenRotctld(ctx, *rotctldAddr); err != nil {
			log.Fatal(err)
		}
	}
	if *trackBody != "" {
		go func() {
			if err := srv.TrackBody(ctx, *trackBody); err != nil {
				log.Printf("tracking %q: %v", *trackBody, err)
			}
		}()
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/status", srv.StatusHandler).Methods("GET")
	r.HandleFunc("/api/ws", srv.StatusSocketHandler)
	r.HandleFunc("/api/console/ws", srv.ConsoleSocketHandler)
	httpSrv := &http.Server{
		Handler:      r,
		Addr:         *addr,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	log.Printf("listening on %s", *addr)
	log.Fatal(httpSrv.ListenAndServe())
}
