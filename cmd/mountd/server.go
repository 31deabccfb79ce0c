package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wa1ant/mount_interface/cmd/mountd/console"
	"github.com/wa1ant/mount_interface/core"
	"github.com/wa1ant/mount_interface/internal/config"
	"github.com/wa1ant/mount_interface/mount"
)

type Server struct {
	cfg     *config.Config
	mount   *core.Mount
	console *console.Console

	statusMu   sync.RWMutex
	statusCond *sync.Cond
	status     core.Status
}

func NewServer(cfg *config.Config) *Server {
	s := &Server{cfg: cfg}
	s.statusCond = sync.NewCond(s.statusMu.RLocker())
	return s
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) statusCallback(status core.Status) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status = status
	s.statusCond.Broadcast()
}

func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	s.statusMu.RLock()
	status := s.status
	s.statusMu.RUnlock()
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(status)
	if err != nil {
		log.Print(err)
		return
	}
	w.Write(data)
}

// Command is one websocket control message.
type Command struct {
	Command    string  `json:"command"`
	RA         float64 `json:"ra"`
	Dec        float64 `json:"dec"`
	Alt        float64 `json:"alt"`
	Az         float64 `json:"az"`
	Track      bool    `json:"track"`
	Axis       string  `json:"axis"`
	Direction  string  `json:"direction"`
	DurationMs int     `json:"duration_ms"`
}

func (s *Server) dispatch(ctx context.Context, msg Command) error {
	switch msg.Command {
	case "slew_radec":
		return s.mount.SlewToCoordinates(ctx, msg.RA, msg.Dec, msg.Track)
	case "slew_altaz":
		return s.mount.SlewToAltAz(ctx, msg.Alt, msg.Az)
	case "park":
		return s.mount.Park(ctx)
	case "find_home":
		return s.mount.FindHome(ctx)
	case "sync":
		return s.mount.SyncTo(ctx, msg.RA, msg.Dec)
	case "abort":
		s.mount.AbortSlew()
		return nil
	case "pulse_guide":
		axis := mount.AxisRA
		if msg.Axis == "dec" {
			axis = mount.AxisDec
		}
		dir := mount.GuidePlus
		if msg.Direction == "-" {
			dir = mount.GuideMinus
		}
		return s.mount.PulseGuide(axis, dir, time.Duration(msg.DurationMs)*time.Millisecond)
	}
	log.Printf("unknown command %q", msg.Command)
	return nil
}

// ConsoleSocketHandler streams the hand-controller screen as HTML
// frames and forwards incoming messages to it as keypresses.
func (s *Server) ConsoleSocketHandler(w http.ResponseWriter, r *http.Request) {
	if s.console == nil {
		http.Error(w, "console not configured", http.StatusNotFound)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}
	go func() {
		fw := s.console.WatchFrames()
		for {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(fw.Next())); err != nil {
				return
			}
		}
	}()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return
		}
		if err := s.console.SendKeys(string(data)); err != nil {
			log.Printf("console: %v", err)
		}
	}
}

func (s *Server) StatusSocketHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, cancel := context.WithCancel(ctx)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	// Read and process incoming messages
	go func() {
		for {
			var msg Command
			if err := conn.ReadJSON(&msg); err != nil {
				cancel()
				conn.Close()
				break
			}
			if err := s.dispatch(ctx, msg); err != nil {
				log.Printf("%s: %v", msg.Command, err)
			}
		}
	}()

	send := func(status core.Status) {
		data, err := json.Marshal(status)
		if err != nil {
			log.Print(err)
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Print(err)
			return
		}
	}

	s.statusMu.RLock()
	status := s.status
	s.statusMu.RUnlock()
	send(status)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.statusMu.RLock()
		s.statusCond.Wait()
		status := s.status
		s.statusMu.RUnlock()
		send(status)
	}
}
