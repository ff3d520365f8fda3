// Package server coordinates the bus event pipeline and broadcasts
// device state to WebSocket clients.
package server

import (
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/weighworks/loadcell-dash/internal/logger"
	"github.com/weighworks/loadcell-dash/internal/protocol"
	"github.com/weighworks/loadcell-dash/internal/registry"
	"github.com/weighworks/loadcell-dash/internal/scale"
	"github.com/weighworks/loadcell-dash/internal/stability"
)

// Server owns the single scan-decode-register consumer and the WebSocket
// hub. All registry mutation happens on the event loop goroutine; HTTP
// handlers only call the registry's locked entry points.
type Server struct {
	cfg    *Config
	bus    scale.Bus
	reg    *registry.Registry
	webFS  fs.FS
	logger *logger.Logger

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader

	detectors   map[byte]*stability.Detector
	detectorsMu sync.Mutex
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// DeviceView is one device's state plus stability info, as sent to
// clients.
type DeviceView struct {
	registry.DeviceState
	Stable       bool    `json:"stable"`
	StableWeight float64 `json:"stableWeight"`
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	Devices []DeviceView `json:"devices,omitempty"`
	Dropped uint64       `json:"dropped"` // noise bytes discarded so far
	Stamp   int64        `json:"stamp"`   // Unix ms
}

// New creates a new Server.
func New(cfg *Config, bus scale.Bus, reg *registry.Registry, webFS fs.FS) *Server {
	return &Server{
		cfg:   cfg,
		bus:   bus,
		reg:   reg,
		webFS: webFS,
		logger: logger.New(logger.Config{
			Enabled:    cfg.Logging.Enabled,
			Path:       cfg.Logging.Path,
			IntervalMs: cfg.Logging.Interval,
		}),
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		detectors: make(map[byte]*stability.Detector),
	}
}

// Run starts the HTTP server and the event/broadcast loops.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.Handle("/", http.FileServer(http.FS(s.webFS)))
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/devices", s.handleDevices)
	mux.HandleFunc("/api/zero", s.handleZero)
	mux.HandleFunc("/api/calibrate", s.handleCalibrate)

	go s.eventLoop(ctx)
	go s.broadcastLoop(ctx)

	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[server] listening on %s", s.cfg.Server.ListenAddr)
	return srv.ListenAndServe()
}

// eventLoop is the single consumer of decoded bus events.
func (s *Server) eventLoop(ctx context.Context) {
	events := s.bus.Subscribe(256)
	for {
		select {
		case <-ctx.Done():
			s.logger.Close()
			return
		case ev := <-events:
			s.handleEvent(ev)
		}
	}
}

func (s *Server) handleEvent(ev protocol.Event) {
	switch ev.Kind {
	case protocol.EventWeight:
		st := s.reg.Record(ev.Address, *ev.Weight)
		if s.detector(ev.Address).Push(st.LastCalibratedGrams) {
			log.Printf("[server] device 0x%02X settled at %.1f g",
				ev.Address, s.detector(ev.Address).StableWeight())
		}
	case protocol.EventID:
		log.Printf("[server] device 0x%02X id % X", ev.Address, ev.ID.ID)
	case protocol.EventParams:
		p := ev.Params
		log.Printf("[server] device 0x%02X params: %s, resolution %.1f g, capacity %.0f g",
			ev.Address, p.KindName, p.ResolutionGrams, p.MaxWeightGrams)
	}
}

func (s *Server) detector(addr byte) *stability.Detector {
	s.detectorsMu.Lock()
	defer s.detectorsMu.Unlock()
	d, ok := s.detectors[addr]
	if !ok {
		d = stability.NewDetector(s.cfg.Stability.WindowSize, s.cfg.Stability.ToleranceGrams)
		s.detectors[addr] = d
	}
	return d
}

// broadcastLoop pushes a snapshot frame to all clients at the bus poll
// rate and records samples to the CSV log.
func (s *Server) broadcastLoop(ctx context.Context) {
	hz := s.cfg.Bus.PollHz
	if hz <= 0 {
		hz = 20
	}
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			devices := s.reg.Snapshot()
			if len(devices) == 0 {
				continue
			}
			s.broadcast(Frame{
				Devices: s.withStability(devices),
				Dropped: s.bus.Dropped(),
				Stamp:   time.Now().UnixMilli(),
			})
			s.logger.Record(devices)
		}
	}
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

func (s *Server) withStability(devices []registry.DeviceState) []DeviceView {
	views := make([]DeviceView, len(devices))
	for i, d := range devices {
		det := s.detector(d.Address)
		views[i] = DeviceView{
			DeviceState:  d,
			Stable:       det.Stable(),
			StableWeight: det.StableWeight(),
		}
	}
	return views
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	s.clientsMu.Unlock()

	log.Printf("[ws] client connected (%d total)", len(s.clients))

	// Send the current snapshot immediately
	initial := Frame{
		Devices: s.withStability(s.reg.Snapshot()),
		Dropped: s.bus.Dropped(),
		Stamp:   time.Now().UnixMilli(),
	}
	if data, err := json.Marshal(initial); err == nil {
		client.send <- data
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (handle incoming messages / keep-alive)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			s.clientsMu.Unlock()
			close(client.send)
			log.Printf("[ws] client disconnected (%d total)", len(s.clients))
		}()
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				break
			}
		}
	}()
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", 400)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		if err := s.cfg.Save(); err != nil {
			log.Printf("[config] save failed: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))

	default:
		http.Error(w, "method not allowed", 405)
	}
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", 405)
		return
	}
	data, err := json.Marshal(s.withStability(s.reg.Snapshot()))
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// handleZero tares one device. With hardware=1 the tare command is also
// broadcast on the bus so the transducer re-zeroes its own baseline.
func (s *Server) handleZero(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	addr, ok := parseAddr(w, r)
	if !ok {
		return
	}
	if err := s.reg.Zero(addr); err != nil {
		http.Error(w, err.Error(), 404)
		return
	}
	if r.URL.Query().Get("hardware") == "1" {
		if err := s.bus.Send(protocol.ZeroSetCommand()); err != nil {
			log.Printf("[server] hardware zero failed: %v", err)
		}
	}
	log.Printf("[server] zeroed device 0x%02X", addr)
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	addr, ok := parseAddr(w, r)
	if !ok {
		return
	}
	known, err := strconv.ParseFloat(r.URL.Query().Get("known"), 64)
	if err != nil {
		http.Error(w, "missing or invalid known weight", 400)
		return
	}
	if err := s.reg.Calibrate(addr, known); err != nil {
		http.Error(w, err.Error(), 409)
		return
	}
	log.Printf("[server] calibrated device 0x%02X against %.1f g", addr, known)
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// parseAddr reads the addr query parameter, accepting decimal or 0x hex.
func parseAddr(w http.ResponseWriter, r *http.Request) (byte, bool) {
	v, err := strconv.ParseUint(r.URL.Query().Get("addr"), 0, 8)
	if err != nil {
		http.Error(w, "missing or invalid addr", 400)
		return 0, false
	}
	return byte(v), true
}
