// Package monitoring turns a running engine into a small HTTP server so
// that the simulation can be observed and controlled from outside the
// process. A monitor failure never affects the engine.
package monitoring

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/shirou/gopsutil/process"
	"go.uber.org/zap"

	"github.com/sablecraft/simtick/tick"
)

// Monitor exposes engine control and batch metrics over HTTP.
type Monitor struct {
	engine *tick.Engine
	batch  *tick.BatchScheduler
	logger *zap.Logger

	portNumber  int
	openBrowser bool
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	return &Monitor{logger: zap.NewNop()}
}

// WithPortNumber sets the port of the monitoring server. Ports below 1000
// are rejected and replaced with a random port.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is not allowed for the monitoring server. "+
				"Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithBrowser opens the monitor URL in the host browser once the server is
// listening.
func (m *Monitor) WithBrowser() *Monitor {
	m.openBrowser = true
	return m
}

// WithLogger sets the logger used for server-side failures.
func (m *Monitor) WithLogger(logger *zap.Logger) *Monitor {
	m.logger = logger
	return m
}

// RegisterEngine registers the engine under monitoring.
func (m *Monitor) RegisterEngine(e *tick.Engine) {
	m.engine = e
}

// RegisterBatchScheduler registers the batch scheduler whose metrics the
// monitor serves.
func (m *Monitor) RegisterBatchScheduler(s *tick.BatchScheduler) {
	m.batch = s
}

// StartServer starts the monitoring HTTP server and returns the address it
// listens on.
func (m *Monitor) StartServer() (string, error) {
	r := mux.NewRouter()
	r.HandleFunc("/api/pause", m.pauseEngine)
	r.HandleFunc("/api/resume", m.resumeEngine)
	r.HandleFunc("/api/now", m.now)
	r.HandleFunc("/api/speed/{setting}", m.setSpeed)
	r.HandleFunc("/api/tick", m.manualTick)
	r.HandleFunc("/api/metrics", m.metrics)
	r.HandleFunc("/api/resource", m.listResources)

	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	if err != nil {
		return "", err
	}

	addr := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	fmt.Fprintf(os.Stderr, "Monitoring simulation with %s\n", addr)

	go func() {
		if err := http.Serve(listener, r); err != nil {
			m.logger.Warn("monitoring server stopped", zap.Error(err))
		}
	}()

	if m.openBrowser {
		if err := browser.OpenURL(addr); err != nil {
			m.logger.Warn("cannot open browser", zap.Error(err))
		}
	}

	return addr, nil
}

func (m *Monitor) pauseEngine(w http.ResponseWriter, _ *http.Request) {
	m.engine.Pause()
	w.WriteHeader(http.StatusOK)
}

func (m *Monitor) resumeEngine(w http.ResponseWriter, _ *http.Request) {
	m.engine.Resume()
	w.WriteHeader(http.StatusOK)
}

func (m *Monitor) now(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprintf(w, `{"tick":%d,"state":"%s","speed":"%s"}`,
		m.engine.TickCount(), m.engine.State(), m.engine.Speed())
}

func (m *Monitor) setSpeed(w http.ResponseWriter, r *http.Request) {
	setting := mux.Vars(r)["setting"]
	m.engine.SetSpeed(tick.ParseSpeed(setting))
	w.WriteHeader(http.StatusOK)
}

func (m *Monitor) manualTick(w http.ResponseWriter, _ *http.Request) {
	if err := m.engine.ManualTick(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (m *Monitor) metrics(w http.ResponseWriter, _ *http.Request) {
	if m.batch == nil {
		http.Error(w, "no batch scheduler registered", http.StatusNotFound)
		return
	}

	if err := json.NewEncoder(w).Encode(m.batch.MetricsSnapshot()); err != nil {
		m.logger.Warn("cannot encode metrics", zap.Error(err))
	}
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	memInfo, err := proc.MemoryInfo()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	fmt.Fprintf(w, `{"cpu_percent":%f,"memory_rss":%d}`,
		cpuPercent, memInfo.RSS)
}
