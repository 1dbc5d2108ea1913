package orchestrator

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"codeforge/internal/config"
	"codeforge/internal/logging"
)

// Monitor forwards events to a local observability endpoint over HTTP.
// It is best effort: the endpoint being down never slows or fails a
// turn.
type Monitor struct {
	endpoint string
	client   *http.Client
	wg       sync.WaitGroup
}

// NewMonitor creates a monitor for the configured endpoint.
func NewMonitor(cfg config.MonitorConfig) *Monitor {
	return &Monitor{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: 2 * time.Second},
	}
}

// Observer returns the ObserverFunc to subscribe on an emitter. Posts
// happen on a background goroutine so emission never blocks.
func (m *Monitor) Observer() ObserverFunc {
	return func(event Event) error {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.post(event)
		}()
		return nil
	}
}

// Flush waits for in-flight posts. Called on shutdown.
func (m *Monitor) Flush() {
	m.wg.Wait()
}

func (m *Monitor) post(event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		return
	}
	resp, err := m.client.Post(m.endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		logging.EventsDebug("monitor post failed: %v", err)
		return
	}
	resp.Body.Close()
}
