// Package notifications pushes violation and capture events to an external
// webhook (an invigilation dashboard, a chat hook, whatever the deployment
// wires up). Delivery is best effort: the violation log in violationdb
// remains the authoritative record.
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/azrihasin/proctoring/server/engine"
	"github.com/cyclopcam/logs"
)

// Throttle for repeated delivery failure logs
const failureWarnInterval = 60 * time.Second

// Notifier is responsible for delivering engine events to the webhook.
// It consumes the engine's event bus on its own goroutine, so a slow
// webhook endpoint never affects the tick loop.
type Notifier struct {
	ShutdownComplete chan bool // Closed when we have shutdown

	log         logs.Log
	engine      *engine.Engine
	client      *http.Client
	httpTimeout time.Duration
	shutdown    chan bool

	urlLock sync.Mutex
	url     string

	NumSent   atomic.Int64
	NumFailed atomic.Int64

	lastFailureWarn time.Time
}

// webhookPayload is the JSON body we POST for each event
type webhookPayload struct {
	Station string       `json:"station"` // Hostname-ish identifier of this exam station
	Event   engine.Event `json:"event"`
}

func NewNotifier(log logs.Log, eng *engine.Engine, webhookURL string) *Notifier {
	n := &Notifier{
		ShutdownComplete: make(chan bool),
		log:              logs.NewPrefixLogger(log, "Notifier:"),
		engine:           eng,
		url:              webhookURL,
		httpTimeout:      10 * time.Second,
		client:           &http.Client{},
		shutdown:         make(chan bool),
	}
	go n.run()
	return n
}

// SetURL swaps the webhook destination (config hot reload). An empty URL
// pauses delivery.
func (n *Notifier) SetURL(url string) {
	n.urlLock.Lock()
	n.url = url
	n.urlLock.Unlock()
}

func (n *Notifier) currentURL() string {
	n.urlLock.Lock()
	defer n.urlLock.Unlock()
	return n.url
}

func (n *Notifier) Close() {
	close(n.shutdown)
	<-n.ShutdownComplete
}

func (n *Notifier) run() {
	n.log.Infof("Notifier thread starting")
	events := n.engine.AddEventWatcher()

	keepRunning := true
	for keepRunning {
		select {
		case <-n.shutdown:
			keepRunning = false
		case ev := <-events:
			if n.shouldSend(ev) {
				n.send(ev)
			}
		}
	}

	n.engine.RemoveEventWatcher(events)
	n.log.Infof("Notifier thread shutdown complete (%v sent, %v failed)", n.NumSent.Load(), n.NumFailed.Load())
	close(n.ShutdownComplete)
}

// Extends fire on every confirmed tick, which is far too chatty for an
// outbound hook. Everything else goes out.
func (n *Notifier) shouldSend(ev engine.Event) bool {
	switch ev.Type {
	case engine.EventExtend, engine.EventSuppressed:
		return false
	}
	return true
}

func (n *Notifier) send(ev engine.Event) {
	url := n.currentURL()
	if url == "" {
		return
	}
	body, err := json.Marshal(&webhookPayload{Station: hostname(), Event: ev})
	if err != nil {
		n.noteFailure(err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), n.httpTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		n.noteFailure(err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		n.noteFailure(err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		n.noteFailure(&httpStatusError{resp.StatusCode})
		return
	}
	n.NumSent.Add(1)
}

func (n *Notifier) noteFailure(err error) {
	n.NumFailed.Add(1)
	if time.Since(n.lastFailureWarn) > failureWarnInterval {
		n.lastFailureWarn = time.Now()
		n.log.Warnf("Webhook delivery failed: %v", err)
	}
}

type httpStatusError struct {
	code int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("webhook returned %v %v", e.code, http.StatusText(e.code))
}

var hostnameOnce sync.Once
var cachedHostname string

func hostname() string {
	hostnameOnce.Do(func() {
		cachedHostname, _ = os.Hostname()
	})
	return cachedHostname
}
