package config

import (
	"time"

	"github.com/cyclopcam/logs"
	"github.com/fsnotify/fsnotify"
)

// Debounce: editors often write a config file in several operations, so we
// wait for the writes to settle before reloading.
const reloadSettleTime = 500 * time.Millisecond

// Watcher reloads the config file when it changes on disk. A valid new file
// is handed to onChange; an invalid one is logged and ignored, so a typo
// never takes down a running session.
type Watcher struct {
	log      logs.Log
	filename string
	watcher  *fsnotify.Watcher
	onChange func(*Config)
	shutdown chan bool
	stopped  chan bool
}

func NewWatcher(log logs.Log, filename string, onChange func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filename); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &Watcher{
		log:      logs.NewPrefixLogger(log, "ConfigWatcher:"),
		filename: filename,
		watcher:  fsw,
		onChange: onChange,
		shutdown: make(chan bool),
		stopped:  make(chan bool),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) Close() {
	close(w.shutdown)
	<-w.stopped
}

func (w *Watcher) run() {
	var settle *time.Timer
	defer func() {
		if settle != nil {
			settle.Stop()
		}
		w.watcher.Close()
		close(w.stopped)
	}()

	for {
		select {
		case <-w.shutdown:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if settle != nil {
					settle.Stop()
				}
				settle = time.AfterFunc(reloadSettleTime, w.reload)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warnf("Watch error: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.filename)
	if err != nil {
		w.log.Errorf("Ignoring config change: %v", err)
		return
	}
	w.log.Infof("Config file changed, applying")
	w.onChange(cfg)
}
