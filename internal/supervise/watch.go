package supervise

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch-file mode is used for plan-writing invocations: agents tend to idle
// after producing the artifact, so the supervisor terminates the child once
// the target file appears with a plausible size.

const watchPollInterval = 2 * time.Second

type watcher struct {
	stopOnce sync.Once
	stopCh   chan struct{}
}

func (w *watcher) stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// WatchFile arms watch-file mode on a running child: once target exists
// with size >= minSize, the child is terminated with the given grace. The
// watcher dies with the child. fsnotify on the parent directory gives a
// prompt reaction; a poll ticker backstops missed events.
func (p *Process) WatchFile(target string, minSize int64, grace time.Duration) {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	if p.watch != nil {
		p.watch.stop()
	}
	w := &watcher{stopCh: make(chan struct{})}
	p.watch = w
	done := p.done
	p.mu.Unlock()

	go p.watchLoop(w, done, target, minSize, grace)
}

func (p *Process) watchLoop(w *watcher, done chan struct{}, target string, minSize int64, grace time.Duration) {
	var events chan fsnotify.Event
	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		defer fsw.Close()
		if addErr := fsw.Add(filepath.Dir(target)); addErr == nil {
			events = make(chan fsnotify.Event, 16)
			go func() {
				for ev := range fsw.Events {
					select {
					case events <- ev:
					default:
					}
				}
			}()
		}
	}

	ticker := time.NewTicker(watchPollInterval)
	defer ticker.Stop()

	ready := func() bool {
		info, err := os.Stat(target)
		return err == nil && info.Size() >= minSize
	}

	for {
		select {
		case <-done:
			return
		case <-w.stopCh:
			return
		case ev := <-events:
			if ev.Name != target {
				continue
			}
			if ready() {
				p.logger.Debug("watch file ready, terminating child", "target", target)
				_ = p.Terminate(grace)
				return
			}
		case <-ticker.C:
			if ready() {
				p.logger.Debug("watch file ready, terminating child", "target", target)
				_ = p.Terminate(grace)
				return
			}
		}
	}
}
