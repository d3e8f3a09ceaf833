package rules

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher 监听规则和词典文件，变化后防抖触发回调
// 监听的是文件所在目录，编辑器先写临时文件再重命名的保存方式也能被捕获
type Watcher struct {
	files    map[string]struct{}
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onChange func(ctx context.Context, path string)
	logger   *zap.Logger

	mu      sync.Mutex
	timer   *time.Timer
	pending map[string]struct{}
}

// NewWatcher 创建文件监听器
func NewWatcher(paths []string, debounce time.Duration, onChange func(ctx context.Context, path string), logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监听失败: %w", err)
	}

	w := &Watcher{
		files:    make(map[string]struct{}),
		pending:  make(map[string]struct{}),
		watcher:  fw,
		debounce: debounce,
		onChange: onChange,
		logger:   logger,
	}

	dirs := make(map[string]struct{})
	for _, p := range paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			fw.Close()
			return nil, fmt.Errorf("解析路径%s失败: %w", p, err)
		}
		w.files[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, fmt.Errorf("监听目录%s失败: %w", dir, err)
		}
	}
	return w, nil
}

// Run 阻塞直到ctx取消，返回前关闭底层监听
func (w *Watcher) Run(ctx context.Context) error {
	defer func() {
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		w.watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}
			if _, watched := w.files[abs]; !watched {
				continue
			}
			w.logger.Info("Rule file change detected",
				zap.String("file", abs),
				zap.String("op", event.Op.String()))
			w.schedule(ctx, abs)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Rule file watcher error", zap.Error(err))
		}
	}
}

// schedule 防抖，窗口内同一文件的多次变化只触发一次回调
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[path] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		w.mu.Lock()
		paths := make([]string, 0, len(w.pending))
		for p := range w.pending {
			paths = append(paths, p)
		}
		w.pending = make(map[string]struct{})
		w.mu.Unlock()

		sort.Strings(paths)
		for _, p := range paths {
			w.onChange(ctx, p)
		}
	})
}
