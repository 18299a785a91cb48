package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce пауза после последнего изменения файла перед перечиткой
const DefaultDebounce = 2 * time.Second

// TuningWatcher следит за файлом настроек и перечитывает его при изменении.
// Новые подходы получают свежие значения, начатые остаются со своими.
type TuningWatcher struct {
	path     string
	logger   *slog.Logger
	debounce time.Duration
	current  atomic.Pointer[Tuning]
	onChange func(*Tuning)
}

// NewTuningWatcher загружает файл и готовит наблюдатель
func NewTuningWatcher(path string, logger *slog.Logger, onChange func(*Tuning)) (*TuningWatcher, error) {
	t, err := LoadTuning(path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &TuningWatcher{
		path:     path,
		logger:   logger.With("component", "tuning"),
		debounce: DefaultDebounce,
		onChange: onChange,
	}
	w.current.Store(t)
	return w, nil
}

// Current последние успешно прочитанные настройки
func (w *TuningWatcher) Current() *Tuning {
	return w.current.Load()
}

// Run блокируется до отмены контекста. Следит за каталогом, а не за файлом:
// редакторы часто заменяют файл через rename.
func (w *TuningWatcher) Run(ctx context.Context) error {
	if w.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("создание наблюдателя: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("наблюдение за %s: %w", w.path, err)
	}
	w.logger.Info("наблюдение за настройками запущено", "path", w.path)

	target := filepath.Clean(w.path)
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("ошибка наблюдателя", "error", err)
		case <-timer.C:
			w.reload()
		}
	}
}

func (w *TuningWatcher) reload() {
	t, err := LoadTuning(w.path)
	if err != nil {
		// оставляем прежние значения
		w.logger.Warn("настройки не перечитаны", "path", w.path, "error", err)
		return
	}
	w.current.Store(t)
	w.logger.Info("настройки перечитаны", "path", w.path)
	if w.onChange != nil {
		w.onChange(t)
	}
}
