package config

import (
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// WatchLogLevel re-applies LOG_LEVEL from the .env file whenever it changes,
// so operators can turn debug logging on without a restart. Returns the
// watcher so the caller can close it on shutdown; returns nil without error
// when the file does not exist.
func WatchLogLevel(logger *logrus.Logger, path string) (*fsnotify.Watcher, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat %q: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", path, err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				values, err := godotenv.Read(path)
				if err != nil {
					logger.WithError(err).Warn("Failed to re-read config file")
					continue
				}
				levelName, exists := values["LOG_LEVEL"]
				if !exists {
					continue
				}
				level, err := logrus.ParseLevel(levelName)
				if err != nil {
					logger.WithField("level", levelName).Warn("Ignoring unknown log level")
					continue
				}
				if logger.GetLevel() != level {
					logger.SetLevel(level)
					logger.WithField("level", level.String()).Info("Log level updated from config file")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("Config watcher error")
			}
		}
	}()

	return watcher, nil
}
