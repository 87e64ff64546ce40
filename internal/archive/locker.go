package archive

import (
	"path/filepath"
	"strconv"
	"sync"
)

// Locker serialises writers per archive path. The zero value is ready to use.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Lock blocks until path is free and returns the matching unlock function.
func (l *Locker) Lock(path string) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[path]
	if !ok {
		m = &sync.Mutex{}
		l.locks[path] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Layout builds archive paths below a storage root.
type Layout struct {
	// Root is the storage directory, e.g. "data".
	Root string

	// PMDir is the per-location directory for air-quality archives.
	PMDir string

	// WeatherDir is the per-location directory for weather archives.
	WeatherDir string
}

// Sensor returns <root>/<location>/<pm-dir>/<index>.csv.
func (l Layout) Sensor(location string, index int) string {
	return filepath.Join(l.Root, location, l.PMDir, strconv.Itoa(index)+".csv")
}

// Station returns <root>/<location>/<weather-dir>/<station>/<name>.
func (l Layout) Station(location, stationID, name string) string {
	return filepath.Join(l.Root, location, l.WeatherDir, stationID, name)
}
