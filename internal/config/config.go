// Package config loads and hot-reloads the worker's YAML configuration: the
// same Load/applyDefaults/validate shape, ${VAR} environment substitution,
// and an fsnotify-backed Watcher the rest of this module builds on.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/lsst-qserv/worker-replicad/internal/catalog"
)

// Config is the top-level worker configuration.
type Config struct {
	Worker    WorkerConfig     `yaml:"worker"`
	Controller ControllerConfig `yaml:"controller"`
	Database  DatabaseConfig   `yaml:"database"`
	Databases map[string]catalog.DatabaseInfo `yaml:"-"`
	Catalog   CatalogYAML      `yaml:"databases"`
	Admin     AdminConfig      `yaml:"admin"`
}

// WorkerConfig carries the worker.* keys.
type WorkerConfig struct {
	Name                    string `yaml:"name"`
	DataDir                 string `yaml:"data-dir"`
	LoaderTmpDir            string `yaml:"loader-tmp-dir"`
	FSBufSizeBytes          int    `yaml:"fs-buf-size-bytes"`
	NumSvcProcessingThreads int    `yaml:"num-svc-processing-threads"`
	Technology              string `yaml:"technology"`
	DirectorIndexRecordSize int    `yaml:"director-index-record-size"`
	FileServerHost          string `yaml:"file-server-host"`
	FileServerPort          int    `yaml:"file-server-port"`
}

// ControllerConfig carries the controller.* keys.
type ControllerConfig struct {
	RequestTimeoutSec int `yaml:"request-timeout-sec"`
}

// DatabaseConfig carries the database.* keys plus the DSN/credentials used
// to build the pooled MySQL connection capability.
type DatabaseConfig struct {
	ServicesPoolSize int    `yaml:"services-pool-size"`
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	User             string `yaml:"user"`
	Password         string `yaml:"password"`
	Socket           string `yaml:"socket"`
}

// AdminConfig configures the HTTP admin/metrics surface.
type AdminConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

// CatalogYAML is the wire shape of the databases: block; it is translated
// into catalog.DatabaseInfo values after unmarshalling because the
// catalog package's types are kept free of yaml struct tags.
type CatalogYAML map[string]struct {
	Tables map[string]struct {
		IsDirector       bool   `yaml:"is_director"`
		PrimaryKeyColumn string `yaml:"primary_key_column"`
		Columns          []struct {
			Name string `yaml:"name"`
			Type string `yaml:"type"`
		} `yaml:"columns"`
	} `yaml:"tables"`
}

func (c CatalogYAML) toCatalog() map[string]catalog.DatabaseInfo {
	out := make(map[string]catalog.DatabaseInfo, len(c))
	for dbName, db := range c {
		tables := make(map[string]catalog.TableInfo, len(db.Tables))
		for tblName, tbl := range db.Tables {
			cols := make([]catalog.ColumnDef, 0, len(tbl.Columns))
			for _, col := range tbl.Columns {
				cols = append(cols, catalog.ColumnDef{Name: col.Name, Type: col.Type})
			}
			tables[tblName] = catalog.TableInfo{
				Name:          tblName,
				IsDirector:    tbl.IsDirector,
				DirectorTable: catalog.DirectorTable{PrimaryKeyColumn: tbl.PrimaryKeyColumn},
				Columns:       cols,
			}
		}
		out[dbName] = catalog.DatabaseInfo{Name: dbName, Tables: tables}
	}
	return out
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(name)); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads, substitutes, parses, validates, and defaults a worker config
// file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	data = substituteEnvVars(data)

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.Databases = cfg.Catalog.toCatalog()

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Worker.DataDir == "" {
		cfg.Worker.DataDir = "/qserv/data/worker"
	}
	if cfg.Worker.LoaderTmpDir == "" {
		cfg.Worker.LoaderTmpDir = "/qserv/data/ingest"
	}
	if cfg.Worker.FSBufSizeBytes == 0 {
		cfg.Worker.FSBufSizeBytes = 1024 * 1024
	}
	if cfg.Worker.NumSvcProcessingThreads == 0 {
		cfg.Worker.NumSvcProcessingThreads = 4
	}
	if cfg.Worker.Technology == "" {
		cfg.Worker.Technology = "FS"
	}
	if cfg.Worker.DirectorIndexRecordSize == 0 {
		cfg.Worker.DirectorIndexRecordSize = 4 * 1024 * 1024
	}
	if cfg.Controller.RequestTimeoutSec == 0 {
		cfg.Controller.RequestTimeoutSec = 300
	}
	if cfg.Database.ServicesPoolSize == 0 {
		cfg.Database.ServicesPoolSize = 4
	}
	if cfg.Admin.Bind == "" {
		cfg.Admin.Bind = "0.0.0.0"
	}
	if cfg.Admin.Port == 0 {
		cfg.Admin.Port = 25082
	}
}

func validate(cfg *Config) error {
	switch cfg.Worker.Technology {
	case "TEST", "POSIX", "FS":
	default:
		return fmt.Errorf("worker.technology must be one of TEST, POSIX, FS, got %q", cfg.Worker.Technology)
	}
	if cfg.Worker.NumSvcProcessingThreads < 0 {
		return fmt.Errorf("worker.num-svc-processing-threads must be >= 0, got %d", cfg.Worker.NumSvcProcessingThreads)
	}
	if cfg.Worker.Name == "" {
		return fmt.Errorf("worker.name is required")
	}
	return nil
}

// Watcher watches the config file for changes and invokes a callback with
// the freshly loaded Config, debounced so rapid successive writes collapse
// into a single reload.
type Watcher struct {
	path     string
	callback func(*Config)
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewWatcher creates and starts a config file watcher.
func NewWatcher(path string, callback func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching config file: %w", err)
	}
	cw := &Watcher{path: path, callback: callback, watcher: w, stopCh: make(chan struct{})}
	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, cw.reload)
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher error", "err", err)
		case <-cw.stopCh:
			return
		}
	}
}

func (cw *Watcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cfg, err := Load(cw.path)
	if err != nil {
		slog.Warn("config hot-reload failed", "err", err)
		return
	}
	slog.Info("configuration reloaded", "path", cw.path)
	cw.callback(cfg)
}

// Stop stops the watcher.
func (cw *Watcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}
