package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	yaml := `
worker:
  name: worker01
  data-dir: /data/worker01
  technology: FS
  num-svc-processing-threads: 8

controller:
  request-timeout-sec: 120

database:
  services-pool-size: 6
  host: 127.0.0.1
  port: 3306
  user: qsmaster
  password: pass

databases:
  myDb:
    tables:
      Object:
        is_director: true
        primary_key_column: objectId
        columns:
          - name: objectId
            type: BIGINT
          - name: subChunkId
            type: INT
`
	path := writeTemp(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Worker.Name != "worker01" {
		t.Errorf("expected worker name worker01, got %q", cfg.Worker.Name)
	}
	if cfg.Worker.NumSvcProcessingThreads != 8 {
		t.Errorf("expected 8 processing threads, got %d", cfg.Worker.NumSvcProcessingThreads)
	}
	if cfg.Controller.RequestTimeoutSec != 120 {
		t.Errorf("expected request timeout 120, got %d", cfg.Controller.RequestTimeoutSec)
	}
	if cfg.Database.Host != "127.0.0.1" {
		t.Errorf("expected db host 127.0.0.1, got %q", cfg.Database.Host)
	}

	db, ok := cfg.Databases["myDb"]
	if !ok {
		t.Fatal("myDb not found in catalog")
	}
	tbl, err := db.FindTable("Object")
	if err != nil {
		t.Fatalf("FindTable: %v", err)
	}
	if !tbl.IsDirector {
		t.Error("expected Object to be a director table")
	}
	if tbl.DirectorTable.PrimaryKeyColumn != "objectId" {
		t.Errorf("expected primary key objectId, got %q", tbl.DirectorTable.PrimaryKeyColumn)
	}
	if tbl.ColumnType("subChunkId") != "INT" {
		t.Errorf("expected subChunkId type INT, got %q", tbl.ColumnType("subChunkId"))
	}
}

func TestLoadEnvSubstitution(t *testing.T) {
	os.Setenv("TEST_DB_PASSWORD", "secret123")
	defer os.Unsetenv("TEST_DB_PASSWORD")

	yaml := `
worker:
  name: worker01

database:
  password: ${TEST_DB_PASSWORD}
`
	path := writeTemp(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Password != "secret123" {
		t.Errorf("expected password secret123, got %q", cfg.Database.Password)
	}
}

func TestLoadValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "invalid technology",
			yaml: `
worker:
  name: worker01
  technology: BOGUS
`,
		},
		{
			name: "missing worker name",
			yaml: `
worker:
  technology: FS
`,
		},
		{
			name: "negative processing threads",
			yaml: `
worker:
  name: worker01
  num-svc-processing-threads: -1
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTemp(t, tt.yaml)
			_, err := Load(path)
			if err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	yaml := `
worker:
  name: worker01
`
	path := writeTemp(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Worker.DataDir != "/qserv/data/worker" {
		t.Errorf("expected default data-dir, got %q", cfg.Worker.DataDir)
	}
	if cfg.Worker.LoaderTmpDir != "/qserv/data/ingest" {
		t.Errorf("expected default loader-tmp-dir, got %q", cfg.Worker.LoaderTmpDir)
	}
	if cfg.Worker.FSBufSizeBytes != 1024*1024 {
		t.Errorf("expected default fs-buf-size-bytes 1MiB, got %d", cfg.Worker.FSBufSizeBytes)
	}
	if cfg.Worker.NumSvcProcessingThreads != 4 {
		t.Errorf("expected default 4 processing threads, got %d", cfg.Worker.NumSvcProcessingThreads)
	}
	if cfg.Worker.Technology != "FS" {
		t.Errorf("expected default technology FS, got %q", cfg.Worker.Technology)
	}
	if cfg.Worker.DirectorIndexRecordSize != 4*1024*1024 {
		t.Errorf("expected default director-index-record-size 4MiB, got %d", cfg.Worker.DirectorIndexRecordSize)
	}
	if cfg.Controller.RequestTimeoutSec != 300 {
		t.Errorf("expected default request-timeout-sec 300, got %d", cfg.Controller.RequestTimeoutSec)
	}
	if cfg.Database.ServicesPoolSize != 4 {
		t.Errorf("expected default services-pool-size 4, got %d", cfg.Database.ServicesPoolSize)
	}
	if cfg.Admin.Bind != "0.0.0.0" {
		t.Errorf("expected default admin bind 0.0.0.0, got %q", cfg.Admin.Bind)
	}
	if cfg.Admin.Port != 25082 {
		t.Errorf("expected default admin port 25082, got %d", cfg.Admin.Port)
	}
}

func TestApplyDefaultsDoesNotOverrideExplicitValues(t *testing.T) {
	yaml := `
worker:
  name: worker01
  data-dir: /custom/dir
  num-svc-processing-threads: 16
`
	path := writeTemp(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Worker.DataDir != "/custom/dir" {
		t.Errorf("expected explicit data-dir preserved, got %q", cfg.Worker.DataDir)
	}
	if cfg.Worker.NumSvcProcessingThreads != 16 {
		t.Errorf("expected explicit thread count preserved, got %d", cfg.Worker.NumSvcProcessingThreads)
	}
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	return path
}
