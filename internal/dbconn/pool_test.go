package dbconn

import (
	"testing"

	"github.com/lsst-qserv/worker-replicad/internal/config"
)

func TestDSNFromConfigTCP(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host:     "10.0.0.5",
		Port:     3307,
		User:     "qsmaster",
		Password: "secret",
	}
	got := dsnFromConfig(cfg)
	want := "qsmaster:secret@tcp(10.0.0.5:3307)/"
	if got != want {
		t.Errorf("dsnFromConfig() = %q, want %q", got, want)
	}
}

func TestDSNFromConfigSocket(t *testing.T) {
	cfg := config.DatabaseConfig{
		User:     "qsmaster",
		Password: "secret",
		Socket:   "/var/run/mysqld/mysqld.sock",
	}
	got := dsnFromConfig(cfg)
	want := "qsmaster:secret@unix(/var/run/mysqld/mysqld.sock)/"
	if got != want {
		t.Errorf("dsnFromConfig() = %q, want %q", got, want)
	}
}

func TestDSNFromConfigDefaults(t *testing.T) {
	cfg := config.DatabaseConfig{User: "root"}
	got := dsnFromConfig(cfg)
	want := "root:@tcp(127.0.0.1:3306)/"
	if got != want {
		t.Errorf("dsnFromConfig() = %q, want %q", got, want)
	}
}

func TestPoolStatsBeforeAnyAcquire(t *testing.T) {
	p, err := Open(config.DatabaseConfig{User: "root", ServicesPoolSize: 4})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	stats := p.Stats()
	if stats.Size != 4 {
		t.Errorf("expected size 4, got %d", stats.Size)
	}
	if stats.Active != 0 || stats.Idle != 0 || stats.Total != 0 {
		t.Errorf("expected an untouched pool to report zero occupancy, got %+v", stats)
	}
}

func TestPoolSizeFallsBackToOne(t *testing.T) {
	p, err := Open(config.DatabaseConfig{User: "root"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	if p.size != 1 {
		t.Errorf("expected pool size to default to 1, got %d", p.size)
	}
}

func TestPoolCloseMarksPoolClosed(t *testing.T) {
	p, err := Open(config.DatabaseConfig{User: "root", ServicesPoolSize: 2})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !p.closed {
		t.Error("expected pool to be marked closed")
	}
}
