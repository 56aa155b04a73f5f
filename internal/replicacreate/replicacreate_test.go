package replicacreate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/lsst-qserv/worker-replicad/internal/catalog"
	"github.com/lsst-qserv/worker-replicad/internal/factory"
	"github.com/lsst-qserv/worker-replicad/internal/namedmutex"
	"github.com/lsst-qserv/worker-replicad/internal/protocol"
	"github.com/lsst-qserv/worker-replicad/internal/replica"
	"github.com/lsst-qserv/worker-replicad/internal/request"
)

func oneTableCatalog() *catalog.Catalog {
	return catalog.New(map[string]catalog.DatabaseInfo{
		"myDb": {
			Name: "myDb",
			Tables: map[string]catalog.TableInfo{
				"Object": {Name: "Object"},
			},
		},
	})
}

func runToCompletion(t *testing.T, r *Request) {
	t.Helper()
	for i := 0; i < 1000; i++ {
		done, err := r.Execute(context.Background())
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if done {
			return
		}
	}
	t.Fatal("replica-create never completed")
}

func TestReplicaCreateCopiesAndRenamesFiles(t *testing.T) {
	dataDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dataDir, "myDb"), 0755); err != nil {
		t.Fatal(err)
	}

	strategy, err := factory.New("TEST", nil, nil)
	if err != nil {
		t.Fatalf("factory.New: %v", err)
	}

	base := request.NewBase("rc-1", protocol.TypeReplicaCreate, 0, 0, nil, nil)
	_ = base.Start()
	r := New(base, Params{SourceWorker: "worker02", Database: "myDb", Chunk: 7}, oneTableCatalog(), strategy, namedmutex.NewRegistry(), "worker01", dataDir, 4096)

	runToCompletion(t, r)

	if base.Status() != protocol.StatusSuccess {
		t.Fatalf("expected SUCCESS, got %s (ext=%s)", base.Status(), base.ExtendedStatus())
	}

	names, _ := oneTableCatalog().PartitionedFiles("myDb", 7)
	for _, name := range names {
		finalPath := filepath.Join(dataDir, "myDb", name)
		info, err := os.Stat(finalPath)
		if err != nil {
			t.Fatalf("expected final file %s to exist: %v", finalPath, err)
		}
		if info.Size() != 16 {
			t.Errorf("expected final file %s to be 16 bytes, got %d", name, info.Size())
		}
		if _, err := os.Stat(filepath.Join(dataDir, "myDb", "_"+name)); err == nil {
			t.Errorf("expected temp file for %s to be gone after rename", name)
		}
	}

	if r.Result().(*replica.Descriptor).Status != protocol.ReplicaComplete {
		t.Errorf("expected descriptor status COMPLETE, got %s", r.Result().(*replica.Descriptor).Status)
	}
}

func TestReplicaCreateFailsWhenFinalFileAlreadyExists(t *testing.T) {
	dataDir := t.TempDir()
	dbDir := filepath.Join(dataDir, "myDb")
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		t.Fatal(err)
	}
	names, _ := oneTableCatalog().PartitionedFiles("myDb", 7)
	if err := os.WriteFile(filepath.Join(dbDir, names[0]), []byte("existing"), 0644); err != nil {
		t.Fatal(err)
	}

	strategy, _ := factory.New("TEST", nil, nil)
	base := request.NewBase("rc-2", protocol.TypeReplicaCreate, 0, 0, nil, nil)
	_ = base.Start()
	r := New(base, Params{SourceWorker: "worker02", Database: "myDb", Chunk: 7}, oneTableCatalog(), strategy, namedmutex.NewRegistry(), "worker01", dataDir, 4096)

	runToCompletion(t, r)

	if base.Status() != protocol.StatusFailed {
		t.Fatalf("expected FAILED, got %s", base.Status())
	}
	if base.ExtendedStatus() != protocol.ExtFileExists {
		t.Errorf("expected ExtFileExists, got %s", base.ExtendedStatus())
	}
}

func TestReplicaCreateFailsWhenOutputDirMissing(t *testing.T) {
	dataDir := t.TempDir() // myDb subdirectory deliberately not created

	strategy, _ := factory.New("TEST", nil, nil)
	base := request.NewBase("rc-3", protocol.TypeReplicaCreate, 0, 0, nil, nil)
	_ = base.Start()
	r := New(base, Params{SourceWorker: "worker02", Database: "myDb", Chunk: 7}, oneTableCatalog(), strategy, namedmutex.NewRegistry(), "worker01", dataDir, 4096)

	runToCompletion(t, r)

	if base.Status() != protocol.StatusFailed {
		t.Fatalf("expected FAILED, got %s", base.Status())
	}
	if base.ExtendedStatus() != protocol.ExtNoFolder {
		t.Errorf("expected ExtNoFolder, got %s", base.ExtendedStatus())
	}
}

func TestReplicaCreateFailsWithNoFileWhenPosixSourceMissing(t *testing.T) {
	dataDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dataDir, "myDb"), 0755); err != nil {
		t.Fatal(err)
	}
	peerDir := t.TempDir() // peer's data directory, deliberately empty

	strategy, err := factory.New("POSIX", nil, func(string) (string, error) { return peerDir, nil })
	if err != nil {
		t.Fatalf("factory.New: %v", err)
	}

	base := request.NewBase("rc-4", protocol.TypeReplicaCreate, 0, 0, nil, nil)
	_ = base.Start()
	r := New(base, Params{SourceWorker: "worker02", Database: "myDb", Chunk: 7}, oneTableCatalog(), strategy, namedmutex.NewRegistry(), "worker01", dataDir, 4096)

	runToCompletion(t, r)

	if base.Status() != protocol.StatusFailed {
		t.Fatalf("expected FAILED, got %s", base.Status())
	}
	if base.ExtendedStatus() != protocol.ExtNoFile {
		t.Errorf("expected ExtNoFile, got %s", base.ExtendedStatus())
	}
}

func TestReplicaCreateFailsWithFileROpenWhenFsSourceUnreachable(t *testing.T) {
	dataDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dataDir, "myDb"), 0755); err != nil {
		t.Fatal(err)
	}

	strategy, err := factory.New("FS", func(string) (string, error) { return "127.0.0.1:1", nil }, nil)
	if err != nil {
		t.Fatalf("factory.New: %v", err)
	}

	base := request.NewBase("rc-5", protocol.TypeReplicaCreate, 0, 0, nil, nil)
	_ = base.Start()
	r := New(base, Params{SourceWorker: "worker02", Database: "myDb", Chunk: 7}, oneTableCatalog(), strategy, namedmutex.NewRegistry(), "worker01", dataDir, 4096)

	runToCompletion(t, r)

	if base.Status() != protocol.StatusFailed {
		t.Fatalf("expected FAILED, got %s", base.Status())
	}
	if base.ExtendedStatus() != protocol.ExtFileROpen {
		t.Errorf("expected ExtFileROpen, got %s", base.ExtendedStatus())
	}
}
