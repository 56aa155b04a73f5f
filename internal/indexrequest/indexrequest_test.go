package indexrequest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/lsst-qserv/worker-replicad/internal/catalog"
	"github.com/lsst-qserv/worker-replicad/internal/protocol"
	"github.com/lsst-qserv/worker-replicad/internal/request"
)

func directorCatalog() *catalog.Catalog {
	return catalog.New(map[string]catalog.DatabaseInfo{
		"myDb": {
			Name: "myDb",
			Tables: map[string]catalog.TableInfo{
				"Object": {
					Name:          "Object",
					IsDirector:    true,
					DirectorTable: catalog.DirectorTable{PrimaryKeyColumn: "objectId"},
					Columns: []catalog.ColumnDef{
						{Name: "objectId", Type: "BIGINT"},
						{Name: catalog.SubChunkColumn, Type: "INT"},
					},
				},
				"Source": {
					Name: "Source",
					Columns: []catalog.ColumnDef{
						{Name: "sourceId", Type: "BIGINT"},
					},
				},
			},
		},
	})
}

func TestValidateTableRejectsNonDirector(t *testing.T) {
	base := request.NewBase("idx-1", protocol.TypeDirectorIndex, 0, 0, nil, nil)
	_ = base.Start()
	r := New(base, Params{Database: "myDb", Table: "Source", Chunk: 1}, directorCatalog(), nil, t.TempDir())

	done, err := r.Execute(nil)
	if !done || err == nil {
		t.Fatal("expected validation failure for a non-director table")
	}
	if base.Status() != protocol.StatusFailed || base.ExtendedStatus() != protocol.ExtInvalidParam {
		t.Fatalf("expected FAILED/INVALID_PARAM, got %s/%s", base.Status(), base.ExtendedStatus())
	}
}

func TestValidateTableRejectsMissingSubChunkColumn(t *testing.T) {
	cat := catalog.New(map[string]catalog.DatabaseInfo{
		"myDb": {Name: "myDb", Tables: map[string]catalog.TableInfo{
			"Object": {
				Name:          "Object",
				IsDirector:    true,
				DirectorTable: catalog.DirectorTable{PrimaryKeyColumn: "objectId"},
				Columns:       []catalog.ColumnDef{{Name: "objectId", Type: "BIGINT"}},
			},
		}},
	})
	base := request.NewBase("idx-2", protocol.TypeDirectorIndex, 0, 0, nil, nil)
	_ = base.Start()
	r := New(base, Params{Database: "myDb", Table: "Object", Chunk: 1}, cat, nil, t.TempDir())

	done, err := r.Execute(nil)
	if !done || err == nil {
		t.Fatal("expected validation failure for missing sub-chunk column")
	}
}

func TestReadSliceAndOffsetEqualsSizeRemovesFile(t *testing.T) {
	tmpDir := t.TempDir()
	base := request.NewBase("idx-3", protocol.TypeDirectorIndex, 0, 0, nil, nil)
	r := &Request{Base: base, params: Params{Database: "myDb", Table: "Object", Chunk: 1, Offset: 0, RecordSize: 4}, cat: directorCatalog(), tmpDir: tmpDir}

	path := r.outfilePath()
	if err := os.WriteFile(path, []byte("0123456789"), 0644); err != nil {
		t.Fatal(err)
	}

	data, err := r.readSlice(path, 10)
	if err != nil {
		t.Fatalf("readSlice: %v", err)
	}
	if string(data) != "0123" {
		t.Fatalf("expected first 4 bytes, got %q", data)
	}

	r.params.Offset = 10
	done, err := r.Execute(nil)
	if err != nil || !done {
		t.Fatalf("Execute at offset==size: done=%v err=%v", done, err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatal("expected the outfile to be removed once fully consumed")
	}
	if len(r.result.Data) != 0 {
		t.Fatalf("expected empty tail slice, got %d bytes", len(r.result.Data))
	}
}

func TestOffsetBeyondSizeIsInvalidParam(t *testing.T) {
	tmpDir := t.TempDir()
	base := request.NewBase("idx-4", protocol.TypeDirectorIndex, 0, 0, nil, nil)
	r := &Request{Base: base, params: Params{Database: "myDb", Table: "Object", Chunk: 1, Offset: 999, RecordSize: 4}, cat: directorCatalog(), tmpDir: tmpDir}
	os.WriteFile(r.outfilePath(), []byte("short"), 0644)

	done, err := r.Execute(nil)
	if !done || err == nil {
		t.Fatal("expected an error when offset exceeds file size")
	}
	if base.ExtendedStatus() != protocol.ExtInvalidParam {
		t.Fatalf("expected INVALID_PARAM, got %s", base.ExtendedStatus())
	}
}

func TestClassifyReadSliceErrDistinguishesOpenFromRead(t *testing.T) {
	if got := classifyReadSliceErr(fmt.Errorf("%w: %v", errReadSliceOpen, os.ErrNotExist)); got != protocol.ExtFileROpen {
		t.Errorf("expected ExtFileROpen for an open failure, got %s", got)
	}
	if got := classifyReadSliceErr(io.ErrUnexpectedEOF); got != protocol.ExtFileRead {
		t.Errorf("expected ExtFileRead for a non-open failure, got %s", got)
	}
}

func TestOutfilePathIncludesRequestID(t *testing.T) {
	base := request.NewBase("idx-unique", protocol.TypeDirectorIndex, 0, 0, nil, nil)
	r := &Request{Base: base, params: Params{Database: "myDb", Table: "Object", Chunk: 3}, tmpDir: "/tmp/x"}
	if got := r.outfilePath(); filepath.Base(got) != "myDb-Object-3-idx-unique.tsv" {
		t.Fatalf("unexpected path: %s", got)
	}
}
