package transfer

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wearefrank/ladybug-sub002/internal/report"
	"github.com/wearefrank/ladybug-sub002/internal/storage"
)

// File extensions.
const (
	ExtReport  = ".ttr"
	ExtArchive = ".zip"
)

// archiveTime is stamped on every zip entry so archives of equal reports
// are identical.
var archiveTime = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// ImportResult describes one imported report.
type ImportResult struct {
	// Name is the archive entry or file the report came from.
	Name string `json:"name"`

	// StorageID is the id assigned by the destination, zero on failure.
	StorageID int64 `json:"storage_id,omitempty"`

	// Error is the failure text, empty on success.
	Error string `json:"error,omitempty"`
}

// Export writes r to w as a single bundle.
func Export(w io.Writer, r *report.Report) error {
	data, err := Marshal(r)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write report %d: %w", r.StorageID, err)
	}
	return nil
}

// ExportArchive writes the reports with the given ids to w as a zip of
// bundles, in the order given.
func ExportArchive(ctx context.Context, src storage.Reader, ids []int64, w io.Writer) error {
	zw := zip.NewWriter(w)
	for _, id := range ids {
		r, err := src.Report(ctx, id)
		if err != nil {
			return fmt.Errorf("export archive: %w", err)
		}
		data, err := Marshal(r)
		if err != nil {
			return fmt.Errorf("export archive: %w", err)
		}
		hdr := &zip.FileHeader{
			Name:     EntryName(r),
			Method:   zip.Store,
			Modified: archiveTime,
		}
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("export archive: %w", err)
		}
		if _, err := fw.Write(data); err != nil {
			return fmt.Errorf("export archive: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("export archive: %w", err)
	}
	return nil
}

// ExportStorage writes every report of src to w as a zip, oldest first.
func ExportStorage(ctx context.Context, src storage.Reader, w io.Writer) error {
	ids, err := src.StorageIDs(ctx)
	if err != nil {
		return fmt.Errorf("export storage %s: %w", src.Name(), err)
	}
	oldest := make([]int64, len(ids))
	for i, id := range ids {
		oldest[len(ids)-1-i] = id
	}
	return ExportArchive(ctx, src, oldest, w)
}

// EntryName is the archive entry name for r.
func EntryName(r *report.Report) string {
	name := strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			return c
		default:
			return '_'
		}
	}, r.Name)
	if name == "" {
		name = "report"
	}
	return fmt.Sprintf("%06d-%s%s", r.StorageID, name, ExtReport)
}

// Import decodes one bundle and stores it in dst under a new storage id.
// Failures are reported in the result.
func Import(ctx context.Context, dst storage.CRUDStorage, name string, data []byte) ImportResult {
	res := ImportResult{Name: name}
	r, err := Unmarshal(data)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if err := dst.Store(ctx, r); err != nil {
		res.Error = err.Error()
		return res
	}
	res.StorageID = r.StorageID
	return res
}

// ImportArchive imports every bundle in a zip archive.
func ImportArchive(ctx context.Context, dst storage.CRUDStorage, data []byte) ([]ImportResult, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("import archive: %w", err)
	}
	var results []ImportResult
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.EqualFold(filepath.Ext(f.Name), ExtReport) {
			continue
		}
		entry, err := readEntry(f)
		if err != nil {
			results = append(results, ImportResult{Name: f.Name, Error: err.Error()})
			continue
		}
		results = append(results, Import(ctx, dst, f.Name, entry))
	}
	return results, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	return data, nil
}

// ImportFile imports a ".ttr" bundle or a ".zip" archive from disk.
func ImportFile(ctx context.Context, dst storage.CRUDStorage, path string) ([]ImportResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("import file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ExtReport:
		return []ImportResult{Import(ctx, dst, filepath.Base(path), data)}, nil
	case ExtArchive:
		return ImportArchive(ctx, dst, data)
	default:
		return nil, fmt.Errorf("import file %s: unsupported extension %q", path, filepath.Ext(path))
	}
}
