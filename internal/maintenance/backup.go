package maintenance

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/ariefcatur/go-order-fulfillment/internal/jobs"
)

func BackupFileName(stamp string) string {
	return fmt.Sprintf("backup_%s.tar.gz", stamp)
}

// HandleBackup writes a gzip'd tar with one entry per table. The archive
// only appears under its final name once complete; a run whose artifact
// already exists is done.
func (s *Service) HandleBackup(ctx context.Context, job jobs.Job) error {
	p, err := jobs.Decode[BackupPayload](job)
	if err != nil {
		return err
	}
	if _, err := time.Parse(stampLayout, p.Stamp); err != nil {
		return jobs.Permanent(fmt.Errorf("backup stamp %q: %w", p.Stamp, err))
	}
	name := BackupFileName(p.Stamp)
	if _, err := os.Stat(filepath.Join(s.BackupDir, name)); err == nil {
		s.log().Info("backup_exists", "file", name)
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	dumps, err := s.Store.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	modTime := s.clk().Now()
	err = writeFileAtomic(s.BackupDir, name, func(f *os.File) error {
		gz := gzip.NewWriter(f)
		tw := tar.NewWriter(gz)
		for _, d := range dumps {
			if err := ctx.Err(); err != nil {
				return err
			}
			hdr := &tar.Header{
				Name:    d.Name + "." + d.Ext,
				Mode:    0o644,
				Size:    int64(len(d.Data)),
				ModTime: modTime,
			}
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
			if _, err := tw.Write(d.Data); err != nil {
				return err
			}
		}
		if err := tw.Close(); err != nil {
			return err
		}
		return gz.Close()
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	s.log().Info("backup_written", "file", name, "tables", len(dumps))
	return nil
}
