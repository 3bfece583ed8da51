// Package ingest replays recorded webhook deliveries from a directory of batch JSON files.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"konnect/cmd/internal/chat"
	"konnect/shared/contracts/webhook"
)

// ErrDecode is returned by Dir when at least one file could not be read or decoded.
var ErrDecode = errors.New("ingest: undecodable files")

// Summary totals one Dir run.
type Summary struct {
	Files  int
	Failed int
	Report chat.Report
}

// Dir feeds every *.json file of dir, in lexical order, to norm.
// Files are processed sequentially; a bad file is logged and skipped.
func Dir(ctx context.Context, dir string, norm *chat.Normalizer, log *slog.Logger) (Summary, error) {
	var sum Summary

	entries, err := os.ReadDir(dir)
	if err != nil {
		return sum, fmt.Errorf("ingest: read dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		sum.Files++
		path := filepath.Join(dir, e.Name())

		bf, err := readBatchFile(path)
		if err != nil {
			sum.Failed++
			log.Error("ingest.file.decode_fail", "file", e.Name(), "err", err)
			continue
		}

		rep := norm.Process(ctx, bf.MetaData.Entry)
		sum.Report.Add(rep)
		log.Info("ingest.file.done",
			"file", e.Name(),
			"batch_id", bf.ID,
			"payload_type", bf.PayloadType,
			"report", rep,
		)
	}

	log.Info("ingest.done", "files", sum.Files, "failed_files", sum.Failed, "report", sum.Report)

	if sum.Failed > 0 {
		return sum, fmt.Errorf("%w: %d of %d", ErrDecode, sum.Failed, sum.Files)
	}
	return sum, nil
}

func readBatchFile(path string) (webhook.BatchFile, error) {
	var bf webhook.BatchFile

	raw, err := os.ReadFile(path)
	if err != nil {
		return bf, err
	}
	if err := json.Unmarshal(raw, &bf); err != nil {
		return bf, err
	}
	return bf, nil
}
