// Package hashing computes the two identity hashes of a report: the
// path hash, unique per exact occurrence, and the context hash, stable
// across unrelated source edits. Both are SHA-256 digests in hex.
package hashing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/bugledger/bugledger/internal/hashing/fingerprint"
	"github.com/bugledger/bugledger/internal/report"
)

// fieldSeparator separates input fields inside a hash pre-image. NUL is
// unambiguous because it cannot occur in file paths or messages.
const fieldSeparator = "\x00"

// Extractor resolves the structural fingerprint of a source location.
type Extractor interface {
	Extract(ctx context.Context, filename string, content []byte, line int) (fingerprint.Fingerprint, error)
}

// Hasher computes report identity hashes. Safe for concurrent use.
type Hasher struct {
	extractor  Extractor
	sourceRoot string
	goroutines int

	// readFile is swapped in tests to simulate missing sources.
	readFile func(string) ([]byte, error)
}

// Option configures a Hasher.
type Option func(*Hasher)

// WithExtractor overrides the structural fingerprint extractor.
func WithExtractor(ext Extractor) Option {
	return func(h *Hasher) { h.extractor = ext }
}

// WithGoroutines sets the hashing worker count. Zero means NumCPU.
func WithGoroutines(n int) Option {
	return func(h *Hasher) { h.goroutines = n }
}

// New creates a Hasher that resolves report file paths under sourceRoot.
func New(sourceRoot string, opts ...Option) *Hasher {
	h := &Hasher{
		extractor:  fingerprint.NewExtractor(),
		sourceRoot: sourceRoot,
		readFile:   os.ReadFile,
	}

	for _, opt := range opts {
		opt(h)
	}

	if h.goroutines <= 0 {
		h.goroutines = runtime.NumCPU()
	}

	return h
}

// PathHash digests the full ordered bug path: every (file, line, column,
// message) tuple in path order. It identifies one exact occurrence.
func PathHash(rep *report.Report) string {
	var b strings.Builder

	for _, ev := range rep.BugPath {
		b.WriteString(ev.File)
		b.WriteString(fieldSeparator)
		b.WriteString(strconv.Itoa(ev.Line))
		b.WriteString(fieldSeparator)
		b.WriteString(strconv.Itoa(ev.Column))
		b.WriteString(fieldSeparator)
		b.WriteString(ev.Message)
		b.WriteString("\n")
	}

	return digest(b.String())
}

// HashReport fills in PathHash, ContextHash, and ContextHashDegraded.
// A hashing failure never propagates: when the source needed for the
// structural fingerprint is unavailable the context hash degrades to a
// path-hash derivation and the report is flagged, so the diff engine
// can treat it conservatively instead of dropping it.
func (h *Hasher) HashReport(ctx context.Context, rep *report.Report) {
	rep.PathHash = PathHash(rep)

	final := rep.FinalEvent()

	content, readErr := h.readFile(filepath.Join(h.sourceRoot, final.File))
	if readErr != nil {
		h.degrade(rep, readErr)

		return
	}

	fp, extractErr := h.extractor.Extract(ctx, final.File, content, final.Line)
	if extractErr != nil {
		h.degrade(rep, extractErr)

		return
	}

	rep.ContextHash = contextHash(rep.CheckerName, final.File, fp)
	rep.ContextHashDegraded = false
}

// HashAll hashes every report with a bounded worker pool. Reports are
// independent of each other before the detection-status pass, so the
// work parallelizes per report.
func (h *Hasher) HashAll(ctx context.Context, reports []report.Report) error {
	jobs := make(chan int)

	var wg sync.WaitGroup

	for range h.goroutines {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for idx := range jobs {
				h.HashReport(ctx, &reports[idx])
			}
		}()
	}

	var ctxErr error

feed:
	for i := range reports {
		if ctx.Err() != nil {
			ctxErr = ctx.Err()

			break
		}

		select {
		case jobs <- i:
		case <-ctx.Done():
			ctxErr = ctx.Err()

			break feed
		}
	}

	close(jobs)
	wg.Wait()

	if ctxErr != nil {
		return fmt.Errorf("hash reports: %w", ctxErr)
	}

	return nil
}

// degrade applies the path-hash-derived context hash fallback.
func (h *Hasher) degrade(rep *report.Report, cause error) {
	slog.Debug("context hash degraded",
		"checker", rep.CheckerName,
		"file", rep.FinalEvent().File,
		"error", cause)

	rep.ContextHash = digest("degraded" + fieldSeparator + rep.CheckerName + fieldSeparator + rep.PathHash)
	rep.ContextHashDegraded = true
}

// contextHash builds the context-hash pre-image: checker name, file
// path, the normalized enclosing-function signature, and the
// statement-kind fingerprint. The file path pins identity to the file:
// a defect moved to another file is a new identity. File-scope reports
// carry an empty signature and rely on the file-scope fingerprint.
func contextHash(checker, file string, fp fingerprint.Fingerprint) string {
	scope := fp.Signature
	if !fp.InFunction {
		scope = "file-scope"
	}

	return digest(checker + fieldSeparator + file + fieldSeparator + scope +
		fieldSeparator + strings.Join(fp.Statements, ","))
}

// digest returns the hex SHA-256 of the input.
func digest(input string) string {
	sum := sha256.Sum256([]byte(input))

	return hex.EncodeToString(sum[:])
}
