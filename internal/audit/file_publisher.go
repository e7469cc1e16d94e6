package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/guillermoBallester/auditsql/internal/core/domain"
	"github.com/guillermoBallester/auditsql/internal/core/port"
)

// FilePublisher appends audit entries as NDJSON (one JSON object per line)
// to a local ledger file. The reference it returns points at the line.
//
// Lines carry the raw SQL, unlike the markdown view: the integrity hash is
// computed over the raw text, so each line stays verifiable on its own. The
// ledger file must get the same access control as the audit database.
type FilePublisher struct {
	mu    sync.Mutex
	path  string
	file  *os.File
	enc   *json.Encoder
	lines int
}

var _ port.AuditPublisher = (*FilePublisher)(nil)

// NewFilePublisher opens (or creates) the file at path for append-only
// writing. Lines already present are counted so references stay stable
// across restarts.
func NewFilePublisher(path string) (*FilePublisher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving audit log path: %w", err)
	}
	f, err := os.OpenFile(abs, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	lines, err := countLines(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("reading audit log: %w", err)
	}
	return &FilePublisher{
		path:  abs,
		file:  f,
		enc:   json.NewEncoder(f),
		lines: lines,
	}, nil
}

func (p *FilePublisher) Publish(_ context.Context, entry domain.AuditEntry) port.PublishResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file == nil {
		return port.PublishResult{Err: os.ErrClosed}
	}
	if err := p.enc.Encode(entry); err != nil {
		return port.PublishResult{Err: fmt.Errorf("writing audit log: %w", err)}
	}
	p.lines++
	return port.PublishResult{Reference: fmt.Sprintf("file://%s#L%d", filepath.ToSlash(p.path), p.lines)}
}

func (p *FilePublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file == nil {
		return nil
	}
	err := p.file.Close()
	p.file = nil
	return err
}

func countLines(r io.Reader) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	n := 0
	for sc.Scan() {
		n++
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.EOF) {
		return 0, err
	}
	return n, nil
}
