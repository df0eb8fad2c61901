package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// progressReportInterval bounds how often the progress callback fires
// during the copy loop. The terminal callback always fires.
const progressReportInterval = 200 * time.Millisecond

// transferParams collects everything a Transfer needs at construction.
type transferParams struct {
	// Handle identifies the transfer. Generated when empty.
	Handle string

	// SourceURL is the https location of the artifact.
	SourceURL string

	// DestPath is the final artifact path. The temp file is DestPath+".tmp".
	DestPath string

	// ExpectedSize is the descriptor size in bytes. Zero means unknown.
	ExpectedSize int64

	// Checksum is the expected hex digest. Empty skips verification.
	Checksum string

	Client   HTTPClient
	Logger   Logger
	Progress ProgressFunc

	// Lock is an already-acquired cross-process destination lock, released
	// when the transfer reaches a terminal state. May be nil.
	Lock Locker

	// OnCommit runs after the verified artifact is renamed into place and
	// before Completed is reported. A commit failure removes the final
	// file and fails the transfer. May be nil.
	OnCommit func() error
}

// Transfer is one resumable, cancellable, progress-reporting fetch of a
// remote artifact to a local path.
//
// States: Pending → InProgress → Completed or Failed; Pending or InProgress
// → Cancelled. All of Completed, Failed, and Cancelled are terminal. The
// temp file belongs to the Transfer for its whole life: it is adopted at
// construction when present (resume), renamed into place on success, and
// deleted on failure or cancellation.
type Transfer struct {
	handle       string
	sourceURL    string
	destPath     string
	expectedSize int64
	checksum     string

	httpClient HTTPClient
	logger     Logger
	progressFn ProgressFunc
	onCommit   func() error
	lock       Locker

	// mu guards state, err, cancelFn, and maxFraction.
	mu          sync.Mutex
	state       TransferState
	err         error
	cancelFn    context.CancelFunc
	maxFraction float64

	// bytes counts bytes at the destination, including any resumed prefix.
	bytes atomic.Int64

	// networkBytes counts bytes fetched this session, for throughput.
	networkBytes atomic.Int64

	cancelled atomic.Bool
	done      chan struct{}
	startedAt time.Time
}

// newTransfer validates the source URL before any I/O and adopts an
// existing temp file as the resume offset. No network request is made.
func newTransfer(p transferParams) (*Transfer, error) {
	if err := validateSecureURL(p.SourceURL); err != nil {
		return nil, err
	}
	if p.DestPath == "" {
		return nil, newError(ErrInvalidRef, "empty destination path")
	}
	if p.Client == nil {
		p.Client = http.DefaultClient
	}
	if p.Handle == "" {
		p.Handle = uuid.NewString()
	}

	t := &Transfer{
		handle:       p.Handle,
		sourceURL:    p.SourceURL,
		destPath:     p.DestPath,
		expectedSize: p.ExpectedSize,
		checksum:     p.Checksum,
		httpClient:   p.Client,
		logger:       p.Logger,
		progressFn:   p.Progress,
		onCommit:     p.OnCommit,
		lock:         p.Lock,
		state:        TransferPending,
		done:         make(chan struct{}),
	}

	if fi, err := os.Stat(t.tempPath()); err == nil && fi.Mode().IsRegular() {
		t.bytes.Store(fi.Size())
		if t.logger != nil {
			t.logger.Debug("resuming partial transfer",
				"handle", t.handle, "bytes", fi.Size())
		}
	}
	t.updateFraction()

	return t, nil
}

// Handle returns the transfer's identifier.
func (t *Transfer) Handle() string { return t.handle }

// State returns the current lifecycle state.
func (t *Transfer) State() TransferState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns the terminal error for Failed and Cancelled transfers, nil
// otherwise.
func (t *Transfer) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// BytesTransferred returns the raw byte count at the destination.
func (t *Transfer) BytesTransferred() int64 { return t.bytes.Load() }

// ExpectedSize returns the descriptor size the transfer was created with.
func (t *Transfer) ExpectedSize() int64 { return t.expectedSize }

// Progress returns the completion fraction. Reads are non-decreasing over
// the life of the transfer: the value is a high-water mark, so a restart
// forced by a server that ignored a Range request cannot regress observed
// progress. An unknown expected size reports 0; a stale partial file larger
// than expected may report above 1.
func (t *Transfer) Progress() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.updateFractionLocked()
}

func (t *Transfer) updateFraction() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.updateFractionLocked()
}

func (t *Transfer) updateFractionLocked() float64 {
	if t.expectedSize > 0 {
		if f := float64(t.bytes.Load()) / float64(t.expectedSize); f > t.maxFraction {
			t.maxFraction = f
		}
	}
	return t.maxFraction
}

// Start transitions Pending → InProgress and launches the worker
// goroutine. It is idempotent: starting an InProgress or Completed
// transfer is a no-op success; starting a Failed or Cancelled one returns
// the recorded terminal error. URL validation happened at construction, so
// Start performs no I/O itself.
func (t *Transfer) Start(ctx context.Context) error {
	t.mu.Lock()
	switch t.state {
	case TransferInProgress, TransferCompleted:
		t.mu.Unlock()
		return nil
	case TransferFailed:
		err := t.err
		t.mu.Unlock()
		return err
	case TransferCancelled:
		t.mu.Unlock()
		return cancelledError(t.handle)
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.cancelFn = cancel
	t.state = TransferInProgress
	t.startedAt = time.Now()
	t.mu.Unlock()

	go t.run(runCtx)
	return nil
}

// Wait blocks until the transfer reaches a terminal state or ctx is done.
// It returns nil for Completed and the terminal error otherwise.
func (t *Transfer) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.state == TransferCompleted {
			return nil
		}
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel requests cooperative cancellation. It is idempotent and safe from
// any goroutine. A Pending transfer is finalized immediately; an
// InProgress one stops at the next copy iteration or when its in-flight
// request unblocks.
func (t *Transfer) Cancel() {
	if t.cancelled.Swap(true) {
		return
	}

	t.mu.Lock()
	if t.state == TransferPending {
		t.state = TransferCancelled
		t.err = cancelledError(t.handle)
		t.mu.Unlock()
		t.removeTemp()
		t.releaseLock()
		close(t.done)
		return
	}
	cancel := t.cancelFn
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Close destroys the transfer: a non-terminal transfer is cancelled first,
// then Close blocks until worker cleanup has finished, guaranteeing no
// orphaned temp file survives. Safe to call multiple times.
func (t *Transfer) Close() error {
	t.mu.Lock()
	terminal := t.state.Terminal()
	t.mu.Unlock()

	if !terminal {
		t.Cancel()
	}
	<-t.done
	return nil
}

// run drives the fetch and records the terminal state.
func (t *Transfer) run(ctx context.Context) {
	err := t.fetch(ctx)

	if err != nil {
		t.removeTemp()
	}

	t.mu.Lock()
	switch {
	case err == nil:
		t.state = TransferCompleted
	case t.cancelled.Load() || errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled):
		t.state = TransferCancelled
		t.err = cancelledError(t.handle)
	default:
		t.state = TransferFailed
		t.err = err
	}
	state := t.state
	t.mu.Unlock()

	if t.logger != nil && state != TransferCompleted {
		t.logger.Debug("transfer finished", "handle", t.handle, "state", string(state), "error", t.Err())
	}

	t.releaseLock()
	t.report(state)
	close(t.done)
}

// fetch downloads the artifact into the temp file, verifies it, renames it
// into place, and runs the commit hook.
func (t *Transfer) fetch(ctx context.Context) error {
	tmpPath := t.tempPath()

	offset := int64(0)
	if fi, err := os.Stat(tmpPath); err == nil && fi.Mode().IsRegular() {
		offset = fi.Size()
	}
	t.bytes.Store(offset)
	t.updateFraction()

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("%w: open temp file: %v", ErrStorage, err)
	}
	defer f.Close()

	resp, err := t.request(ctx, offset)
	if err != nil {
		return err
	}

	// A server without range support for this offset: drop the partial
	// prefix and retry once from the beginning.
	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0 {
		resp.Body.Close()
		if err := t.restartFromZero(f); err != nil {
			return err
		}
		offset = 0
		if resp, err = t.request(ctx, 0); err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// Full content. A resumed prefix is stale; restart.
		if offset > 0 {
			if err := t.restartFromZero(f); err != nil {
				return err
			}
		}
	case http.StatusPartialContent:
		// Appending to the existing prefix.
	default:
		return fmt.Errorf("fetching artifact: status %d: %w", resp.StatusCode, ErrNetwork)
	}

	if err := t.copyBody(resp.Body, f); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close temp file: %v", ErrStorage, err)
	}

	if t.checksum != "" {
		if err := verifyFileChecksum(tmpPath, t.checksum); err != nil {
			return err
		}
	}

	if err := os.Rename(tmpPath, t.destPath); err != nil {
		return fmt.Errorf("%w: rename into place: %v", ErrStorage, err)
	}

	if t.onCommit != nil {
		if err := t.onCommit(); err != nil {
			// The artifact must not be visible without its registry entry.
			os.Remove(t.destPath)
			return err
		}
	}
	return nil
}

// request issues the GET, with a Range header when resuming from a
// non-zero offset.
func (t *Transfer) request(ctx context.Context, offset int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		if t.cancelled.Load() {
			return nil, cancelledError(t.handle)
		}
		return nil, fmt.Errorf("fetching artifact: %v: %w", err, ErrNetwork)
	}
	return resp, nil
}

// restartFromZero discards the partial prefix. The byte counter resets but
// observed Progress keeps its high-water mark.
func (t *Transfer) restartFromZero(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("%w: truncate temp file: %v", ErrStorage, err)
	}
	t.bytes.Store(0)
	t.networkBytes.Store(0)
	return nil
}

// copyBody streams the response into the temp file, polling the cancel
// flag every buffer iteration so cancellation latency is bounded by one
// read.
func (t *Transfer) copyBody(body io.Reader, f *os.File) error {
	buf := make([]byte, transferBufferSize)
	lastReport := time.Now()

	for {
		if t.cancelled.Load() {
			return cancelledError(t.handle)
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				return fmt.Errorf("%w: write temp file: %v", ErrStorage, err)
			}
			t.bytes.Add(int64(n))
			t.networkBytes.Add(int64(n))
			t.updateFraction()

			if time.Since(lastReport) >= progressReportInterval {
				t.report(TransferInProgress)
				lastReport = time.Now()
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			if t.cancelled.Load() {
				return cancelledError(t.handle)
			}
			return fmt.Errorf("reading artifact body: %v: %w", readErr, ErrNetwork)
		}
	}
}

// report invokes the progress callback with a consistent snapshot. The
// callback runs on the worker goroutine.
func (t *Transfer) report(state TransferState) {
	if t.progressFn == nil {
		return
	}

	var speed float64
	if elapsed := time.Since(t.startedAt).Seconds(); elapsed > 0 {
		speed = float64(t.networkBytes.Load()) / elapsed
	}

	t.progressFn(TransferProgress{
		Handle:           t.handle,
		State:            state,
		BytesTransferred: t.bytes.Load(),
		ExpectedBytes:    t.expectedSize,
		Fraction:         t.Progress(),
		BytesPerSecond:   speed,
	})
}

func (t *Transfer) tempPath() string {
	return t.destPath + ".tmp"
}

// removeTemp deletes the temp file. Races with concurrent deletion are
// ignored, never surfaced as a secondary error.
func (t *Transfer) removeTemp() {
	if err := os.Remove(t.tempPath()); err != nil && !os.IsNotExist(err) {
		if t.logger != nil {
			t.logger.Warn("temp file removal failed", "handle", t.handle, "error", err)
		}
	}
}

func (t *Transfer) releaseLock() {
	if t.lock != nil {
		t.lock.Unlock()
	}
}
