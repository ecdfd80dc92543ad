// Package download fetches remote media over HTTP with resume support.
//
// The flow mirrors how browsers pull large media: a ranged probe to learn
// the total size, then windowed ranged GETs appended to the partial file.
// Servers that ignore Range degrade to a single full-body download.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"mediadigest/internal/logging"
	"mediadigest/internal/progress"
)

const (
	// defaultWindowSize is how many bytes each ranged request asks for.
	defaultWindowSize = 8 << 20

	// copyBufSize is the streaming buffer used while writing the body.
	copyBufSize = 512 << 10

	// forbiddenRetries bounds 403 retries per window.
	forbiddenRetries = 3
)

// FileType classifies the remote resource from its Content-Type.
type FileType string

const (
	TypeVideo FileType = "video"
	TypeAudio FileType = "audio"
)

// Info describes what the size probe learned about the remote resource.
type Info struct {
	Size        int64
	ContentType string
	Rangeable   bool   // server answered 206 with Content-Range
	Validator   string // ETag or Last-Modified, may be empty
}

// Result describes a finished download.
type Result struct {
	Path    string
	Type    FileType
	Size    int64
	Resumed bool
}

// Downloader fetches a URL to local storage with resume support and
// progress reporting.
type Downloader struct {
	outDir  string
	client  *http.Client
	headers map[string]string
	cookies map[string]string

	windowSize int64

	// onProgress receives (bytes received, total bytes or 0 if unknown).
	onProgress func(received, total int64)
	reporter   *progress.Reporter

	// remux, when set, rewrites a completed video file for seekable
	// playback. Its failure is non-fatal.
	remux func(ctx context.Context, input string) (string, error)
}

// NewDownloader creates a Downloader writing into outputDir using the
// default authenticated header set.
func NewDownloader(outputDir string) *Downloader {
	return &Downloader{
		outDir:     outputDir,
		client:     &http.Client{Timeout: 0},
		headers:    DefaultHeaders(),
		windowSize: defaultWindowSize,
	}
}

// SetProgressCallback sets the callback for progress updates.
func (d *Downloader) SetProgressCallback(fn func(received, total int64)) {
	d.onProgress = fn
}

// SetReporter attaches a progress message reporter.
func (d *Downloader) SetReporter(r *progress.Reporter) {
	d.reporter = r
}

// SetHeaders merges custom headers over the current set.
func (d *Downloader) SetHeaders(h map[string]string) {
	d.headers = mergeMaps(d.headers, h)
}

// SetCookies merges custom cookies over the current set.
func (d *Downloader) SetCookies(c map[string]string) {
	d.cookies = mergeMaps(d.cookies, c)
}

// SetNoAuth drops all headers and cookies in favor of a bare User-Agent,
// for public URLs.
func (d *Downloader) SetNoAuth() {
	d.headers = MinimalHeaders()
	d.cookies = nil
}

// SetClient replaces the HTTP client (tests, custom timeouts).
func (d *Downloader) SetClient(c *http.Client) {
	if c != nil {
		d.client = c
	}
}

// SetWindowSize overrides the ranged-request window size.
func (d *Downloader) SetWindowSize(n int64) {
	if n > 0 {
		d.windowSize = n
	}
}

// SetRemuxer installs the post-download video optimization step.
func (d *Downloader) SetRemuxer(fn func(ctx context.Context, input string) (string, error)) {
	d.remux = fn
}

// FetchAuto downloads rawURL to a timestamp-qualified filename derived
// from the URL, never overwriting a previous download.
func (d *Downloader) FetchAuto(ctx context.Context, rawURL string) (Result, error) {
	info, probeErr := d.probe(ctx, rawURL)
	ft := classify(info.ContentType)
	dest := d.outputFilename(rawURL, ft)
	return d.fetch(ctx, rawURL, dest, info, probeErr)
}

// Fetch downloads rawURL to an explicit destination path. A partial file
// at dest is resumed from its current size.
func (d *Downloader) Fetch(ctx context.Context, rawURL, dest string) (Result, error) {
	info, probeErr := d.probe(ctx, rawURL)
	return d.fetch(ctx, rawURL, dest, info, probeErr)
}

func (d *Downloader) fetch(ctx context.Context, rawURL, dest string, info Info, probeErr error) (Result, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return Result{}, fmt.Errorf("create output dir: %w", err)
	}

	res := Result{Path: dest, Type: classify(info.ContentType)}

	if probeErr != nil {
		// Size unknown; single full-body attempt, no resume.
		d.reporter.Log("warn", fmt.Sprintf("size probe failed (%v); falling back to full download", probeErr))
		n, err := d.downloadFull(ctx, rawURL, dest)
		if err != nil {
			d.reporter.Error("download failed", err)
			return Result{}, err
		}
		res.Size = n
	} else {
		resumed, err := d.downloadRanged(ctx, rawURL, dest, info)
		if err != nil {
			// One documented fallback: restart with a plain GET.
			d.reporter.Log("warn", fmt.Sprintf("ranged download failed (%v); trying fallback", err))
			n, ferr := d.downloadFull(ctx, rawURL, dest)
			if ferr != nil {
				d.reporter.Error("download failed", ferr)
				return Result{}, ferr
			}
			res.Size = n
		} else {
			res.Size = info.Size
			res.Resumed = resumed
		}
	}

	if res.Type == TypeVideo && d.remux != nil {
		d.reporter.Log("info", "optimizing video for seeking")
		if fixed, err := d.remux(ctx, dest); err != nil {
			// Non-fatal: keep the original file.
			d.reporter.Log("warn", fmt.Sprintf("video optimization failed, keeping original: %v", err))
		} else {
			res.Path = fixed
		}
	}

	d.reporter.Complete(true, res.Path)
	return res, nil
}

// probe issues a ranged GET to learn the total size, content type and
// validator without pulling the body.
func (d *Downloader) probe(ctx context.Context, rawURL string) (Info, error) {
	req, err := d.newRequest(ctx, rawURL)
	if err != nil {
		return Info{}, err
	}
	req.Header.Set("Range", "bytes=0-")

	resp, err := d.client.Do(req)
	if err != nil {
		return Info{}, fmt.Errorf("size probe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return Info{}, fmt.Errorf("size probe: %w: %s", ErrBadStatus, resp.Status)
	}

	info := Info{
		ContentType: resp.Header.Get("Content-Type"),
		Rangeable:   resp.StatusCode == http.StatusPartialContent,
		Validator:   validator(resp.Header),
	}

	if cr := resp.Header.Get("Content-Range"); cr != "" {
		// Content-Range: bytes 0-.../total
		if i := strings.LastIndex(cr, "/"); i >= 0 {
			if n, err := strconv.ParseInt(cr[i+1:], 10, 64); err == nil && n > 0 {
				info.Size = n
				return info, nil
			}
		}
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n > 0 {
			info.Size = n
			return info, nil
		}
	}
	return info, ErrSizeUnknown
}

// downloadRanged pulls the body in fixed windows, appending to any
// existing partial file. Returns whether an existing partial was resumed.
func (d *Downloader) downloadRanged(ctx context.Context, rawURL, dest string, info Info) (bool, error) {
	var offset int64
	if st, err := os.Stat(dest); err == nil && st.Size() > 0 {
		offset = st.Size()
	}
	if offset >= info.Size && info.Size > 0 {
		// Already complete.
		d.report(offset, info.Size)
		return false, nil
	}

	resumed := offset > 0
	if resumed {
		logging.LogDownloadResume(rawURL, dest, offset)
		d.reporter.Log("info", fmt.Sprintf("resuming from %d bytes", offset))
		d.checkValidator(rawURL, dest, info.Validator)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if resumed {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(dest, flags, 0o644)
	if err != nil {
		return false, fmt.Errorf("open output: %w", err)
	}
	defer f.Close()

	forbidden := 0
	for offset < info.Size {
		if err := ctx.Err(); err != nil {
			return resumed, err
		}
		end := min(offset+d.windowSize-1, info.Size-1)

		req, err := d.newRequest(ctx, rawURL)
		if err != nil {
			return resumed, err
		}
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, end))

		resp, err := d.client.Do(req)
		if err != nil {
			return resumed, fmt.Errorf("ranged request: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusPartialContent:
			n, err := d.copyBody(f, resp.Body, offset, info.Size)
			resp.Body.Close()
			if err != nil {
				return resumed, fmt.Errorf("write body: %w", err)
			}
			offset += n
			forbidden = 0

		case resp.StatusCode == http.StatusOK:
			// Server ignored the range and sent the full body. Discard
			// whatever partial content we had and take it from the top.
			if offset > 0 {
				logging.LogDownloadRestart(rawURL, dest)
				d.reporter.Log("warn", "server does not support resume; restarting from zero")
				if err := f.Truncate(0); err != nil {
					resp.Body.Close()
					return resumed, fmt.Errorf("truncate partial: %w", err)
				}
				if _, err := f.Seek(0, io.SeekStart); err != nil {
					resp.Body.Close()
					return resumed, fmt.Errorf("rewind partial: %w", err)
				}
				resumed = false
			}
			n, err := d.copyBody(f, resp.Body, 0, info.Size)
			resp.Body.Close()
			if err != nil {
				return resumed, fmt.Errorf("write body: %w", err)
			}
			offset = n

		case resp.StatusCode == http.StatusForbidden:
			resp.Body.Close()
			forbidden++
			if forbidden >= forbiddenRetries {
				return resumed, fmt.Errorf("%w after %d attempts", ErrForbidden, forbidden)
			}
			d.reporter.Log("warn", "access forbidden (403), retrying window")
			continue

		default:
			status := resp.Status
			resp.Body.Close()
			return resumed, fmt.Errorf("%w: %s", ErrBadStatus, status)
		}
	}

	d.refreshValidator(dest, info.Validator)
	return resumed, nil
}

// downloadFull is the no-resume fallback: one plain GET, truncate, write.
func (d *Downloader) downloadFull(ctx context.Context, rawURL, dest string) (int64, error) {
	req, err := d.newRequest(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fallback request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("%w: %s", ErrBadStatus, resp.Status)
	}

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open output: %w", err)
	}
	defer f.Close()

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	n, err := d.copyBody(f, resp.Body, 0, total)
	if err != nil {
		return n, err
	}
	// The file was rewritten from this response; a sidecar from an
	// earlier attempt no longer describes its content.
	d.refreshValidator(dest, validator(resp.Header))
	return n, nil
}

// copyBody streams src into dst in fixed buffers, reporting progress as
// (base+written, total).
func (d *Downloader) copyBody(dst io.Writer, src io.Reader, base, total int64) (int64, error) {
	buf := make([]byte, copyBufSize)
	var written int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return written, werr
			}
			written += int64(n)
			d.report(base+written, total)
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

func (d *Downloader) report(received, total int64) {
	if d.onProgress != nil {
		d.onProgress(received, total)
	}
	d.reporter.Update("download", received, total, "")
}

func (d *Downloader) newRequest(ctx context.Context, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range d.headers {
		req.Header.Set(k, v)
	}
	if ch := CookieHeader(d.cookies); ch != "" {
		req.Header.Set("Cookie", ch)
	}
	return req, nil
}

// outputFilename derives a timestamp-qualified name from the URL so that
// reruns never overwrite earlier downloads.
func (d *Downloader) outputFilename(rawURL string, ft FileType) string {
	ts := time.Now().Format("20060102_150405")

	base := ""
	if u, err := url.Parse(rawURL); err == nil {
		if b, err := url.PathUnescape(filepath.Base(u.Path)); err == nil {
			base = b
		}
	}

	var name string
	if base != "" && base != "." && base != "/" {
		ext := filepath.Ext(base)
		name = fmt.Sprintf("%s_%s%s", strings.TrimSuffix(base, ext), ts, ext)
	} else if ft == TypeAudio {
		name = fmt.Sprintf("audio_%s.mp3", ts)
	} else {
		name = fmt.Sprintf("video_%s.mp4", ts)
	}

	candidate := filepath.Join(d.outDir, name)
	for i := 2; ; i++ {
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
		ext := filepath.Ext(name)
		candidate = filepath.Join(d.outDir, fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), i, ext))
	}
}

// checkValidator compares the stored validator sidecar against the one
// the probe just saw. A mismatch means the remote content changed under
// the partial file; this is logged, not enforced.
func (d *Downloader) checkValidator(rawURL, dest, current string) {
	b, err := os.ReadFile(dest + ".etag")
	if err != nil {
		return
	}
	stored := strings.TrimSpace(string(b))
	if stored != "" && current != "" && stored != current {
		logging.LogValidatorMismatch(rawURL, dest, stored, current)
		d.reporter.Log("warn", "remote content changed since partial download; resumed file may be inconsistent")
	}
}

// refreshValidator replaces the sidecar with the validator of the
// response the file now reflects; when the server sent none, a stale
// sidecar is removed rather than left to poison a later resume.
func (d *Downloader) refreshValidator(dest, v string) {
	if v == "" {
		_ = os.Remove(dest + ".etag")
		return
	}
	_ = os.WriteFile(dest+".etag", []byte(v), 0o644)
}

func validator(h http.Header) string {
	if et := h.Get("ETag"); et != "" {
		return et
	}
	return h.Get("Last-Modified")
}

func classify(contentType string) FileType {
	ct := strings.ToLower(contentType)
	if strings.HasPrefix(ct, "audio/") {
		return TypeAudio
	}
	return TypeVideo
}
