// Package upload pushes completed export files to the collection server.
// Files go up through a bounded worker pool whose width adapts to measured
// throughput: one worker until a successful upload demonstrates at least
// SpeedThreshold, the full pool after that.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openbmap/radiobeacon-core/internal/observability"
)

const (
	// DefaultMaxWorkers is the pool width once throughput is proven.
	DefaultMaxWorkers = 5

	// SpeedThreshold is the measured upload speed, in bytes per second,
	// above which the pool widens beyond a single worker.
	SpeedThreshold = 10 * 1024

	// DefaultRetries is the number of extra attempts per file after the
	// first failure.
	DefaultRetries = 2

	// DefaultGracePeriod bounds how long UploadAll waits for in-flight
	// uploads before reporting partial failure.
	DefaultGracePeriod = 120 * time.Second

	// DefaultHTTPTimeout bounds every individual HTTP call.
	DefaultHTTPTimeout = 30 * time.Second
)

// ErrUnauthorized marks a credential rejection (HTTP 401). It aborts the
// whole run: remaining files fail immediately and nothing is retried.
var ErrUnauthorized = errors.New("upload: credentials rejected")

// ErrVersionNotAllowed is returned when the server's version check refuses
// this client before any file is sent.
var ErrVersionNotAllowed = errors.New("upload: client version not accepted by server")

// Credentials authenticate uploads via HTTP Basic. Leave empty and enable
// anonymous mode to use a server-issued single-use token instead.
type Credentials struct {
	User     string
	Password string
}

// Report summarizes an upload run.
type Report struct {
	Uploaded []string
	Failed   []string
}

// Uploader drives upload runs against a fixed set of endpoints.
type Uploader struct {
	client     *http.Client
	uploadURL  string
	tokenURL   string
	versionURL string

	creds     Credentials
	anonymous bool

	clientVersion string
	keepFiles     bool

	maxWorkers int
	retries    int
	grace      time.Duration

	logger  *slog.Logger
	metrics *observability.Metrics

	active atomic.Int64

	mu        sync.Mutex
	lastSpeed float64
	widened   bool
}

// Option configures the uploader.
type Option func(*Uploader)

// WithLogger injects a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(u *Uploader) {
		if logger != nil {
			u.logger = logger
		}
	}
}

// WithMetrics attaches metrics instrumentation.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(u *Uploader) {
		if metrics != nil {
			u.metrics = metrics
		}
	}
}

// WithHTTPClient overrides the HTTP client, timeout included.
func WithHTTPClient(client *http.Client) Option {
	return func(u *Uploader) {
		if client != nil {
			u.client = client
		}
	}
}

// WithCredentials switches the uploader to HTTP Basic authentication.
func WithCredentials(creds Credentials) Option {
	return func(u *Uploader) {
		u.creds = creds
		u.anonymous = false
	}
}

// WithAnonymousToken switches the uploader to token authentication; the
// token is fetched once per run from tokenURL before any file is sent.
func WithAnonymousToken(tokenURL string) Option {
	return func(u *Uploader) {
		u.tokenURL = tokenURL
		u.anonymous = true
	}
}

// WithVersionCheck enables the pre-flight client version check.
func WithVersionCheck(versionURL string) Option {
	return func(u *Uploader) {
		u.versionURL = versionURL
	}
}

// WithKeepFiles prevents deletion of files after successful upload.
func WithKeepFiles(keep bool) Option {
	return func(u *Uploader) {
		u.keepFiles = keep
	}
}

// WithGracePeriod overrides the completion wait bound.
func WithGracePeriod(d time.Duration) Option {
	return func(u *Uploader) {
		if d > 0 {
			u.grace = d
		}
	}
}

// WithMaxWorkers overrides the widened pool size.
func WithMaxWorkers(n int) Option {
	return func(u *Uploader) {
		if n > 0 {
			u.maxWorkers = n
		}
	}
}

// WithRetries overrides the extra attempts per file.
func WithRetries(n int) Option {
	return func(u *Uploader) {
		if n >= 0 {
			u.retries = n
		}
	}
}

// New creates an uploader targeting uploadURL. clientVersion is reported
// to the server's version check and stamped into upload requests.
func New(uploadURL, clientVersion string, opts ...Option) *Uploader {
	u := &Uploader{
		client:        &http.Client{Timeout: DefaultHTTPTimeout},
		uploadURL:     uploadURL,
		clientVersion: clientVersion,
		maxWorkers:    DefaultMaxWorkers,
		retries:       DefaultRetries,
		grace:         DefaultGracePeriod,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// AllowedWorkers reports the current pool width: one worker until a
// successful upload has measured at least SpeedThreshold, the full pool
// from then on. Widening is one-way; a later slow sample within the same
// run does not narrow the pool, so the reported width never drops below
// the number of uploads already in flight.
func (u *Uploader) AllowedWorkers() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.widened || u.lastSpeed >= SpeedThreshold {
		return u.maxWorkers
	}
	return 1
}

func (u *Uploader) recordSpeed(speed float64) {
	u.mu.Lock()
	u.lastSpeed = speed
	u.mu.Unlock()
}

func (u *Uploader) markWidened() {
	u.mu.Lock()
	u.widened = true
	u.mu.Unlock()
}

type fileResult struct {
	file string
	err  error
}

// UploadAll pushes every file through the worker pool and reports which
// succeeded. A 401 from the server fails the rest of the run without
// retrying; the grace period bounds the wait for in-flight uploads, and on
// expiry the unfinished files count as failed without being cancelled.
func (u *Uploader) UploadAll(ctx context.Context, files []string) (Report, error) {
	if len(files) == 0 {
		return Report{}, nil
	}

	if u.versionURL != "" {
		if err := u.checkVersion(ctx); err != nil {
			return Report{Failed: append([]string(nil), files...)}, err
		}
	}

	token := ""
	if u.anonymous {
		t, err := u.fetchToken(ctx)
		if err != nil {
			return Report{Failed: append([]string(nil), files...)}, err
		}
		token = t
	}

	// Permit channel sized for the widened pool, seeded with a single
	// permit. The pool widens exactly once, after the first upload that
	// proves adequate throughput.
	permits := make(chan struct{}, u.maxWorkers)
	permits <- struct{}{}
	var widen sync.Once

	var fatal atomic.Bool
	results := make(chan fileResult, len(files))
	var wg sync.WaitGroup

	for _, file := range files {
		if fatal.Load() {
			results <- fileResult{file: file, err: ErrUnauthorized}
			continue
		}
		select {
		case <-ctx.Done():
			results <- fileResult{file: file, err: ctx.Err()}
			continue
		case <-permits:
		}
		if fatal.Load() {
			permits <- struct{}{}
			results <- fileResult{file: file, err: ErrUnauthorized}
			continue
		}

		wg.Add(1)
		go func(file string) {
			defer wg.Done()
			defer func() { permits <- struct{}{} }()

			u.metrics.SetActiveUploads(int(u.active.Add(1)))
			defer func() { u.metrics.SetActiveUploads(int(u.active.Add(-1))) }()

			speed, err := u.uploadWithRetry(ctx, file, token)
			if err != nil {
				if errors.Is(err, ErrUnauthorized) {
					fatal.Store(true)
				}
				u.metrics.IncUploadsFailed()
				results <- fileResult{file: file, err: err}
				return
			}

			u.recordSpeed(speed)
			if speed >= SpeedThreshold {
				widen.Do(func() {
					u.markWidened()
					for i := 1; i < u.maxWorkers; i++ {
						permits <- struct{}{}
					}
				})
			}
			u.metrics.IncUploadsSucceeded()
			if !u.keepFiles {
				if err := os.Remove(file); err != nil {
					u.logger.Warn("could not remove uploaded file", "file", file, "error", err)
				}
			}
			results <- fileResult{file: file, err: nil}
		}(file)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	graceExpired := false
	select {
	case <-done:
	case <-time.After(u.grace):
		graceExpired = true
		u.logger.Warn("grace period expired with uploads still in flight",
			"grace", u.grace)
	}

	var report Report
	seen := make(map[string]bool, len(files))
	for {
		select {
		case res := <-results:
			seen[res.file] = true
			if res.err == nil {
				report.Uploaded = append(report.Uploaded, res.file)
			} else {
				report.Failed = append(report.Failed, res.file)
			}
			continue
		default:
		}
		break
	}
	// Files whose workers outlived the grace period have no result yet.
	for _, file := range files {
		if !seen[file] {
			report.Failed = append(report.Failed, file)
		}
	}

	u.logger.Info("upload run finished",
		"uploaded", len(report.Uploaded),
		"failed", len(report.Failed),
		"grace_expired", graceExpired)

	if fatal.Load() {
		return report, ErrUnauthorized
	}
	if graceExpired || len(report.Failed) > 0 {
		return report, fmt.Errorf("upload: %d of %d files failed", len(report.Failed), len(files))
	}
	return report, nil
}

// uploadWithRetry sends one file, retrying transient failures up to the
// configured bound. Returns the measured speed in bytes per second.
func (u *Uploader) uploadWithRetry(ctx context.Context, file, token string) (float64, error) {
	var lastErr error
	for attempt := 0; attempt <= u.retries; attempt++ {
		if attempt > 0 {
			u.metrics.IncUploadRetries()
			u.logger.Debug("retrying upload", "file", file, "attempt", attempt)
		}
		speed, err := u.uploadOnce(ctx, file, token)
		if err == nil {
			return speed, nil
		}
		if errors.Is(err, ErrUnauthorized) || ctx.Err() != nil {
			return 0, err
		}
		lastErr = err
	}
	return 0, fmt.Errorf("upload: %s: attempts exhausted: %w", filepath.Base(file), lastErr)
}

func (u *Uploader) uploadOnce(ctx context.Context, file, token string) (float64, error) {
	payload, err := os.ReadFile(file)
	if err != nil {
		return 0, fmt.Errorf("upload: read %s: %w", file, err)
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", filepath.Base(file))
	if err != nil {
		return 0, fmt.Errorf("upload: build form: %w", err)
	}
	if _, err := part.Write(payload); err != nil {
		return 0, fmt.Errorf("upload: build form: %w", err)
	}
	if token != "" {
		if err := form.WriteField("api", token); err != nil {
			return 0, fmt.Errorf("upload: build form: %w", err)
		}
	}
	if err := form.Close(); err != nil {
		return 0, fmt.Errorf("upload: build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.uploadURL, &body)
	if err != nil {
		return 0, fmt.Errorf("upload: build request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	if !u.anonymous && u.creds.User != "" {
		req.SetBasicAuth(u.creds.User, u.creds.Password)
	}

	start := time.Now()
	resp, err := u.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("upload: post %s: %w", filepath.Base(file), err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return 0, ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return 0, fmt.Errorf("upload: post %s: unexpected status %d", filepath.Base(file), resp.StatusCode)
	}

	elapsed := time.Since(start).Seconds()
	if elapsed <= 0 {
		elapsed = 0.001
	}
	return float64(len(payload)) / elapsed, nil
}

// fetchToken retrieves the single-use upload token; the endpoint answers
// with the raw token as a plain-text body.
func (u *Uploader) fetchToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.tokenURL, nil)
	if err != nil {
		return "", fmt.Errorf("upload: build token request: %w", err)
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload: fetch token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("upload: fetch token: unexpected status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("upload: read token: %w", err)
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", errors.New("upload: empty token from server")
	}
	return token, nil
}
