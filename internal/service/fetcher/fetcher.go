package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"unicode/utf8"

	"golang.org/x/text/message"

	"github.com/oshokin/flatstore/internal/config"
	"github.com/oshokin/flatstore/internal/domain/install"
	"github.com/oshokin/flatstore/internal/logger"
	"github.com/oshokin/flatstore/internal/version"
)

var (
	// errInvalidUTF8 is the decode failure for bodies that are not text.
	errInvalidUTF8 = errors.New("response body is not valid UTF-8")
	// errSettingsNotInitialised is returned when New gets a nil config.
	errSettingsNotInitialised = errors.New("settings are not initialized")
)

// Fetcher downloads descriptors into the temporary directory.
type Fetcher struct {
	// client performs the single GET of each fetch.
	client *http.Client
	// baseURL is the repository folder holding descriptors.
	baseURL *url.URL
	// extension is the descriptor file extension, without the dot.
	extension string
	// tempDir is where descriptors are written.
	tempDir string
	// printer renders user-facing progress text.
	printer *message.Printer
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the HTTP client, e.g. with an httptest one.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// New creates a Fetcher from validated settings.
func New(cfg *config.Config, opts ...Option) (*Fetcher, error) {
	if cfg == nil {
		return nil, errSettingsNotInitialised
	}

	baseURL, err := url.Parse(cfg.RepositoryURL)
	if err != nil {
		return nil, fmt.Errorf("parse repository URL: %w", err)
	}

	tempDir, err := filepath.Abs(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("resolve temp dir: %w", err)
	}

	f := &Fetcher{
		client:    &http.Client{Timeout: cfg.Timeout},
		baseURL:   baseURL,
		extension: cfg.DescriptorExtension,
		tempDir:   tempDir,
		printer:   install.NewPrinter(cfg.Locale),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f, nil
}

// DescriptorURL returns the download location of the identifier's descriptor.
func (f *Fetcher) DescriptorURL(id install.Identifier) string {
	return f.baseURL.JoinPath(id.FileName(f.extension)).String()
}

// DescriptorPath returns where the identifier's descriptor is written.
func (f *Fetcher) DescriptorPath(id install.Identifier) string {
	return filepath.Join(f.tempDir, id.FileName(f.extension))
}

// Fetch downloads the descriptor of req.Identifier and writes it to the
// temporary directory, replacing any previous copy. Progress is reported to
// sink before the request and after the file is written.
// The caller owns the returned artifact and must remove it.
func (f *Fetcher) Fetch(ctx context.Context, sink install.Sink, req install.Request) (*install.Artifact, error) {
	if err := req.Identifier.Validate(); err != nil {
		return nil, err
	}

	var (
		emitter       = install.NewEmitter(sink, req)
		descriptorURL = f.DescriptorURL(req.Identifier)
	)

	if err := emitter.Output(ctx, f.printer.Sprintf(install.MsgDownloading, descriptorURL)); err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Downloading descriptor", "url", descriptorURL)

	content, err := f.download(ctx, descriptorURL)
	if err != nil {
		logger.WarnKV(ctx, "Descriptor download failed", "url", descriptorURL, "error", err)
		return nil, err
	}

	path := f.DescriptorPath(req.Identifier)
	if err = persist(path, content); err != nil {
		return nil, &install.FetchError{Kind: install.FetchPersist, URL: descriptorURL, Err: err}
	}

	logger.InfoKV(ctx, "Descriptor saved", "path", path, "bytes", len(content))

	if err = emitter.Output(ctx, f.printer.Sprintf(install.MsgDownloaded, path)); err != nil {
		return nil, err
	}

	return &install.Artifact{
		Identifier: req.Identifier,
		Path:       path,
		Content:    string(content),
	}, nil
}

// download performs the GET and returns the body. Every failure is a *install.FetchError.
func (f *Fetcher) download(ctx context.Context, descriptorURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, descriptorURL, http.NoBody)
	if err != nil {
		return nil, &install.FetchError{Kind: install.FetchTransport, URL: descriptorURL, Err: err}
	}

	req.Header.Set("User-Agent", version.UserAgent())

	response, err := f.client.Do(req)
	if err != nil {
		return nil, &install.FetchError{Kind: install.FetchTransport, URL: descriptorURL, Err: err}
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return nil, &install.FetchError{
			Kind:       install.FetchHTTPStatus,
			URL:        descriptorURL,
			StatusCode: response.StatusCode,
		}
	}

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, &install.FetchError{Kind: install.FetchDecode, URL: descriptorURL, Err: err}
	}

	if !utf8.Valid(body) {
		return nil, &install.FetchError{Kind: install.FetchDecode, URL: descriptorURL, Err: errInvalidUTF8}
	}

	return body, nil
}
