package document

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"paperlens/internal/domain"

	"github.com/PuerkitoBio/goquery"
)

const (
	DefaultMaxFileBytes int64 = 10 * 1024 * 1024
	DefaultMaxURLBytes  int64 = 20 * 1024 * 1024

	defaultURLMIMEType = "application/pdf"
	pastedTextName     = "Pasted text"

	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36"
)

var errLimitExceeded = errors.New("limit exceeded")

//nolint:gochecknoglobals // Immutable allow-list.
var acceptedFileTypes = map[string]struct{}{
	"application/pdf": {},
	"text/plain":      {},
}

type Option func(*Normalizer)

func WithMaxFileBytes(n int64) Option {
	return func(nr *Normalizer) {
		nr.maxFileBytes = n
	}
}

func WithMaxURLBytes(n int64) Option {
	return func(nr *Normalizer) {
		nr.maxURLBytes = n
	}
}

func WithUserAgent(ua string) Option {
	return func(nr *Normalizer) {
		nr.userAgent = ua
	}
}

// Normalizer turns pasted text, uploaded files and remote URLs into
// documents carrying a canonical payload.
type Normalizer struct {
	client       *http.Client
	maxFileBytes int64
	maxURLBytes  int64
	userAgent    string
	log          *slog.Logger
}

func NewNormalizer(client *http.Client, log *slog.Logger, opts ...Option) *Normalizer {
	if client == nil {
		client = http.DefaultClient
	}

	n := &Normalizer{
		client:       client,
		maxFileBytes: DefaultMaxFileBytes,
		maxURLBytes:  DefaultMaxURLBytes,
		userAgent:    defaultUserAgent,
		log:          log,
	}

	for _, opt := range opts {
		opt(n)
	}

	return n
}

func (n *Normalizer) FromText(text string) domain.Document {
	return domain.Document{
		Name:    pastedTextName,
		Source:  domain.SourceText,
		Size:    int64(len(text)),
		Payload: domain.TextPayload{Content: text},
	}
}

func (n *Normalizer) FromFile(
	name string,
	mimeType string,
	size int64,
	r io.Reader,
) (domain.Document, error) {
	mediaType, err := n.CheckFile(mimeType, size)
	if err != nil {
		return domain.Document{}, err
	}

	data, err := readLimited(r, n.maxFileBytes)
	if errors.Is(err, errLimitExceeded) {
		return domain.Document{}, fmt.Errorf("%w: more than %d bytes", ErrFileTooLarge, n.maxFileBytes)
	}
	if err != nil {
		return domain.Document{}, fmt.Errorf("read file: %w", err)
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = "Uploaded file"
	}

	return domain.Document{
		Name:   name,
		Source: domain.SourceFile,
		Size:   int64(len(data)),
		Payload: domain.BinaryPayload{
			Data:     base64.StdEncoding.EncodeToString(data),
			MIMEType: mediaType,
		},
	}, nil
}

// CheckFile validates the declared type and size of an upload so that
// callers can reject it before transferring any bytes. It returns the
// media type without parameters.
func (n *Normalizer) CheckFile(mimeType string, size int64) (string, error) {
	mediaType, ok := acceptedMediaType(mimeType)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, mimeType)
	}

	if size > n.maxFileBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrFileTooLarge, size)
	}

	return mediaType, nil
}

func (n *Normalizer) MaxFileBytes() int64 {
	return n.maxFileBytes
}

func (n *Normalizer) MaxURLBytes() int64 {
	return n.maxURLBytes
}

func (n *Normalizer) FromURL(ctx context.Context, rawURL string) (domain.Document, error) {
	rawURL = strings.TrimSpace(rawURL)

	u, err := url.Parse(rawURL)
	if err != nil {
		return domain.Document{}, &FetchError{URL: rawURL, Err: fmt.Errorf("parse URL: %w", err)}
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return domain.Document{}, &FetchError{URL: rawURL, Err: errors.New("URL must be absolute http(s)")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return domain.Document{}, &FetchError{URL: rawURL, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", n.userAgent)

	resp, err := n.client.Do(req)
	if err != nil {
		return domain.Document{}, &FetchError{URL: rawURL, Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			n.log.WarnContext(ctx, "Failed to close response body",
				"error", closeErr,
				"url", rawURL)
		}
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return domain.Document{}, &FetchError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	if resp.ContentLength > n.maxURLBytes {
		return domain.Document{}, fmt.Errorf("%w: %d bytes", ErrURLTooLarge, resp.ContentLength)
	}

	data, err := readLimited(resp.Body, n.maxURLBytes)
	if errors.Is(err, errLimitExceeded) {
		return domain.Document{}, fmt.Errorf("%w: more than %d bytes", ErrURLTooLarge, n.maxURLBytes)
	}
	if err != nil {
		return domain.Document{}, &FetchError{URL: rawURL, Err: fmt.Errorf("read body: %w", err)}
	}

	mimeType := responseMediaType(resp.Header.Get("Content-Type"))

	return domain.Document{
		Name:   n.documentName(ctx, u, mimeType, data),
		Source: domain.SourceURL,
		Size:   int64(len(data)),
		Payload: domain.BinaryPayload{
			Data:     base64.StdEncoding.EncodeToString(data),
			MIMEType: mimeType,
		},
	}, nil
}

func (n *Normalizer) documentName(
	ctx context.Context,
	u *url.URL,
	mimeType string,
	data []byte,
) string {
	if mimeType == "text/html" {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
		if err != nil {
			n.log.WarnContext(ctx, "Failed to parse HTML document",
				"error", err,
				"url", u.String())
		} else if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
			return title
		}
	}

	if base := path.Base(u.Path); base != "/" && base != "." && base != "" {
		return base
	}

	return u.Host
}

func acceptedMediaType(mimeType string) (string, bool) {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return "", false
	}

	_, ok := acceptedFileTypes[mediaType]
	return mediaType, ok
}

func responseMediaType(contentType string) string {
	if strings.TrimSpace(contentType) == "" {
		return defaultURLMIMEType
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType == "" {
		return defaultURLMIMEType
	}

	return mediaType
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}

	if int64(len(data)) > limit {
		return nil, errLimitExceeded
	}

	return data, nil
}
