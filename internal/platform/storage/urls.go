package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

const (
	defaultDownloadExpiry = 15 * time.Minute
	maxDownloadExpiry     = 7 * 24 * time.Hour
)

var (
	errNoSigningSource = errors.New("storage: signer or storage client is required")
	errInvalidBucket   = errors.New("storage: bucket name is required")
	errInvalidObject   = errors.New("storage: object name is required")
	errExpiryTooLong   = errors.New("storage: expiry exceeds permitted maximum")
)

// URLSigner issues time-limited download links for exported objects. With a Signer the
// URL is signed locally; otherwise the storage client detects the ambient credentials.
type URLSigner struct {
	signer Signer
	client *gcs.Client
	now    func() time.Time
}

// URLSignerOption customises a URLSigner.
type URLSignerOption func(*URLSigner)

// WithSigner signs URLs with an explicit service account key.
func WithSigner(signer Signer) URLSignerOption {
	return func(s *URLSigner) { s.signer = signer }
}

// WithStorageClient signs URLs through the client's detected credentials.
func WithStorageClient(client *gcs.Client) URLSignerOption {
	return func(s *URLSigner) { s.client = client }
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) URLSignerOption {
	return func(s *URLSigner) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewURLSigner requires at least one signing source.
func NewURLSigner(opts ...URLSignerOption) (*URLSigner, error) {
	s := &URLSigner{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.signer != nil && strings.TrimSpace(s.signer.Email()) == "" {
		return nil, errors.New("storage: signer email is required")
	}
	if s.signer == nil && s.client == nil {
		return nil, errNoSigningSource
	}
	return s, nil
}

// DownloadOptions control the response served through the signed URL.
type DownloadOptions struct {
	ExpiresIn   time.Duration
	FileName    string
	ContentType string
}

// SignedURL is a generated download link.
type SignedURL struct {
	URL       string
	ExpiresAt time.Time
}

// DownloadURL signs a GET URL for bucket/object.
func (s *URLSigner) DownloadURL(ctx context.Context, bucket, object string, opts DownloadOptions) (SignedURL, error) {
	if s == nil {
		return SignedURL{}, errNoSigningSource
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return SignedURL{}, errInvalidBucket
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return SignedURL{}, errInvalidObject
	}
	expiry := opts.ExpiresIn
	if expiry <= 0 {
		expiry = defaultDownloadExpiry
	}
	if expiry > maxDownloadExpiry {
		return SignedURL{}, errExpiryTooLong
	}

	expiresAt := s.now().Add(expiry)
	urlOpts := &gcs.SignedURLOptions{
		Method:  "GET",
		Expires: expiresAt,
		Scheme:  gcs.SigningSchemeV4,
	}
	query := url.Values{}
	if name := strings.TrimSpace(opts.FileName); name != "" {
		query.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", name))
	}
	if ct := strings.TrimSpace(opts.ContentType); ct != "" {
		query.Set("response-content-type", ct)
	}
	if len(query) > 0 {
		urlOpts.QueryParameters = query
	}

	var (
		signed string
		err    error
	)
	if s.signer != nil {
		urlOpts.GoogleAccessID = s.signer.Email()
		urlOpts.SignBytes = func(payload []byte) ([]byte, error) {
			return s.signer.SignBytes(ctx, payload)
		}
		signed, err = gcs.SignedURL(bucket, object, urlOpts)
	} else {
		signed, err = s.client.Bucket(bucket).SignedURL(object, urlOpts)
	}
	if err != nil {
		return SignedURL{}, fmt.Errorf("storage: sign download url: %w", err)
	}
	return SignedURL{URL: signed, ExpiresAt: expiresAt}, nil
}
