// Package objclient implements the content-addressed object protocol
// client: HEAD/GET/POST against /object/{hex}, basic auth over TLS, and
// the retry-until-cancelled policy the upload engine relies on for
// at-most-once object creation.
//
// Grounded on Upload::testObject/uploadObject/fetchObject and the
// short_delay retry loop in upload.cc, reshaped onto the pooled
// *http.Client + Options construction idiom from apiclient.go
// (KopiaAPIClient/NewKopiaAPIClient), including its TLS certificate
// pinning by SHA-256 fingerprint.
package objclient

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/coldvault/vaultengine/internal/objfmt"
	"github.com/coldvault/vaultengine/internal/vaulterr"
	"github.com/coldvault/vaultengine/internal/vlog"
)

var log = vlog.GetContextLoggerFunc("objclient")

// RetryDelay is the pause between retries of a transient failure, applied
// until the surrounding backup run is cancelled.
const RetryDelay = time.Second

// Options configures a Client.
type Options struct {
	// BaseURL is the scheme+host of the object API, e.g. "https://api.example.com".
	BaseURL string

	Username string
	Password string

	// TrustedServerCertificateFingerprint, if set, pins the server's leaf
	// certificate by its SHA-256 fingerprint instead of validating against
	// RootCAs.
	TrustedServerCertificateFingerprint string
	RootCAs                             *x509.CertPool

	HTTPClient *http.Client

	LogRequests bool
}

// Client is a pooled HTTPS client for the object and device-history
// endpoints, using TLS HTTP/1.1 with basic auth.
type Client struct {
	opts Options
}

// New constructs a Client from opts, building a default *http.Client with
// TLS pinning when no HTTPClient is supplied.
func New(opts Options) (*Client, error) {
	if opts.HTTPClient == nil {
		transport := &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs: opts.RootCAs,
			},
		}

		if fp := opts.TrustedServerCertificateFingerprint; fp != "" {
			if opts.RootCAs != nil {
				return nil, errors.New("cannot set both RootCAs and TrustedServerCertificateFingerprint")
			}

			transport.TLSClientConfig.InsecureSkipVerify = true //nolint:gosec // verified manually below
			transport.TLSClientConfig.VerifyPeerCertificate = verifyFingerprint(fp)
		}

		opts.HTTPClient = &http.Client{Transport: transport}
	}

	return &Client{opts: opts}, nil
}

func verifyFingerprint(sha256Fingerprint string) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		for _, c := range rawCerts {
			h := sha256.Sum256(c)
			if hex.EncodeToString(h[:]) == sha256Fingerprint {
				return nil
			}
		}

		return errors.Errorf("no peer certificate matches pinned fingerprint %q", sha256Fingerprint)
	}
}

func (c *Client) objectURL(h objfmt.Hash) string {
	return c.opts.BaseURL + "/object/" + h.String()
}

func (c *Client) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}

	if c.opts.Username != "" {
		req.SetBasicAuth(c.opts.Username, c.opts.Password)
	}

	return req, nil
}

// classify maps a completed HTTP round trip (or its absence, on transport
// error) onto the engine's error taxonomy.
func classify(resp *http.Response, rtErr error) error {
	if rtErr != nil {
		return errors.Wrap(vaulterr.ErrTransient, rtErr.Error())
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errors.Wrapf(vaulterr.ErrPermission, "status %s", resp.Status)
	case resp.StatusCode >= 500:
		return errors.Wrapf(vaulterr.ErrTransient, "status %s", resp.Status)
	default:
		return nil
	}
}

// do runs method/url once, returning the response with its body intact on
// any 2xx/404 status, or a classified error for anything the retry loop
// in TestObject/UploadObject should act on.
func (c *Client) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}

	req, err := c.newRequest(ctx, method, url, rdr)
	if err != nil {
		return nil, err
	}

	if c.opts.LogRequests {
		log(ctx).Debugf("%s %s", method, url)
	}

	resp, err := c.opts.HTTPClient.Do(req)
	if err := classify(resp, err); err != nil {
		if resp != nil {
			resp.Body.Close() //nolint:errcheck
		}

		return nil, err
	}

	return resp, nil
}

// retryUntilCancelled repeats fn until it returns a non-transient result
// (nil error, or an error that isn't ErrTransient/ErrMalformed), sleeping
// RetryDelay between attempts and honoring ctx cancellation as the signal
// to give up and surface ErrCancelled.
func retryUntilCancelled(ctx context.Context, fn func() error) error {
	for {
		err := fn()
		if err == nil || !vaulterr.Transient(err) {
			return err
		}

		select {
		case <-ctx.Done():
			return vaulterr.ErrCancelled
		case <-time.After(RetryDelay):
		}
	}
}

// TestObject issues HEAD /object/{h}. Returns (true, nil) if present,
// (false, nil) if absent. Transient failures retry with RetryDelay until
// ctx is cancelled, at which point it returns ErrCancelled.
func (c *Client) TestObject(ctx context.Context, h objfmt.Hash) (bool, error) {
	var present bool

	err := retryUntilCancelled(ctx, func() error {
		resp, err := c.do(ctx, http.MethodHead, c.objectURL(h), nil)
		if err != nil {
			return err
		}

		defer resp.Body.Close() //nolint:errcheck

		switch resp.StatusCode {
		case http.StatusNoContent:
			present = true

			return nil
		case http.StatusNotFound:
			present = false

			return nil
		default:
			return errors.Wrapf(vaulterr.ErrMalformed, "HEAD object: unexpected status %s", resp.Status)
		}
	})

	return present, err
}

// UploadObject POSTs obj to /object/{sha256(obj)}. Succeeds on 201;
// retries transient failures (including 5xx) with RetryDelay until ctx is
// cancelled.
func (c *Client) UploadObject(ctx context.Context, obj []byte) (objfmt.Hash, error) {
	h := objfmt.Sum(obj)

	err := retryUntilCancelled(ctx, func() error {
		resp, err := c.do(ctx, http.MethodPost, c.objectURL(h), obj)
		if err != nil {
			return err
		}

		defer resp.Body.Close() //nolint:errcheck

		switch resp.StatusCode {
		case http.StatusCreated, http.StatusConflict:
			// 409 arises from a mirror-driven back-replication path; treated
			// as success.
			return nil
		default:
			return errors.Wrapf(vaulterr.ErrMalformed, "upload object: unexpected status %s", resp.Status)
		}
	})

	return h, err
}

// FetchObject issues GET /object/{h}. 200 returns the raw body; 404 maps
// to ErrNotFound; neither is retried.
func (c *Client) FetchObject(ctx context.Context, h objfmt.Hash) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, c.objectURL(h), nil)
	if err != nil {
		return nil, err
	}

	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNotFound {
		return nil, errors.Wrapf(vaulterr.ErrNotFound, "object %s", h)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("fetch object %s: unexpected status %s", h, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(vaulterr.ErrTransient, err.Error())
	}

	return data, nil
}

// PostHistory POSTs the device-history XML body for a completed (or
// partial) snapshot. Caller maps any non-201 status to a warning without
// treating it as fatal - the uploaded objects remain reachable from root
// regardless.
func (c *Client) PostHistory(ctx context.Context, deviceOrUserPath string, tstamp time.Time, root objfmt.Hash, partial bool) (int, error) {
	kind := "c"
	if partial {
		kind = "p"
	}

	body := fmt.Sprintf(
		"<backup>\n  <tstamp>%s</tstamp>\n  <root>%s</root>\n  <type>%s</type>\n</backup>\n",
		tstamp.UTC().Format(time.RFC3339),
		root.String(),
		kind,
	)

	url := c.opts.BaseURL + "/devices/" + deviceOrUserPath + "/history"

	resp, err := c.do(ctx, http.MethodPost, url, []byte(body))
	if err != nil {
		return 0, err
	}

	defer resp.Body.Close() //nolint:errcheck

	return resp.StatusCode, nil
}
