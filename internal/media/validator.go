// Package media fetches captured photos, videos and audio clips and checks
// that their content matches what the device declared.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/macleangm-debug/FieldForce/internal/models"
)

const (
	ThumbnailSize    = 320
	thumbnailQuality = 80
)

// ThumbnailStore persists generated thumbnails.
type ThumbnailStore interface {
	Upload(name, contentType, submissionID string, src io.Reader) (string, error)
}

type Config struct {
	Timeout  time.Duration
	MaxBytes int64
	// AllowedHosts limits fetches to these hosts and their subdomains.
	// Empty allows any host.
	AllowedHosts []string
	// AllowPrivate lets fetches reach loopback, private and link-local
	// addresses.
	AllowPrivate bool
}

const maxRedirects = 10

var errBlockedAddress = errors.New("media address not allowed")

type HTTPValidator struct {
	client *http.Client
	cfg    Config
	thumbs ThumbnailStore
	log    *slog.Logger
	now    func() time.Time
}

// NewHTTPValidator builds a validator. thumbs may be nil, in which case
// photos are checked but no thumbnail is kept.
func NewHTTPValidator(cfg Config, thumbs ThumbnailStore, log *slog.Logger) *HTTPValidator {
	v := &HTTPValidator{
		cfg:    cfg,
		thumbs: thumbs,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}

	dialer := &net.Dialer{Timeout: cfg.Timeout, KeepAlive: 30 * time.Second}
	if !cfg.AllowPrivate {
		dialer.Control = refusePrivate
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	// A proxy would dial on our behalf and skip the address check.
	transport.Proxy = nil

	v.client = &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return v.checkURL(req.URL)
		},
	}
	return v
}

// checkURL rejects anything other than http(s) to an allowed host. Literal
// private addresses are refused here; hostnames are checked again at dial
// time once resolved.
func (v *HTTPValidator) checkURL(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", errBlockedAddress, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: no host", errBlockedAddress)
	}
	if len(v.cfg.AllowedHosts) > 0 && !hostAllowed(host, v.cfg.AllowedHosts) {
		return fmt.Errorf("%w: host %s", errBlockedAddress, host)
	}
	if ip := net.ParseIP(host); ip != nil && !v.cfg.AllowPrivate && privateIP(ip) {
		return fmt.Errorf("%w: %s", errBlockedAddress, ip)
	}
	return nil
}

func hostAllowed(host string, allowed []string) bool {
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimPrefix(a, "."))
		if host == a || strings.HasSuffix(host, "."+a) {
			return true
		}
	}
	return false
}

func privateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() || ip.IsMulticast()
}

func refusePrivate(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", errBlockedAddress, address)
	}
	ip := net.ParseIP(host)
	if ip == nil || privateIP(ip) {
		return fmt.Errorf("%w: %s", errBlockedAddress, address)
	}
	return nil
}

func family(t models.MediaType) string {
	switch t {
	case models.MediaPhoto:
		return "image/"
	case models.MediaVideo:
		return "video/"
	case models.MediaAudio:
		return "audio/"
	}
	return ""
}

// Validate never returns an error; every outcome is described by the result.
func (v *HTTPValidator) Validate(ctx context.Context, submissionID string, f models.MediaField) models.MediaResult {
	res := models.MediaResult{Field: f.Field, Type: f.Media.Type, CheckedAt: v.now()}
	fail := func(status models.MediaStatus, format string, args ...any) models.MediaResult {
		res.Status = status
		res.Error = fmt.Sprintf(format, args...)
		return res
	}

	if f.Media.URL == "" {
		return fail(models.MediaSkipped, "no url to fetch")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.Media.URL, nil)
	if err != nil {
		return fail(models.MediaInvalid, "bad url: %v", err)
	}
	if err := v.checkURL(req.URL); err != nil {
		return fail(models.MediaInvalid, "%v", err)
	}
	resp, err := v.client.Do(req)
	if errors.Is(err, errBlockedAddress) {
		return fail(models.MediaInvalid, "fetch: %v", err)
	}
	if err != nil {
		return fail(models.MediaUnreachable, "fetch: %v", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fail(models.MediaUnreachable, "fetch: status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return fail(models.MediaInvalid, "fetch: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, v.cfg.MaxBytes+1))
	if err != nil {
		return fail(models.MediaUnreachable, "read: %v", err)
	}
	if int64(len(body)) > v.cfg.MaxBytes {
		return fail(models.MediaInvalid, "larger than %d bytes", v.cfg.MaxBytes)
	}
	res.SizeBytes = int64(len(body))

	mt := mimetype.Detect(body)
	res.MimeType = mt.String()
	if !strings.HasPrefix(mt.String(), family(f.Media.Type)) {
		return fail(models.MediaInvalid, "content is %s, declared %s", mt.String(), f.Media.Type)
	}

	if f.Media.Type == models.MediaPhoto {
		img, err := decodeImage(body, mt)
		if err != nil {
			return fail(models.MediaInvalid, "decode: %v", err)
		}
		b := img.Bounds()
		res.Width, res.Height = b.Dx(), b.Dy()
		if v.thumbs != nil {
			id, err := v.thumbnail(img, submissionID, f.Field)
			if err != nil {
				v.log.Warn("media: thumbnail failed", "submission_id", submissionID, "field", f.Field, "err", err)
			}
			res.ThumbnailID = id
		}
	}

	res.Status = models.MediaValidated
	return res
}

func decodeImage(body []byte, mt *mimetype.MIME) (image.Image, error) {
	if mt.Is("image/webp") {
		return webp.Decode(bytes.NewReader(body))
	}
	return imaging.Decode(bytes.NewReader(body), imaging.AutoOrientation(true))
}

func (v *HTTPValidator) thumbnail(img image.Image, submissionID, field string) (string, error) {
	thumb := imaging.Fit(img, ThumbnailSize, ThumbnailSize, imaging.Lanczos)
	var buf bytes.Buffer
	if err := webp.Encode(&buf, thumb, &webp.Options{Quality: thumbnailQuality}); err != nil {
		return "", fmt.Errorf("encode: %w", err)
	}
	name := submissionID + "/" + field + ".webp"
	return v.thumbs.Upload(name, "image/webp", submissionID, &buf)
}
