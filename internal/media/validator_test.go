package media

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/macleangm-debug/FieldForce/internal/models"
)

type fakeThumbs struct {
	names []string
	sizes []int
}

func (f *fakeThumbs) Upload(name, _, _ string, src io.Reader) (string, error) {
	b, _ := io.ReadAll(src)
	f.names = append(f.names, name)
	f.sizes = append(f.sizes, len(b))
	return "thumb-1", nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newServer(t *testing.T) *httptest.Server {
	photo := pngBytes(t, 640, 480)
	mux := http.NewServeMux()
	mux.HandleFunc("/photo.png", func(w http.ResponseWriter, _ *http.Request) { w.Write(photo) })
	mux.HandleFunc("/note.txt", func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("just some text")) })
	mux.HandleFunc("/down", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) })
	mux.HandleFunc("/big", func(w http.ResponseWriter, _ *http.Request) { w.Write(bytes.Repeat([]byte{0}, 4096)) })
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newValidator(thumbs ThumbnailStore, maxBytes int64) *HTTPValidator {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHTTPValidator(Config{Timeout: 5 * time.Second, MaxBytes: maxBytes, AllowPrivate: true}, thumbs, log)
}

func field(name string, typ models.MediaType, url string) models.MediaField {
	return models.MediaField{Field: name, Media: models.MediaDescriptor{Type: typ, URL: url}}
}

func TestValidatePhoto(t *testing.T) {
	srv := newServer(t)
	thumbs := &fakeThumbs{}
	v := newValidator(thumbs, 1<<20)

	res := v.Validate(context.Background(), "sub1", field("front", models.MediaPhoto, srv.URL+"/photo.png"))
	if res.Status != models.MediaValidated {
		t.Fatalf("expected validated, got %+v", res)
	}
	if res.MimeType != "image/png" || res.Width != 640 || res.Height != 480 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.ThumbnailID != "thumb-1" || len(thumbs.names) != 1 || thumbs.names[0] != "sub1/front.webp" {
		t.Fatalf("thumbnail not stored: %+v %+v", res, thumbs)
	}
}

func TestValidateOutcomes(t *testing.T) {
	srv := newServer(t)
	v := newValidator(nil, 1024)
	ctx := context.Background()

	cases := []struct {
		name string
		f    models.MediaField
		want models.MediaStatus
	}{
		{"text declared as photo", field("a", models.MediaPhoto, srv.URL+"/note.txt"), models.MediaInvalid},
		{"png declared as video", field("b", models.MediaVideo, srv.URL+"/photo.png"), models.MediaInvalid},
		{"server error", field("c", models.MediaAudio, srv.URL+"/down"), models.MediaUnreachable},
		{"not found", field("d", models.MediaPhoto, srv.URL+"/missing"), models.MediaInvalid},
		{"too large", field("e", models.MediaPhoto, srv.URL+"/big"), models.MediaInvalid},
		{"no url", field("f", models.MediaPhoto, ""), models.MediaSkipped},
		{"connection refused", field("g", models.MediaPhoto, "http://127.0.0.1:1/x"), models.MediaUnreachable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := v.Validate(ctx, "sub", tc.f)
			if res.Status != tc.want {
				t.Fatalf("expected %s, got %+v", tc.want, res)
			}
			if res.Field != tc.f.Field {
				t.Fatalf("field not recorded: %+v", res)
			}
		})
	}
}

func TestValidateRefusesInternalTargets(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Write([]byte("secret"))
	}))
	t.Cleanup(srv.Close)
	port := srv.URL[strings.LastIndex(srv.URL, ":")+1:]

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	v := NewHTTPValidator(Config{Timeout: 5 * time.Second, MaxBytes: 1024}, nil, log)
	ctx := context.Background()

	for _, url := range []string{
		srv.URL + "/internal/admin",
		"http://localhost:" + port + "/internal/admin",
		"http://169.254.169.254/latest/meta-data/",
		"http://[::1]:" + port + "/",
		"file:///etc/passwd",
		"ftp://cdn.example.org/a.png",
	} {
		res := v.Validate(ctx, "sub", field("front", models.MediaPhoto, url))
		if res.Status != models.MediaInvalid {
			t.Errorf("%s: expected invalid, got %+v", url, res)
		}
	}
	if n := hits.Load(); n != 0 {
		t.Fatalf("internal server was reached %d times", n)
	}
}

func TestValidateAllowedHosts(t *testing.T) {
	srv := newServer(t)
	redirect := httptest.NewServer(http.RedirectHandler("http://elsewhere.invalid/photo.png", http.StatusFound))
	t.Cleanup(redirect.Close)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	v := NewHTTPValidator(Config{
		Timeout:      5 * time.Second,
		MaxBytes:     1 << 20,
		AllowedHosts: []string{"127.0.0.1"},
		AllowPrivate: true,
	}, nil, log)
	ctx := context.Background()

	if res := v.Validate(ctx, "sub", field("a", models.MediaPhoto, srv.URL+"/photo.png")); res.Status != models.MediaValidated {
		t.Fatalf("allowed host: %+v", res)
	}
	if res := v.Validate(ctx, "sub", field("b", models.MediaPhoto, "https://cdn.example.org/a.png")); res.Status != models.MediaInvalid {
		t.Fatalf("unlisted host: %+v", res)
	}
	if res := v.Validate(ctx, "sub", field("c", models.MediaPhoto, redirect.URL+"/go")); res.Status != models.MediaInvalid {
		t.Fatalf("redirect off the allow-list: %+v", res)
	}
}

func TestHostAllowedMatchesSubdomains(t *testing.T) {
	allowed := []string{"example.org"}
	for host, want := range map[string]bool{
		"example.org":      true,
		"cdn.example.org":  true,
		"badexample.org":   false,
		"example.org.evil": false,
	} {
		if got := hostAllowed(host, allowed); got != want {
			t.Errorf("%s: expected %v, got %v", host, want, got)
		}
	}
}
