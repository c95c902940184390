package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/macleangm-debug/FieldForce/internal/auth"
	"github.com/macleangm-debug/FieldForce/internal/service"
	"github.com/paulmach/orb"
	"github.com/spf13/cobra"
)

var loadgenCmd = &cobra.Command{
	Use:   "loadgen",
	Short: "Post synthetic submissions to the bulk endpoint and report throughput",
	RunE:  runLoadgen,
}

func init() {
	f := loadgenCmd.Flags()
	f.String("url", "http://127.0.0.1:8080", "API base URL")
	f.String("form", "", "form id to submit against (required)")
	f.Int("total", 100_000, "submissions to send")
	f.Int("batch", 1000, "submissions per bulk request")
	f.String("token", "", "bearer token; minted from jwt_secret when empty")
	f.String("user", "loadgen", "user id for a minted token")
	f.Float64("missing-rate", 0.1, "fraction of submissions that omit the name field")
	f.String("bbox", "36.70,-1.40,36.95,-1.20", "GPS bounding box minLng,minLat,maxLng,maxLat")
	f.Int64("seed", 42, "random seed")
	f.Bool("async", true, "request async processing")
	loadgenCmd.MarkFlagRequired("form")
}

var (
	villages = []string{"Kibera", "Mathare", "Kawangware", "Githurai", "Ruaka", "Kitengela", "Ngong", "Rongai", "Limuru", "Thika"}
	crops    = []string{"maize", "beans", "sorghum", "cassava", "tea", "coffee", "millet", "potato"}
	names    = []string{"Amina", "Baraka", "Chege", "Njeri", "Otieno", "Wanjiru", "Kamau", "Akinyi", "Mwangi", "Zawadi"}
)

func parseBBox(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("bbox needs 4 comma separated numbers, got %q", s)
	}
	var v [4]float64
	for i, p := range parts {
		n, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("bbox: %w", err)
		}
		v[i] = n
	}
	b := orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}
	if b.Min.X() > b.Max.X() || b.Min.Y() > b.Max.Y() {
		return orb.Bound{}, fmt.Errorf("bbox min exceeds max: %q", s)
	}
	return b, nil
}

type generator struct {
	rng         *rand.Rand
	formID      string
	bound       orb.Bound
	missingRate float64
}

func (g *generator) point() orb.Point {
	return orb.Point{
		g.bound.Min.X() + g.rng.Float64()*(g.bound.Max.X()-g.bound.Min.X()),
		g.bound.Min.Y() + g.rng.Float64()*(g.bound.Max.Y()-g.bound.Min.Y()),
	}
}

func (g *generator) submission(seq int) map[string]any {
	p := g.point()
	data := map[string]any{
		"seq":        seq,
		"village":    villages[g.rng.Intn(len(villages))],
		"crop":       crops[g.rng.Intn(len(crops))],
		"household":  1 + g.rng.Intn(12),
		"yield_kg":   g.rng.Float64() * 2000,
		"irrigated":  g.rng.Intn(2) == 1,
		"visited_on": time.Now().UTC().AddDate(0, 0, -g.rng.Intn(30)).Format(time.DateOnly),
		"_gps": map[string]any{
			"latitude":  p.Lat(),
			"longitude": p.Lon(),
			"accuracy":  3 + g.rng.Float64()*40,
		},
	}
	if g.rng.Float64() >= g.missingRate {
		data["name"] = names[g.rng.Intn(len(names))]
	}
	return map[string]any{
		"form_id":   g.formID,
		"data":      data,
		"device_id": "loadgen-" + uuid.NewString()[:8],
	}
}

type bulkClient struct {
	http  *http.Client
	url   string
	token string
}

func (c *bulkClient) post(ctx context.Context, body []byte) (*service.BulkResult, error) {
	var res service.BulkResult
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.token)
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("bulk: status %d: %s", resp.StatusCode, raw)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("bulk: status %d: %s", resp.StatusCode, raw))
		}
		return json.Unmarshal(raw, &res)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return &res, nil
}

func runLoadgen(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	base, _ := f.GetString("url")
	formID, _ := f.GetString("form")
	total, _ := f.GetInt("total")
	batchSize, _ := f.GetInt("batch")
	token, _ := f.GetString("token")
	user, _ := f.GetString("user")
	missing, _ := f.GetFloat64("missing-rate")
	bboxFlag, _ := f.GetString("bbox")
	seed, _ := f.GetInt64("seed")
	async, _ := f.GetBool("async")

	if total <= 0 || batchSize <= 0 || batchSize > 10_000 {
		return fmt.Errorf("total must be positive and batch within 1..10000")
	}
	bound, err := parseBBox(bboxFlag)
	if err != nil {
		return err
	}
	if token == "" {
		if token, err = auth.GenerateToken(cfg.JWTSecret, user, user+"@loadgen.local", "user", false); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Target:     %s\n", base)
	fmt.Fprintf(out, "Form:       %s\n", formID)
	fmt.Fprintf(out, "Total:      %d\n", total)
	fmt.Fprintf(out, "Batch size: %d\n\n", batchSize)

	gen := &generator{rng: rand.New(rand.NewSource(seed)), formID: formID, bound: bound, missingRate: missing}
	client := &bulkClient{
		http:  &http.Client{Timeout: 2 * time.Minute},
		url:   strings.TrimRight(base, "/") + "/api/v1/submissions/bulk",
		token: token,
	}

	start := time.Now()
	lastReport := start
	sent, ok, failed := 0, 0, 0
	for sent < total {
		n := batchSize
		if rem := total - sent; rem < n {
			n = rem
		}
		batch := make([]map[string]any, n)
		for j := range batch {
			batch[j] = gen.submission(sent + j)
		}
		body, err := json.Marshal(map[string]any{"submissions": batch, "async_processing": async})
		if err != nil {
			return err
		}
		res, err := client.post(cmd.Context(), body)
		if err != nil {
			return fmt.Errorf("batch at %d: %w", sent, err)
		}
		sent += n
		ok += res.SuccessCount
		failed += res.ErrorCount

		if time.Since(lastReport) >= 3*time.Second || sent == total {
			elapsed := time.Since(start)
			fmt.Fprintf(out, "  %7d / %d  (%5.1f%%)  %8.0f subs/s  %s\n",
				sent, total, float64(sent)/float64(total)*100, float64(sent)/elapsed.Seconds(), elapsed.Round(time.Millisecond))
			lastReport = time.Now()
		}
	}

	elapsed := time.Since(start)
	fmt.Fprintf(out, "\nAccepted:   %d\nRejected:   %d\nTime:       %s\nRate:       %.0f subs/s\n",
		ok, failed, elapsed.Round(time.Millisecond), float64(sent)/elapsed.Seconds())
	return nil
}
