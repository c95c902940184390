package gelf

import (
	"encoding/json"
	"net"
	"os"
	"strings"
	"time"
)

// Writer sends GELF messages over UDP and implements io.Writer so it can be
// tee'd behind a slog JSON handler with io.MultiWriter.
type Writer struct {
	conn     net.Conn
	hostname string
	service  string
}

// New creates a GELF UDP writer connected to addr (e.g. "172.17.0.1:12201").
func New(addr, service string) (*Writer, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, err
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = service
	}

	return &Writer{conn: conn, hostname: hostname, service: service}, nil
}

func (w *Writer) Close() error { return w.conn.Close() }

// syslog severities
var levels = map[string]int{
	"DEBUG": 7,
	"INFO":  6,
	"WARN":  4,
	"ERROR": 3,
}

// Write implements io.Writer. Each call carries one slog JSON record and
// sends one GELF message. Lines that are not JSON are shipped verbatim.
func (w *Writer) Write(p []byte) (int, error) {
	line := strings.TrimRight(string(p), "\n")
	msg := w.convert(line)

	payload, err := json.Marshal(msg)
	if err != nil {
		return len(p), nil // don't fail the log call
	}

	// Fire-and-forget
	w.conn.Write(payload)
	return len(p), nil
}

func (w *Writer) convert(line string) map[string]any {
	msg := map[string]any{
		"version":       "1.1",
		"host":          w.hostname,
		"short_message": line,
		"timestamp":     float64(time.Now().UnixNano()) / 1e9,
		"level":         6,
		"_service":      w.service,
	}

	var rec map[string]any
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return msg
	}
	if m, ok := rec["msg"].(string); ok {
		msg["short_message"] = m
	}
	if lv, ok := rec["level"].(string); ok {
		// slog renders offsets from a base level as e.g. "INFO+2"
		base, _, _ := strings.Cut(lv, "+")
		base, _, _ = strings.Cut(base, "-")
		if n, ok := levels[base]; ok {
			msg["level"] = n
		}
	}
	if ts, ok := rec["time"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			msg["timestamp"] = float64(t.UnixNano()) / 1e9
		}
	}
	for k, v := range rec {
		switch k {
		case "msg", "level", "time":
			continue
		case "id":
			k = "attr_id" // _id is reserved by GELF
		}
		msg["_"+k] = v
	}
	return msg
}
