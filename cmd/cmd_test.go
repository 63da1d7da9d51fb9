package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/greenshelf/strainscan/internal/config"
	"github.com/greenshelf/strainscan/internal/gemini"
	"github.com/greenshelf/strainscan/internal/models"
	"github.com/greenshelf/strainscan/internal/ollama"
	"github.com/greenshelf/strainscan/internal/openai"
	"github.com/greenshelf/strainscan/internal/session"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{name: "ollama", want: "*ollama.Ollama"},
		{name: "openai", want: "*openai.OpenAI"},
		{name: "gemini", want: "*gemini.Gemini"},
		{name: "bedrock", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Provider.Name = tt.name
			p, err := newProvider(&cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			var ok bool
			switch tt.name {
			case "ollama":
				_, ok = p.(*ollama.Ollama)
			case "openai":
				_, ok = p.(*openai.OpenAI)
			case "gemini":
				_, ok = p.(*gemini.Gemini)
			}
			if !ok {
				t.Fatalf("provider type = %T, want %s", p, tt.want)
			}
		})
	}
}

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("STRAINSCAN_PROVIDER", "ollama")
	t.Setenv("LOG_LEVEL", "error")
	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestConfigShow(t *testing.T) {
	out, err := runRoot(t, "config", "show")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"[provider]", "ollama", "[dedupe]"} {
		if !strings.Contains(out, want) {
			t.Errorf("config show output missing %q:\n%s", want, out)
		}
	}
}

func writeRecordSet(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "records.jsonl")
	lines := []string{
		`{"id":"a","name":"Blue Dream","type":"Hybrid","thc":20,"terpenes":[],"effects":[]}`,
		`{"id":"b","name":"Blue Dream","type":"Hybrid","thc":21,"terpenes":[],"effects":[]}`,
		`{"id":"c","name":"Sour Diesel","type":"Sativa","thc":25,"terpenes":[],"effects":[]}`,
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDedupeFromRecordSet(t *testing.T) {
	input := writeRecordSet(t)
	snapshot := filepath.Join(t.TempDir(), "snap.parquet")

	out, err := runRoot(t, "dedupe", "--input", input, "--format", "json", "--snapshot", snapshot)
	if err != nil {
		t.Fatal(err)
	}
	var got struct {
		Scanned int `json:"scanned"`
		Groups  []struct {
			AnchorName string `json:"anchor_name"`
			Members    []struct {
				ID string `json:"id"`
			} `json:"members"`
		} `json:"groups"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if got.Scanned != 3 || len(got.Groups) != 1 || len(got.Groups[0].Members) != 2 {
		t.Fatalf("report = %+v", got)
	}
	if _, err := os.Stat(snapshot); err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}
}

func TestDedupeFormats(t *testing.T) {
	input := writeRecordSet(t)
	tests := []struct {
		format string
		want   []string
	}{
		{"yaml", []string{"anchor: Blue Dream", "keep: true"}},
		{"table", []string{"Blue Dream", "keep", "1 group(s) among 3 record(s)"}},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			out, err := runRoot(t, "dedupe", "--input", input, "--format", tt.format)
			if err != nil {
				t.Fatal(err)
			}
			for _, want := range tt.want {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %q:\n%s", want, out)
				}
			}
		})
	}

	if _, err := runRoot(t, "dedupe", "--input", input, "--format", "xml"); err == nil {
		t.Fatal("expected unsupported format error")
	}
}

func TestIdentifyRejectsBadSource(t *testing.T) {
	if _, err := runRoot(t, "identify", "--text", "gelato", "--source", "fax"); err == nil {
		t.Fatal("expected invalid source error")
	}
}

type stubEnder struct {
	endErr error
	last   *models.ScanSession
}

func (s stubEnder) End() (*models.ScanSession, error) {
	if s.endErr != nil {
		return nil, s.endErr
	}
	return &models.ScanSession{ID: "live", State: models.SessionEnded}, nil
}

func (s stubEnder) Session() *models.ScanSession { return s.last }

func TestEndSession(t *testing.T) {
	loopEnded := &models.ScanSession{ID: "dev-lost", EndReason: session.ReasonDeviceUnavailable}
	tests := []struct {
		name    string
		ender   stubEnder
		wantID  string
		wantErr bool
	}{
		{name: "active session", ender: stubEnder{}, wantID: "live"},
		{name: "already ended by the loop", ender: stubEnder{endErr: session.ErrNotActive, last: loopEnded}, wantID: "dev-lost"},
		{name: "never started", ender: stubEnder{endErr: session.ErrNotActive}, wantErr: true},
		{name: "other failure", ender: stubEnder{endErr: errors.New("release failed"), last: loopEnded}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess, err := endSession(tt.ender)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && sess.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", sess.ID, tt.wantID)
			}
		})
	}
}
