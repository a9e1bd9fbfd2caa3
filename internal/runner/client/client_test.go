package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"rechub/internal/runner/verify"
)

func writeEnvelope(w http.ResponseWriter, status int, code int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"code":    code,
		"message": message,
		"data":    data,
	})
}

func newTestServer(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var reported []string

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/token", func(w http.ResponseWriter, r *http.Request) {
		var creds map[string]string
		json.NewDecoder(r.Body).Decode(&creds)
		if creds["username"] != "runner1" || creds["password"] != "hunter2" {
			writeEnvelope(w, http.StatusUnauthorized, 11000, "Invalid username or password", nil)
			return
		}
		writeEnvelope(w, http.StatusOK, 10000, "Success", map[string]string{"token": "tok123"})
	})
	mux.HandleFunc("/api/v1/pending/windows", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok123" {
			writeEnvelope(w, http.StatusUnauthorized, 11003, "Invalid token", nil)
			return
		}
		writeEnvelope(w, http.StatusOK, 10000, "Success", PendingPage{
			Items: []PendingItem{{
				ID:          7,
				FileName:    "run_3.559.rec",
				DownloadURL: "/api/v1/submissions/7/download",
				RunsURL:     "/api/v1/submissions/7/runs",
			}},
		})
	})
	mux.HandleFunc("/api/v1/submissions/7/download", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("recording-bytes"))
	})
	mux.HandleFunc("/api/v1/submissions/7/runs", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			OS    string        `json:"os"`
			Score *verify.Score `json:"score"`
			Error *string       `json:"error"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeEnvelope(w, http.StatusBadRequest, 10002, "Invalid parameters", nil)
			return
		}
		if (req.Score == nil) == (req.Error == nil) {
			writeEnvelope(w, http.StatusBadRequest, 13002, "Need either score or error, but not both", nil)
			return
		}
		reported = append(reported, req.OS)
		writeEnvelope(w, http.StatusOK, 10000, "Success", nil)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &reported
}

func TestClientFlow(t *testing.T) {
	server, reported := newTestServer(t)
	c := New(server.URL, server.Client())
	ctx := context.Background()

	if err := c.Login(ctx, "runner1", "wrong"); err == nil {
		t.Fatal("login with bad password should fail")
	}
	if err := c.Login(ctx, "runner1", "hunter2"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	page, err := c.Pending(ctx, "windows", "", 10)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != 7 {
		t.Fatalf("Pending() items = %+v", page.Items)
	}

	dir := t.TempDir()
	path, err := c.Download(ctx, page.Items[0], dir)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "recording-bytes" {
		t.Errorf("downloaded %q", data)
	}

	outcome := &verify.Outcome{Score: &verify.Score{Success: true, ScoreTime: 3559}}
	if err := c.ReportRun(ctx, page.Items[0], "windows", outcome); err != nil {
		t.Fatalf("ReportRun() error = %v", err)
	}
	if len(*reported) != 1 || (*reported)[0] != "windows" {
		t.Errorf("reported = %v", *reported)
	}

	errText := "playback crashed"
	if err := c.ReportRun(ctx, page.Items[0], "windows", &verify.Outcome{Error: &errText}); err != nil {
		t.Fatalf("ReportRun(error) error = %v", err)
	}

	if err := c.ReportRun(ctx, page.Items[0], "windows", &verify.Outcome{}); err == nil {
		t.Fatal("empty outcome should be rejected by the server")
	}
}
