package command

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildRequestAuthToken(t *testing.T) {
	cmd := mustCommand(t, "auth token")
	params := Params{}
	params.Set("username", "operator")
	params.Set("password", "secret")

	req, err := BuildRequest(cmd, params)
	if err != nil {
		t.Fatalf("BuildRequest failed: %v", err)
	}
	if req.Method != "POST" || req.Path != "/api/v1/auth/token" {
		t.Fatalf("unexpected request: %s %s", req.Method, req.Path)
	}
	if req.ContentType != "application/json" {
		t.Fatalf("unexpected content type: %s", req.ContentType)
	}
	var body map[string]string
	if err := json.Unmarshal(req.Body, &body); err != nil {
		t.Fatalf("unmarshal body failed: %v", err)
	}
	if body["username"] != "operator" || body["password"] != "secret" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestBuildRequestPendingQuery(t *testing.T) {
	cmd := mustCommand(t, "pending list")
	params := Params{}
	params.Set("os", "win")
	params.Set("cursor", "1700000000000:42")
	params.Set("limit", "20")

	req, err := BuildRequest(cmd, params)
	if err != nil {
		t.Fatalf("BuildRequest failed: %v", err)
	}
	if !strings.HasPrefix(req.Path, "/api/v1/pending/win?") {
		t.Fatalf("unexpected path: %s", req.Path)
	}
	if !strings.Contains(req.Path, "cursor=1700000000000%3A42") {
		t.Fatalf("cursor not encoded in path: %s", req.Path)
	}
	if !strings.Contains(req.Path, "limit=20") {
		t.Fatalf("limit missing from path: %s", req.Path)
	}
	if len(req.Body) != 0 {
		t.Fatalf("GET request should have no body")
	}
}

func TestBuildRequestMissingPathParam(t *testing.T) {
	cmd := mustCommand(t, "submission detail")
	if _, err := BuildRequest(cmd, Params{}); err == nil {
		t.Fatal("expected error for missing id")
	}
}

func TestBuildRequestRunReport(t *testing.T) {
	cmd := mustCommand(t, "run report")

	t.Run("neither score nor error", func(t *testing.T) {
		params := Params{}
		params.Set("id", "7")
		params.Set("os", "win")
		if _, err := BuildRequest(cmd, params); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("both score and error", func(t *testing.T) {
		params := Params{}
		params.Set("id", "7")
		params.Set("os", "win")
		params.Set("score_file", "score.json")
		params.Set("error", "verification crashed")
		if _, err := BuildRequest(cmd, params); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("error only", func(t *testing.T) {
		params := Params{}
		params.Set("id", "7")
		params.Set("os", "win")
		params.Set("error", "verification crashed")
		req, err := BuildRequest(cmd, params)
		if err != nil {
			t.Fatalf("BuildRequest failed: %v", err)
		}
		if req.Path != "/api/v1/submissions/7/runs" {
			t.Fatalf("unexpected path: %s", req.Path)
		}
		var body map[string]interface{}
		if err := json.Unmarshal(req.Body, &body); err != nil {
			t.Fatalf("unmarshal body failed: %v", err)
		}
		if body["error"] != "verification crashed" {
			t.Fatalf("unexpected body: %v", body)
		}
		if _, ok := body["score"]; ok {
			t.Fatal("score should be absent")
		}
	})

	t.Run("score file", func(t *testing.T) {
		scorePath := filepath.Join(t.TempDir(), "score.json")
		scoreJSON := `{"success":true,"mission":"beginner/movement.mis","score_time":3559}`
		if err := os.WriteFile(scorePath, []byte(scoreJSON), 0o644); err != nil {
			t.Fatalf("write score file failed: %v", err)
		}
		params := Params{}
		params.Set("id", "7")
		params.Set("os", "mac")
		params.Set("score_file", scorePath)
		req, err := BuildRequest(cmd, params)
		if err != nil {
			t.Fatalf("BuildRequest failed: %v", err)
		}
		var body struct {
			OS    string          `json:"os"`
			Score json.RawMessage `json:"score"`
		}
		if err := json.Unmarshal(req.Body, &body); err != nil {
			t.Fatalf("unmarshal body failed: %v", err)
		}
		if body.OS != "mac" {
			t.Fatalf("unexpected os: %s", body.OS)
		}
		var score map[string]interface{}
		if err := json.Unmarshal(body.Score, &score); err != nil {
			t.Fatalf("unmarshal score failed: %v", err)
		}
		if score["mission"] != "beginner/movement.mis" {
			t.Fatalf("unexpected score: %v", score)
		}
	})

	t.Run("invalid score json", func(t *testing.T) {
		scorePath := filepath.Join(t.TempDir(), "score.json")
		if err := os.WriteFile(scorePath, []byte("{not json"), 0o644); err != nil {
			t.Fatalf("write score file failed: %v", err)
		}
		params := Params{}
		params.Set("id", "7")
		params.Set("os", "mac")
		params.Set("score_file", scorePath)
		if _, err := BuildRequest(cmd, params); err == nil {
			t.Fatal("expected error for invalid json")
		}
	})
}

func TestBuildRequestUpload(t *testing.T) {
	recPath := filepath.Join(t.TempDir(), "3.559_nightfall.rec")
	if err := os.WriteFile(recPath, []byte("recording bytes"), 0o644); err != nil {
		t.Fatalf("write recording failed: %v", err)
	}

	cmd := mustCommand(t, "submission upload")
	params := Params{}
	params.Set("file", recPath)

	req, err := BuildRequest(cmd, params)
	if err != nil {
		t.Fatalf("BuildRequest failed: %v", err)
	}
	if !strings.HasPrefix(req.ContentType, "multipart/form-data; boundary=") {
		t.Fatalf("unexpected content type: %s", req.ContentType)
	}
	if !strings.Contains(string(req.Body), "3.559_nightfall.rec") {
		t.Fatal("body should carry the original file name")
	}
	if !strings.Contains(string(req.Body), "recording bytes") {
		t.Fatal("body should carry the file content")
	}
}

func TestBuildRequestPathEscaping(t *testing.T) {
	cmd := mustCommand(t, "compare diff")
	params := Params{}
	params.Set("os1", "win")
	params.Set("os2", "mac os")

	req, err := BuildRequest(cmd, params)
	if err != nil {
		t.Fatalf("BuildRequest failed: %v", err)
	}
	if req.Path != "/api/v1/compare/win/mac%20os" {
		t.Fatalf("unexpected path: %s", req.Path)
	}
}

func mustCommand(t *testing.T, key string) Command {
	t.Helper()
	cmd, ok := Registry()[key]
	if !ok {
		t.Fatalf("command %q not registered", key)
	}
	return cmd
}
