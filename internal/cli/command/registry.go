package command

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/url"
	"path/filepath"
	"strings"
)

// Registry returns all CLI commands keyed by "service action".
func Registry() map[string]Command {
	commands := []Command{
		{
			Service:      "auth",
			Action:       "token",
			Method:       "POST",
			PathTemplate: "/api/v1/auth/token",
			RequiresAuth: false,
			Fields: []Field{
				{Name: "username", Prompt: "username", Type: FieldString, Required: true},
				{Name: "password", Prompt: "password", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "submission",
			Action:       "upload",
			Method:       "POST",
			PathTemplate: "/api/v1/submissions",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "file", Prompt: "recording file path", Type: FieldFile, Required: true},
				{Name: "tas", Prompt: "tas override (true|false)", Type: FieldString, Required: false},
				{Name: "expected", Prompt: "expected time override (ms)", Type: FieldInt64, Required: false},
			},
		},
		{
			Service:      "submission",
			Action:       "list",
			Method:       "GET",
			PathTemplate: "/api/v1/submissions",
			RequiresAuth: true,
			Query:        []string{"limit", "offset", "order"},
			Fields: []Field{
				{Name: "limit", Prompt: "limit", Type: FieldInt64, Required: false},
				{Name: "offset", Prompt: "offset", Type: FieldInt64, Required: false},
				{Name: "order", Prompt: "order (asc|desc)", Type: FieldString, Required: false},
			},
		},
		{
			Service:      "submission",
			Action:       "detail",
			Method:       "GET",
			PathTemplate: "/api/v1/submissions/:id",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "id", Prompt: "submission_id", Type: FieldInt64, Required: true},
			},
		},
		{
			Service:      "submission",
			Action:       "runs",
			Method:       "GET",
			PathTemplate: "/api/v1/submissions/:id/runs",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "id", Prompt: "submission_id", Type: FieldInt64, Required: true},
			},
		},
		{
			Service:      "run",
			Action:       "report",
			Method:       "POST",
			PathTemplate: "/api/v1/submissions/:id/runs",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "id", Prompt: "submission_id", Type: FieldInt64, Required: true},
				{Name: "os", Prompt: "os", Type: FieldString, Required: true},
				{Name: "score_file", Prompt: "score json file", Type: FieldFile, Required: false},
				{Name: "error", Prompt: "error text", Type: FieldString, Required: false},
			},
		},
		{
			Service:      "run",
			Action:       "latest",
			Method:       "GET",
			PathTemplate: "/api/v1/runs",
			RequiresAuth: true,
			Query:        []string{"limit"},
			Fields: []Field{
				{Name: "limit", Prompt: "limit", Type: FieldInt64, Required: false},
			},
		},
		{
			Service:      "pending",
			Action:       "list",
			Method:       "GET",
			PathTemplate: "/api/v1/pending/:os",
			RequiresAuth: true,
			Query:        []string{"cursor", "limit"},
			Fields: []Field{
				{Name: "os", Prompt: "os", Type: FieldString, Required: true},
				{Name: "cursor", Prompt: "cursor", Type: FieldString, Required: false},
				{Name: "limit", Prompt: "limit", Type: FieldInt64, Required: false},
			},
		},
		{
			Service:      "compare",
			Action:       "diff",
			Method:       "GET",
			PathTemplate: "/api/v1/compare/:os1/:os2",
			RequiresAuth: true,
			Query:        []string{"include_errors", "order", "limit", "offset"},
			Fields: []Field{
				{Name: "os1", Prompt: "first os", Type: FieldString, Required: true},
				{Name: "os2", Prompt: "second os", Type: FieldString, Required: true},
				{Name: "include_errors", Prompt: "include_errors (true|false)", Type: FieldString, Required: false},
				{Name: "order", Prompt: "order (asc|desc)", Type: FieldString, Required: false},
				{Name: "limit", Prompt: "limit", Type: FieldInt64, Required: false},
				{Name: "offset", Prompt: "offset", Type: FieldInt64, Required: false},
			},
		},
		{
			Service:      "compare",
			Action:       "count",
			Method:       "GET",
			PathTemplate: "/api/v1/compare/:os1/:os2/count",
			RequiresAuth: true,
			Query:        []string{"include_errors"},
			Fields: []Field{
				{Name: "os1", Prompt: "first os", Type: FieldString, Required: true},
				{Name: "os2", Prompt: "second os", Type: FieldString, Required: true},
				{Name: "include_errors", Prompt: "include_errors (true|false)", Type: FieldString, Required: false},
			},
		},
		{
			Service:      "desync",
			Action:       "list",
			Method:       "GET",
			PathTemplate: "/api/v1/desyncs",
			RequiresAuth: true,
			Query:        []string{"os"},
			Fields: []Field{
				{Name: "os", Prompt: "os filter", Type: FieldString, Required: false},
			},
		},
		{
			Service:      "leaderboard",
			Action:       "show",
			Method:       "GET",
			PathTemplate: "/api/v1/leaderboard/:metric",
			RequiresAuth: true,
			Query:        []string{"order", "limit"},
			Fields: []Field{
				{Name: "metric", Prompt: "metric (score_time|elapsed_time|fps)", Type: FieldString, Required: true},
				{Name: "order", Prompt: "order (best|worst)", Type: FieldString, Required: false},
				{Name: "limit", Prompt: "limit", Type: FieldInt64, Required: false},
			},
		},
		{
			Service:      "runner",
			Action:       "live",
			Method:       "GET",
			PathTemplate: "/api/v1/runners/live",
			RequiresAuth: true,
		},
		{
			Service:      "runner",
			Action:       "all",
			Method:       "GET",
			PathTemplate: "/api/v1/runners",
			RequiresAuth: true,
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		key := fmt.Sprintf("%s %s", cmd.Service, cmd.Action)
		result[key] = cmd
	}
	return result
}

// BuildRequest creates HTTP request spec based on command.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	path, err := buildPath(cmd.PathTemplate, params)
	if err != nil {
		return RequestSpec{}, err
	}
	path = appendQuery(path, cmd.Query, params)

	spec := RequestSpec{
		Method:      cmd.Method,
		Path:        path,
		ContentType: "application/json",
	}
	if cmd.Method == "GET" || cmd.Method == "DELETE" {
		return spec, nil
	}

	if cmd.Service == "submission" && cmd.Action == "upload" {
		body, contentType, err := buildUploadBody(params)
		if err != nil {
			return RequestSpec{}, err
		}
		spec.Body = body
		spec.ContentType = contentType
		return spec, nil
	}

	payload, err := buildPayload(cmd, params)
	if err != nil {
		return RequestSpec{}, err
	}
	if payload != nil {
		spec.Body, err = json.Marshal(payload)
		if err != nil {
			return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
		}
	}
	return spec, nil
}

func buildPath(template string, params Params) (string, error) {
	path := template
	for _, key := range []string{"id", "os1", "os2", "os", "metric"} {
		placeholder := ":" + key
		if strings.Contains(path, placeholder) {
			value := params.Get(key)
			if value == "" {
				return "", fmt.Errorf("missing path parameter: %s", key)
			}
			path = strings.ReplaceAll(path, placeholder, url.PathEscape(value))
		}
	}
	return path, nil
}

func appendQuery(path string, keys []string, params Params) string {
	values := url.Values{}
	for _, key := range keys {
		if value := params.Get(key); value != "" {
			values.Set(key, value)
		}
	}
	if len(values) == 0 {
		return path
	}
	return path + "?" + values.Encode()
}

func buildPayload(cmd Command, params Params) (interface{}, error) {
	switch cmd.Service {
	case "auth":
		return map[string]string{
			"username": params.Get("username"),
			"password": params.Get("password"),
		}, nil
	case "run":
		return buildRunReportPayload(params)
	}
	return nil, nil
}

// A run report takes the score JSON from a file, or an error string,
// but never both.
func buildRunReportPayload(params Params) (interface{}, error) {
	scoreFile := params.Get("score_file")
	errText := params.Get("error")
	if (scoreFile == "") == (errText == "") {
		return nil, fmt.Errorf("need exactly one of score_file and error")
	}

	payload := map[string]interface{}{
		"os": params.Get("os"),
	}
	if scoreFile != "" {
		data, err := ReadFileBytes(scoreFile)
		if err != nil {
			return nil, err
		}
		if !json.Valid(data) {
			return nil, fmt.Errorf("score_file does not contain valid json")
		}
		payload["score"] = json.RawMessage(data)
	} else {
		payload["error"] = errText
	}
	return payload, nil
}

func buildUploadBody(params Params) ([]byte, string, error) {
	filePath := params.Get("file")
	if filePath == "" {
		return nil, "", fmt.Errorf("file is required")
	}
	data, err := ReadFileBytes(filePath)
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return nil, "", fmt.Errorf("build multipart body failed: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("build multipart body failed: %w", err)
	}
	for _, key := range []string{"tas", "expected"} {
		if value := params.Get(key); value != "" {
			if err := writer.WriteField(key, value); err != nil {
				return nil, "", fmt.Errorf("build multipart body failed: %w", err)
			}
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("build multipart body failed: %w", err)
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}
