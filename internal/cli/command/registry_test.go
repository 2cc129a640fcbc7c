package command_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ExxiDauS/CyberCTF/internal/cli/command"
)

func TestParseLine(t *testing.T) {
	t.Parallel()
	key, params, err := command.ParseLine(`sandbox provision problem="algo 101" pid=7 user_id=42`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if key != "sandbox provision" {
		t.Fatalf("unexpected key: %s", key)
	}
	if params.Get("problem") != "algo 101" || params.Get("pid") != "7" {
		t.Fatalf("unexpected params: %v", params)
	}

	if _, _, err := command.ParseLine("sandbox"); err == nil {
		t.Fatalf("expected error for missing action")
	}
	if _, _, err := command.ParseLine("sandbox provision oops"); err == nil {
		t.Fatalf("expected error for bare token")
	}
	if _, _, err := command.ParseLine(`sandbox provision name="unterminated`); err == nil {
		t.Fatalf("expected error for bad quoting")
	}
}

func TestBuildProvisionRequest(t *testing.T) {
	t.Parallel()
	cmd := command.Registry()["sandbox provision"]
	params := command.Params{}
	params.Set("problem", "algo101")
	params.Set("pid", "7")
	params.Set("uid", "42")

	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	if req.Method != "POST" || req.Path != "/api/v1/sandbox/provision" {
		t.Fatalf("unexpected request: %s %s", req.Method, req.Path)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		t.Fatalf("decode body failed: %v", err)
	}
	if body["problem_name"] != "algo101" || body["problem_id"] != float64(7) || body["user_id"] != float64(42) {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestBuildDescribePath(t *testing.T) {
	t.Parallel()
	cmd := command.Registry()["sandbox describe"]
	params := command.Params{"problem_name": "web", "problem_id": "3", "user_id": "9"}
	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	if req.Method != "GET" || req.Path != "/api/v1/sandbox/web/3/9" || req.Body != nil {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestBuildRequestRejectsBadInput(t *testing.T) {
	t.Parallel()
	cmd := command.Registry()["sandbox teardown"]
	if _, err := command.BuildRequest(cmd, command.Params{"problem_name": "web", "problem_id": "3"}); err == nil {
		t.Fatalf("expected missing user_id error")
	}
	if _, err := command.BuildRequest(cmd, command.Params{"problem_name": "web", "problem_id": "x", "user_id": "1"}); err == nil {
		t.Fatalf("expected invalid problem_id error")
	}
}

func TestBuildUploadMultipart(t *testing.T) {
	t.Parallel()
	archive := filepath.Join(t.TempDir(), "algo101.tar.zst")
	if err := os.WriteFile(archive, []byte("zstd-bytes"), 0o600); err != nil {
		t.Fatalf("write archive failed: %v", err)
	}
	cmd := command.Registry()["image upload"]
	params := command.Params{"problem_name": "algo101", "problem_id": "7", "archive": archive}
	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	if !strings.HasPrefix(req.Headers["Content-Type"], "multipart/form-data; boundary=") {
		t.Fatalf("unexpected content type: %s", req.Headers["Content-Type"])
	}
	body := string(req.Body)
	for _, want := range []string{`name="problem_name"`, "algo101", `filename="algo101.tar.zst"`, "zstd-bytes"} {
		if !strings.Contains(body, want) {
			t.Fatalf("multipart body missing %q", want)
		}
	}

	params = command.Params{"problem_name": "algo101", "problem_id": "7", "file": filepath.Join(t.TempDir(), "missing.tar")}
	if _, err := command.BuildRequest(cmd, params); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestRegistryKeysSorted(t *testing.T) {
	t.Parallel()
	keys := command.Keys(command.Registry())
	if len(keys) != 8 || keys[0] != "image build" || keys[len(keys)-1] != "sandbox verify" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}
