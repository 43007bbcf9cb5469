package callback

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"apigen/internal/domain"
	"apigen/internal/gitrepo"
	"apigen/internal/openapi"
)

func TestForProjectSelection(t *testing.T) {
	r := &Registry{Repos: gitrepo.NewManager(t.TempDir()), TargetPath: ".openapi/v3.0/openapi.json"}

	d, err := r.ForProject(domain.Project{CallbackType: domain.CallbackPushToRepo, GitRepoURL: "https://example.com/r.git"})
	if err != nil {
		t.Fatalf("push dispatcher: %v", err)
	}
	if _, ok := d.(*gitPush); !ok {
		t.Fatalf("expected git push dispatcher, got %T", d)
	}

	d, err = r.ForProject(domain.Project{CallbackType: domain.CallbackCustomAPI, CustomCallbackURL: "https://example.com/cb"})
	if err != nil {
		t.Fatalf("custom dispatcher: %v", err)
	}
	if _, ok := d.(*customAPI); !ok {
		t.Fatalf("expected custom api dispatcher, got %T", d)
	}

	if _, err := r.ForProject(domain.Project{CallbackType: domain.CallbackPushToRepo}); err == nil {
		t.Fatalf("push without repo url must fail")
	}
	if _, err := r.ForProject(domain.Project{CallbackType: domain.CallbackCustomAPI}); err == nil {
		t.Fatalf("custom without url must fail")
	}
	if _, err := r.ForProject(domain.Project{CallbackType: "carrier-pigeon"}); err == nil {
		t.Fatalf("unknown callback type must fail")
	}
}

func TestCustomAPIDeliver(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
	}))
	defer srv.Close()

	r := &Registry{}
	p := domain.Project{
		Name:                "petstore",
		CallbackType:        domain.CallbackCustomAPI,
		GitRepoURL:          "https://example.com/pets.git",
		CustomCallbackURL:   srv.URL,
		CustomCallbackToken: "cbtok",
	}
	d, err := r.ForProject(p)
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	res, err := d.Deliver(context.Background(), Request{
		Project:  p,
		TaskID:   "t1",
		Document: openapi.Document{"openapi": "3.0.0"},
	})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if res.Variant != domain.CallbackCustomAPI || res.NoChanges {
		t.Fatalf("unexpected result: %+v", res)
	}
	if gotAuth != "Bearer cbtok" {
		t.Fatalf("missing bearer header, got %q", gotAuth)
	}
	if gotBody["repo"] != "https://example.com/pets.git" {
		t.Fatalf("payload must carry the repo url: %v", gotBody)
	}
	if _, ok := gotBody["openapi"].(map[string]any); !ok {
		t.Fatalf("payload must carry the document: %v", gotBody)
	}
}

func TestCustomAPIDeliverWithoutToken(t *testing.T) {
	var sawAuth bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawAuth = r.Header["Authorization"]
	}))
	defer srv.Close()

	d := &customAPI{}
	p := domain.Project{CallbackType: domain.CallbackCustomAPI, CustomCallbackURL: srv.URL}
	if _, err := d.Deliver(context.Background(), Request{Project: p, Document: openapi.Document{}}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if sawAuth {
		t.Fatalf("no token configured, header must be absent")
	}
}

func TestCustomAPIDeliverErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer srv.Close()

	d := &customAPI{}
	p := domain.Project{CallbackType: domain.CallbackCustomAPI, CustomCallbackURL: srv.URL}
	if _, err := d.Deliver(context.Background(), Request{Project: p, Document: openapi.Document{}}); err == nil {
		t.Fatalf("expected delivery error for 403")
	}
}

func TestGitPushDeliver(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	base := t.TempDir()
	origin := filepath.Join(base, "origin.git")
	seed := filepath.Join(base, "seed")
	run := func(dir string, args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	run(base, "init", "--bare", origin)
	run(base, "clone", origin, seed)
	if err := os.WriteFile(filepath.Join(seed, "README.md"), []byte("seed\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run(seed, "add", "README.md")
	run(seed, "-c", "user.name=t", "-c", "user.email=t@localhost", "commit", "-m", "init")
	run(seed, "push", "origin", "HEAD")

	r := &Registry{Repos: gitrepo.NewManager(t.TempDir()), TargetPath: filepath.Join(".openapi", "v3.0", "openapi.json")}
	p := domain.Project{ID: "p1", Name: "petstore", CallbackType: domain.CallbackPushToRepo, GitRepoURL: origin}
	d, err := r.ForProject(p)
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	req := Request{Project: p, TaskID: "t1", Document: openapi.Document{"openapi": "3.0.0"}}
	res, err := d.Deliver(context.Background(), req)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if res.NoChanges {
		t.Fatalf("first delivery must push")
	}

	// Same document again: nothing to commit, still a success.
	res, err = d.Deliver(context.Background(), req)
	if err != nil {
		t.Fatalf("second deliver: %v", err)
	}
	if !res.NoChanges {
		t.Fatalf("unchanged document must report no changes")
	}
}
