package image

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/dmorgan81/sdclient/internal/store"
	"github.com/dmorgan81/sdclient/internal/style"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer mimics the sd server endpoints. Handlers left nil answer 404.
type fakeServer struct {
	mu        sync.Mutex
	status    http.HandlerFunc
	loadModel http.HandlerFunc
	generate  http.HandlerFunc
	images    map[string]int
	requested []string
	lastBody  map[string]any
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.URL.Path == "/status" && f.status != nil:
		f.status(w, r)
	case r.URL.Path == "/load_model" && f.loadModel != nil:
		f.record(r)
		f.loadModel(w, r)
	case r.URL.Path == "/generate" && f.generate != nil:
		f.record(r)
		f.generate(w, r)
	case strings.HasPrefix(r.URL.Path, "/image/"):
		name := strings.TrimPrefix(r.URL.Path, "/image/")
		f.requested = append(f.requested, name)
		code, ok := f.images[name]
		if !ok {
			code = http.StatusNotFound
		}
		w.WriteHeader(code)
		if code == http.StatusOK {
			_, _ = w.Write([]byte("bytes-of-" + name))
		}
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeServer) record(r *http.Request) {
	f.lastBody = nil
	_ = json.NewDecoder(r.Body).Decode(&f.lastBody)
}

func jsonReply(code int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = w.Write([]byte(body))
	}
}

func newTestClient(t *testing.T, srv *fakeServer) (*Client, string) {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	catalog, err := style.New([]style.Preset{
		{Name: "base", Prompt: "{prompt}"},
		{Name: "cinematic", Prompt: "{prompt}, cinematic lighting", NegativePrompt: "cartoon, sketch"},
	})
	require.NoError(t, err)

	dir := t.TempDir()
	return NewClient(ts.URL+"/", ts.Client(), catalog, &store.FileUploader{Dir: dir}), dir
}

func defaultParams() Params {
	return Params{
		Prompt:     "a cat",
		Width:      512,
		Height:     512,
		Steps:      20,
		CFGScale:   7,
		Seed:       SeedRandom,
		BatchCount: 1,
	}
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestNewClientTrimsTrailingSlashes(t *testing.T) {
	c := NewClient("http://localhost:8080///", nil, nil, &store.FileUploader{})
	assert.Equal(t, "http://localhost:8080", c.BaseURL())
	assert.Same(t, http.DefaultClient, c.client)
}

func TestStatus(t *testing.T) {
	c, _ := newTestClient(t, &fakeServer{status: jsonReply(200, `{"model_loaded": true, "version": "1.0"}`)})

	s := c.Status(context.Background())
	require.True(t, s.OK())
	assert.Equal(t, true, s.Fields["model_loaded"])
	assert.Equal(t, s.Fields, s.Map())
}

func TestStatusUnreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c := NewClient(url, nil, nil, &store.FileUploader{Dir: t.TempDir()})
	s := c.Status(context.Background())

	assert.False(t, s.OK())
	assert.ErrorIs(t, s.Err, ErrTransport)
	assert.NotEmpty(t, s.Error)
	assert.Equal(t, map[string]any{"error": s.Error}, s.Map())
}

func TestStatusProtocolErrors(t *testing.T) {
	t.Run("non-200", func(t *testing.T) {
		c, _ := newTestClient(t, &fakeServer{status: jsonReply(503, `busy`)})
		s := c.Status(context.Background())
		var se *StatusError
		require.ErrorAs(t, s.Err, &se)
		assert.Equal(t, 503, se.Code)
		assert.Contains(t, s.Error, "busy")
	})

	t.Run("malformed", func(t *testing.T) {
		c, _ := newTestClient(t, &fakeServer{status: jsonReply(200, `<html>`)})
		s := c.Status(context.Background())
		assert.ErrorIs(t, s.Err, ErrMalformed)
	})
}

func TestLoadModel(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		body    string
		ok      bool
		message string
	}{
		{"200 and success", 200, `{"success": true}`, true, "Model loaded: models/sd15.safetensors"},
		{"200 and failure flag", 200, `{"success": false}`, false, `Error: {"success": false}`},
		{"200 and absent flag", 200, `{}`, false, `Error: {}`},
		{"500 and success", 500, `{"success": true}`, false, `Error: {"success": true}`},
		{"500 and failure flag", 500, `{"success": false}`, false, `Error: {"success": false}`},
		{"404 and absent flag", 404, `not found`, false, `Error: not found`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := &fakeServer{loadModel: jsonReply(tt.code, tt.body)}
			c, _ := newTestClient(t, srv)

			out := c.LoadModel(context.Background(), "models/sd15.safetensors")
			assert.Equal(t, tt.ok, out.OK())
			assert.Equal(t, tt.message, out.Message)
			assert.Equal(t, "models/sd15.safetensors", srv.lastBody["model_path"])
		})
	}
}

func TestLoadModelTransportFailure(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	out := NewClient(url, nil, nil, &store.FileUploader{}).LoadModel(context.Background(), "m.gguf")
	assert.False(t, out.OK())
	assert.ErrorIs(t, out.Err, ErrTransport)
	assert.True(t, strings.HasPrefix(out.Message, "Exception: "), out.Message)
}

func TestLoadModelMalformed(t *testing.T) {
	c, _ := newTestClient(t, &fakeServer{loadModel: jsonReply(200, `ok`)})
	out := c.LoadModel(context.Background(), "m.gguf")
	assert.ErrorIs(t, out.Err, ErrMalformed)
	assert.True(t, strings.HasPrefix(out.Message, "Exception: "), out.Message)
}

func TestGenerateSuccess(t *testing.T) {
	srv := &fakeServer{
		generate: jsonReply(200, `{"success": true, "filenames": ["generated_2.png", "generated_1.png"]}`),
		images:   map[string]int{"generated_1.png": 200, "generated_2.png": 200},
	}
	c, dir := newTestClient(t, srv)
	c.callID = func() string { return "call1" }

	params := defaultParams()
	params.BatchCount = 2
	res := c.Generate(context.Background(), params)

	require.True(t, res.OK(), res.Message)
	assert.Equal(t, "Successfully generated 2 images", res.Message)
	assert.Equal(t, []string{
		filepath.Join(dir, "call1_0_generated_2.png"),
		filepath.Join(dir, "call1_1_generated_1.png"),
	}, res.Paths)
	assert.Equal(t, []string{"generated_2.png", "generated_1.png"}, srv.requested)

	data, err := os.ReadFile(res.Paths[0])
	require.NoError(t, err)
	assert.Equal(t, "bytes-of-generated_2.png", string(data))
}

func TestGenerateRequestBody(t *testing.T) {
	srv := &fakeServer{generate: jsonReply(200, `{"success": true, "filenames": []}`)}
	c, _ := newTestClient(t, srv)

	params := Params{
		Prompt:         "a cat",
		NegativePrompt: "blurry",
		Width:          768,
		Height:         640,
		Steps:          30,
		CFGScale:       6.5,
		Seed:           1234,
		BatchCount:     3,
		Style:          "cinematic",
	}
	res := c.Generate(context.Background(), params)
	require.True(t, res.OK())
	assert.Equal(t, "Successfully generated 0 images", res.Message)

	assert.Equal(t, map[string]any{
		"prompt":          "a cat, cinematic lighting",
		"negative_prompt": "cartoon, sketch, blurry",
		"width":           float64(768),
		"height":          float64(640),
		"steps":           float64(30),
		"cfg_scale":       6.5,
		"seed":            float64(1234),
		"batch_count":     float64(3),
	}, srv.lastBody)
}

func TestGenerateUnknownStyleMatchesNoStyle(t *testing.T) {
	srv := &fakeServer{generate: jsonReply(200, `{"success": true, "filenames": []}`)}
	c, _ := newTestClient(t, srv)

	params := defaultParams()
	params.NegativePrompt = "lowres, "
	c.Generate(context.Background(), params)
	plain := srv.lastBody

	params.Style = "does-not-exist"
	c.Generate(context.Background(), params)
	assert.Equal(t, plain, srv.lastBody)
	assert.Equal(t, "lowres, ", srv.lastBody["negative_prompt"])
}

func TestGenerateRejected(t *testing.T) {
	for _, body := range []string{`{"success": false, "error": "no model"}`, `{"filenames": ["a.png"]}`} {
		srv := &fakeServer{generate: jsonReply(200, body), images: map[string]int{"a.png": 200}}
		c, dir := newTestClient(t, srv)

		params := defaultParams()
		params.BatchCount = 4
		res := c.Generate(context.Background(), params)

		assert.False(t, res.OK())
		assert.ErrorIs(t, res.Err, ErrRejected)
		assert.Equal(t, "Generation Error: "+body, res.Message)
		assert.Nil(t, res.Paths)
		assert.Empty(t, srv.requested)
		assert.Empty(t, listDir(t, dir))
	}
}

func TestGenerateHTTPError(t *testing.T) {
	srv := &fakeServer{generate: jsonReply(500, `model not loaded`)}
	c, _ := newTestClient(t, srv)

	res := c.Generate(context.Background(), defaultParams())
	assert.False(t, res.OK())
	assert.Equal(t, "HTTP Error: 500\nmodel not loaded", res.Message)

	var se *StatusError
	require.ErrorAs(t, res.Err, &se)
	assert.Equal(t, 500, se.Code)
	assert.Equal(t, "model not loaded", se.Body)
	assert.Nil(t, res.Paths)
}

func TestGenerateMalformed(t *testing.T) {
	c, _ := newTestClient(t, &fakeServer{generate: jsonReply(200, `{"success": tru`)})
	res := c.Generate(context.Background(), defaultParams())
	assert.ErrorIs(t, res.Err, ErrMalformed)
	assert.True(t, strings.HasPrefix(res.Message, "Request Error: "), res.Message)
}

func TestGenerateTransportFailure(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	dir := t.TempDir()
	res := NewClient(url, nil, nil, &store.FileUploader{Dir: dir}).Generate(context.Background(), defaultParams())
	assert.ErrorIs(t, res.Err, ErrTransport)
	assert.True(t, strings.HasPrefix(res.Message, "Request Error: "), res.Message)
	assert.Nil(t, res.Paths)
	assert.Empty(t, listDir(t, dir))
}

func TestGenerateDownloadFailureAbortsBatch(t *testing.T) {
	srv := &fakeServer{
		generate: jsonReply(200, `{"success": true, "filenames": ["a.png", "b.png", "c.png"]}`),
		images:   map[string]int{"a.png": 200, "b.png": 500, "c.png": 200},
	}
	c, dir := newTestClient(t, srv)
	c.callID = func() string { return "call" }

	params := defaultParams()
	params.BatchCount = 3
	res := c.Generate(context.Background(), params)

	assert.False(t, res.OK())
	assert.Equal(t, "Image download error: b.png", res.Message)
	assert.Empty(t, res.Paths)
	assert.Equal(t, []string{"a.png", "b.png"}, srv.requested, "c.png must never be requested")

	var de *DownloadError
	require.ErrorAs(t, res.Err, &de)
	assert.Equal(t, "b.png", de.Filename)
	var se *StatusError
	require.ErrorAs(t, res.Err, &se)
	assert.Equal(t, 500, se.Code)

	assert.Equal(t, []string{"call_0_a.png"}, listDir(t, dir), "earlier downloads stay on disk")
}

func TestGenerateRepeatedCallsDoNotOverwrite(t *testing.T) {
	srv := &fakeServer{
		generate: jsonReply(200, `{"success": true, "filenames": ["generated_1.png"]}`),
		images:   map[string]int{"generated_1.png": 200},
	}
	c, dir := newTestClient(t, srv)

	first := c.Generate(context.Background(), defaultParams())
	second := c.Generate(context.Background(), defaultParams())
	require.True(t, first.OK())
	require.True(t, second.OK())

	assert.NotEqual(t, first.Paths[0], second.Paths[0])
	assert.Len(t, listDir(t, dir), 2)
	assert.True(t, strings.HasSuffix(first.Paths[0], "_generated_1.png"))
}

func TestGenerateSanitizesFilename(t *testing.T) {
	srv := &fakeServer{
		generate: jsonReply(200, `{"success": true, "filenames": ["../escape.png"]}`),
		images:   map[string]int{"../escape.png": 200},
	}
	c, dir := newTestClient(t, srv)
	c.callID = func() string { return "id" }

	res := c.Generate(context.Background(), defaultParams())
	require.True(t, res.OK(), res.Message)
	assert.Equal(t, []string{filepath.Join(dir, "id_0_escape.png")}, res.Paths)
}

func TestGenerateSameBaseNameKeepsBoth(t *testing.T) {
	srv := &fakeServer{
		generate: jsonReply(200, `{"success": true, "filenames": ["x/a.png", "y/a.png"]}`),
		images:   map[string]int{"x/a.png": 200, "y/a.png": 200},
	}
	c, dir := newTestClient(t, srv)
	c.callID = func() string { return "id" }

	params := defaultParams()
	params.BatchCount = 2
	res := c.Generate(context.Background(), params)
	require.True(t, res.OK(), res.Message)
	assert.Equal(t, []string{filepath.Join(dir, "id_0_a.png"), filepath.Join(dir, "id_1_a.png")}, res.Paths)

	for i, want := range []string{"bytes-of-x/a.png", "bytes-of-y/a.png"} {
		data, err := os.ReadFile(res.Paths[i])
		require.NoError(t, err)
		assert.Equal(t, want, string(data))
	}
}

func TestGenerateWriteFailure(t *testing.T) {
	srv := &fakeServer{
		generate: jsonReply(200, `{"success": true, "filenames": ["a.png"]}`),
		images:   map[string]int{"a.png": 200},
	}
	c, dir := newTestClient(t, srv)
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0600))
	c.files = &store.FileUploader{Dir: filepath.Join(blocker, "sub")}

	res := c.Generate(context.Background(), defaultParams())
	assert.Equal(t, "Image download error: a.png", res.Message)
	var de *DownloadError
	assert.True(t, errors.As(res.Err, &de))
}

func TestGenerateCanceledContext(t *testing.T) {
	c, _ := newTestClient(t, &fakeServer{generate: jsonReply(200, `{"success": true}`)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := c.Generate(ctx, defaultParams())
	assert.ErrorIs(t, res.Err, ErrTransport)
	assert.ErrorIs(t, res.Err, context.Canceled)
}
