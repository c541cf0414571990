package image

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/dmorgan81/sdclient/internal/log"
	"github.com/dmorgan81/sdclient/internal/prompt"
	"github.com/dmorgan81/sdclient/internal/store"
	"github.com/dmorgan81/sdclient/internal/style"
	"github.com/google/uuid"
	"github.com/samber/do"
)

type fileStore interface {
	store.Uploader
	Path(name string) string
}

// Client talks to a stable-diffusion server. It holds no mutable state and
// may be shared between goroutines.
type Client struct {
	client *http.Client
	base   string
	styles prompt.Lookup
	files  fileStore
	callID func() string
}

// NewClient trims trailing slashes from baseURL. A nil http.Client means
// http.DefaultClient.
func NewClient(baseURL string, client *http.Client, styles prompt.Lookup, files fileStore) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{
		client: client,
		base:   strings.TrimRight(baseURL, "/"),
		styles: styles,
		files:  files,
		callID: uuid.NewString,
	}
}

func NewGenerationClient(i *do.Injector) (Generator, error) {
	return NewClient(
		do.MustInvokeNamed[string](i, "server_url"),
		do.MustInvoke[*http.Client](i),
		do.MustInvoke[*style.Catalog](i),
		do.MustInvoke[*store.FileUploader](i),
	), nil
}

func (c *Client) BaseURL() string { return c.base }

func (c *Client) Status(ctx context.Context) Status {
	log := log.FromContextOrDiscard(ctx).WithGroup("client").With("server", c.base)
	log.Info("checking server status")

	code, body, err := c.call(ctx, http.MethodGet, "/status", nil)
	if err == nil && code != http.StatusOK {
		err = &StatusError{Code: code, Body: string(body)}
	}

	var fields map[string]any
	if err == nil {
		if derr := json.Unmarshal(body, &fields); derr != nil {
			err = fmt.Errorf("%w: %w", ErrMalformed, derr)
		}
	}
	if err != nil {
		log.Warn("server status unavailable", "error", err)
		return Status{Error: err.Error(), Err: err}
	}
	return Status{Fields: fields}
}

func (c *Client) LoadModel(ctx context.Context, path string) Outcome {
	log := log.FromContextOrDiscard(ctx).WithGroup("client").With("server", c.base, "model", path)
	log.Info("loading model")

	code, body, err := c.call(ctx, http.MethodPost, "/load_model", map[string]string{"model_path": path})
	if err != nil {
		log.Error("load model request failed", "error", err)
		return Outcome{Message: fmt.Sprintf("Exception: %v", err), Err: err}
	}

	if code != http.StatusOK {
		return Outcome{Message: "Error: " + string(body), Err: &StatusError{Code: code, Body: string(body)}}
	}
	var resp struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		err = fmt.Errorf("%w: %w", ErrMalformed, err)
		return Outcome{Message: fmt.Sprintf("Exception: %v", err), Err: err}
	}
	if !resp.Success {
		log.Warn("model load rejected", "body", string(body))
		return Outcome{Message: "Error: " + string(body), Err: ErrRejected}
	}

	log.Info("model loaded")
	return Outcome{Message: "Model loaded: " + path}
}

// Generate submits one generation request and downloads every image the
// server reports, in order. The first failed download ends the call; images
// already written stay on disk but are not returned.
func (c *Client) Generate(ctx context.Context, params Params) Result {
	params.Prompt, params.NegativePrompt = prompt.Compose(c.styles, params.Prompt, params.NegativePrompt, params.Style)

	log := log.FromContextOrDiscard(ctx).WithGroup("client").With("server", c.base, "style", params.Style)
	log.Info("submitting generation", "prompt", params.Prompt, "batch", params.BatchCount, "seed", params.Seed)

	code, body, err := c.call(ctx, http.MethodPost, "/generate", params)
	if err != nil {
		log.Error("generation request failed", "error", err)
		return failed(fmt.Sprintf("Request Error: %v", err), err)
	}
	if code != http.StatusOK {
		log.Warn("generation returned unexpected status", "status", code)
		return failed(fmt.Sprintf("HTTP Error: %d\n%s", code, body), &StatusError{Code: code, Body: string(body)})
	}

	var resp struct {
		Success   bool     `json:"success"`
		Filenames []string `json:"filenames"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		err = fmt.Errorf("%w: %w", ErrMalformed, err)
		return failed(fmt.Sprintf("Request Error: %v", err), err)
	}
	if !resp.Success {
		log.Warn("generation rejected", "body", string(body))
		return failed("Generation Error: "+string(body), ErrRejected)
	}

	id := c.callID()
	paths := make([]string, 0, len(resp.Filenames))
	for n, filename := range resp.Filenames {
		path, err := c.download(ctx, fmt.Sprintf("%s_%d", id, n), filename)
		if err != nil {
			log.Error("image download failed", "filename", filename, "error", err)
			return failed("Image download error: "+filename, &DownloadError{Filename: filename, Err: err})
		}
		paths = append(paths, path)
	}

	log.Info("generation complete", "images", len(paths))
	return Result{
		Outcome: Outcome{Message: fmt.Sprintf("Successfully generated %d images", len(paths))},
		Paths:   paths,
	}
}

// download saves one image as "<prefix>_<base name>". The prefix carries
// the call id and the image's position in the batch.
func (c *Client) download(ctx context.Context, prefix, filename string) (string, error) {
	code, body, err := c.call(ctx, http.MethodGet, "/image/"+url.PathEscape(filename), nil)
	if err != nil {
		return "", err
	}
	if code != http.StatusOK {
		return "", &StatusError{Code: code, Body: string(body)}
	}

	name := prefix + "_" + filepath.Base(filename)
	if err := c.files.Upload(ctx, store.UploadParams{
		Name:        name,
		Data:        body,
		ContentType: http.DetectContentType(body),
	}); err != nil {
		return "", err
	}
	return c.files.Path(name), nil
}

// call performs one request and reads the whole response. Only failures to
// complete the exchange are returned as errors.
func (c *Client) call(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return resp.StatusCode, body, nil
}

func failed(message string, err error) Result {
	return Result{Outcome: Outcome{Message: message, Err: err}}
}
