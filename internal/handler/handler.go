package handler

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dmorgan81/sdclient/internal/config"
	"github.com/dmorgan81/sdclient/internal/feed"
	"github.com/dmorgan81/sdclient/internal/image"
	"github.com/dmorgan81/sdclient/internal/log"
	"github.com/dmorgan81/sdclient/internal/page"
	"github.com/dmorgan81/sdclient/internal/prompt"
	"github.com/dmorgan81/sdclient/internal/store"
	"github.com/samber/do"
	"github.com/samber/lo"
)

const (
	ActionGenerate  = "generate"
	ActionStatus    = "status"
	ActionLoadModel = "load_model"
)

var (
	ErrUnknownAction = errors.New("unknown action")
	ErrEmptyPrompt   = errors.New("prompt is required")
)

// Input is one invocation. Pointer fields distinguish "absent" from a
// deliberate zero value; absent fields take the configured defaults.
type Input struct {
	Action         string  `json:"action,omitempty"`
	ModelPath      string  `json:"model_path,omitempty"`
	Prompt         string  `json:"prompt,omitempty"`
	NegativePrompt *string `json:"negative_prompt,omitempty"`
	Style          *string `json:"style,omitempty"`
	Width          int     `json:"width,omitempty"`
	Height         int     `json:"height,omitempty"`
	Steps          int     `json:"steps,omitempty"`
	CFGScale       float64 `json:"cfg_scale,omitempty"`
	Seed           *int64  `json:"seed,omitempty"`
	BatchCount     int     `json:"batch_count,omitempty"`
	Preflight      bool    `json:"preflight,omitempty"`
}

func (i Input) toImageParams(d config.Defaults) image.Params {
	return image.Params{
		Prompt:         i.Prompt,
		NegativePrompt: lo.FromPtrOr(i.NegativePrompt, d.NegativePrompt),
		Style:          lo.FromPtrOr(i.Style, d.Style),
		Width:          lo.Ternary(i.Width > 0, i.Width, d.Width),
		Height:         lo.Ternary(i.Height > 0, i.Height, d.Height),
		Steps:          lo.Ternary(i.Steps > 0, i.Steps, d.Steps),
		CFGScale:       lo.Ternary(i.CFGScale > 0, i.CFGScale, d.CFGScale),
		Seed:           lo.FromPtrOr(i.Seed, d.Seed),
		BatchCount:     lo.Ternary(i.BatchCount > 0, i.BatchCount, d.BatchCount),
	}
}

type Output struct {
	OK        bool           `json:"ok"`
	Message   string         `json:"message"`
	Images    []string       `json:"images,omitempty"`
	Published []string       `json:"published,omitempty"`
	Status    map[string]any `json:"status,omitempty"`
	Elapsed   string         `json:"elapsed,omitempty"`
}

type feedGenerator interface {
	Generate(context.Context) ([]byte, error)
}

type Handler struct {
	generator  image.Generator
	randomizer *prompt.Randomizer
	defaults   config.Defaults

	// Publishing is enabled when uploader is set.
	uploader    store.Uploader
	invalidator store.Invalidator
	templator   *page.Templator
	feed        feedGenerator
}

func NewHandler(i *do.Injector) (*Handler, error) {
	h := &Handler{
		generator:  do.MustInvoke[image.Generator](i),
		randomizer: do.MustInvoke[*prompt.Randomizer](i),
		defaults:   do.MustInvoke[*config.Config](i).Defaults,
	}
	if do.MustInvokeNamed[string](i, "bucket") != "" {
		h.uploader = do.MustInvoke[store.Uploader](i)
		h.invalidator = do.MustInvoke[store.Invalidator](i)
		h.templator = do.MustInvoke[*page.Templator](i)
		h.feed = do.MustInvoke[*feed.Generator](i)
	}
	return h, nil
}

func (h *Handler) Handle(ctx context.Context, input Input) (Output, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("handler").With("action", input.Action)
	log.Info("handling invocation")

	switch lo.Ternary(input.Action == "", ActionGenerate, input.Action) {
	case ActionStatus:
		status := h.generator.Status(ctx)
		return Output{OK: status.OK(), Message: lo.Ternary(status.OK(), "Server available", status.Error), Status: status.Map()}, nil
	case ActionLoadModel:
		out := h.generator.LoadModel(ctx, input.ModelPath)
		return Output{OK: out.OK(), Message: out.Message}, nil
	case ActionGenerate:
		return h.generate(ctx, input)
	default:
		return Output{}, fmt.Errorf("%w: %q", ErrUnknownAction, input.Action)
	}
}

func (h *Handler) generate(ctx context.Context, input Input) (Output, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("handler")

	if input.Prompt == "" {
		if h.randomizer == nil {
			return Output{}, ErrEmptyPrompt
		}
		styleName, prompt, err := h.randomizer.Randomize(ctx)
		if err != nil {
			return Output{}, fmt.Errorf("%w: %w", ErrEmptyPrompt, err)
		}
		input.Prompt = prompt
		if input.Style == nil && styleName != "" {
			input.Style = &styleName
		}
	}

	if input.Preflight {
		status := h.generator.Status(ctx)
		if !status.OK() {
			log.Warn("server unavailable", "error", status.Error)
			return Output{Message: "Server unavailable: " + status.Error, Status: status.Map()}, nil
		}
	}

	params := input.toImageParams(h.defaults)
	start := time.Now()
	result := h.generator.Generate(ctx, params)
	output := Output{
		OK:      result.OK(),
		Message: result.Message,
		Images:  result.Paths,
		Elapsed: time.Since(start).Round(100 * time.Millisecond).String(),
	}
	if !result.OK() || h.uploader == nil {
		return output, nil
	}

	published, err := h.publish(ctx, params, result.Paths)
	if err != nil {
		return output, fmt.Errorf("publish generation: %w", err)
	}
	output.Published = published
	return output, nil
}

// publish mirrors a finished generation to the bucket together with a
// gallery page and a refreshed feed, then invalidates the cached copies.
func (h *Handler) publish(ctx context.Context, params image.Params, paths []string) ([]string, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("publish")
	log.Info("publishing generation", "images", len(paths))

	metadata := map[string]string{
		"prompt":    params.Prompt,
		"style":     params.Style,
		"seed":      fmt.Sprint(params.Seed),
		"steps":     fmt.Sprint(params.Steps),
		"cfg_scale": fmt.Sprint(params.CFGScale),
		"width":     fmt.Sprint(params.Width),
		"height":    fmt.Sprint(params.Height),
	}

	keys := make([]string, 0, len(paths)+3)
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		key := filepath.Base(path)
		if err := h.uploader.Upload(ctx, store.UploadParams{
			Name:        key,
			Data:        data,
			ContentType: contentType(path, data),
			Metadata:    metadata,
		}); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	html, err := h.templator.Template(ctx, page.Params{
		Images:         keys,
		Prompt:         params.Prompt,
		NegativePrompt: params.NegativePrompt,
		Style:          params.Style,
		Width:          params.Width,
		Height:         params.Height,
		Steps:          params.Steps,
		CFGScale:       params.CFGScale,
		Seed:           params.Seed,
	})
	if err != nil {
		return nil, err
	}
	pageName := time.Now().UTC().Format("20060102150405") + ".html"
	for _, name := range []string{pageName, "latest.html"} {
		if err := h.uploader.Upload(ctx, store.UploadParams{
			Name:        name,
			Data:        html,
			ContentType: "text/html",
			Metadata:    metadata,
		}); err != nil {
			return nil, err
		}
	}
	keys = append(keys, pageName, "latest.html")

	rss, err := h.feed.Generate(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.uploader.Upload(ctx, store.UploadParams{
		Name:        feed.Name,
		Data:        rss,
		ContentType: "application/rss+xml",
	}); err != nil {
		return nil, err
	}
	keys = append(keys, feed.Name)

	paths = lo.Map(keys, func(k string, _ int) string { return "/" + k })
	if err := h.invalidator.Invalidate(ctx, paths); err != nil {
		return nil, err
	}
	return keys, nil
}

// contentType prefers the file extension and falls back to sniffing the
// bytes, the same way the client labels downloads.
func contentType(path string, data []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return http.DetectContentType(data)
}
