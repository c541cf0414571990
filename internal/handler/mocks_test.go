package handler

import (
	"context"
	"errors"

	"github.com/dmorgan81/sdclient/internal/image"
	"github.com/dmorgan81/sdclient/internal/store"
)

type mockGenerator struct {
	status    image.Status
	outcome   image.Outcome
	result    image.Result
	params    []image.Params
	loaded    []string
	statusHit int
}

func (m *mockGenerator) Status(context.Context) image.Status {
	m.statusHit++
	return m.status
}

func (m *mockGenerator) LoadModel(_ context.Context, path string) image.Outcome {
	m.loaded = append(m.loaded, path)
	return m.outcome
}

func (m *mockGenerator) Generate(_ context.Context, p image.Params) image.Result {
	m.params = append(m.params, p)
	return m.result
}

type mockUploader struct {
	uploads []store.UploadParams
	err     error
}

func (m *mockUploader) Upload(_ context.Context, p store.UploadParams) error {
	if m.err != nil {
		return m.err
	}
	m.uploads = append(m.uploads, p)
	return nil
}

type mockInvalidator struct {
	paths []string
}

func (m *mockInvalidator) Invalidate(_ context.Context, paths []string) error {
	m.paths = append(m.paths, paths...)
	return nil
}

type mockFeed struct{}

func (mockFeed) Generate(context.Context) ([]byte, error) { return []byte("<rss/>"), nil }

var errUnreachable = errors.New("connection refused")
