package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmorgan81/sdclient/internal/log"
	"github.com/dmorgan81/sdclient/internal/page"
	"github.com/samber/do"
)

var (
	urlRegexp = regexp.MustCompile(`^https://.+\.amazonaws\.com/(?P<key>.+?)\.html(?:\?.*)?$`)

	ErrPageURL = errors.New("not a page url")
)

type objectContext struct {
	Url   string `json:"inputS3Url"`
	Route string `json:"outputRoute"`
	Token string `json:"outputToken"`
}

// PageRequest is an S3 Object Lambda GetObject event for "<image>.html".
type PageRequest struct {
	Id         string        `json:"xAmzRequestId"`
	GetContext objectContext `json:"getObjectContext"`
}

type objectResponder interface {
	HeadObject(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	WriteGetObjectResponse(context.Context, *s3.WriteGetObjectResponseInput, ...func(*s3.Options)) (*s3.WriteGetObjectResponseOutput, error)
}

// PageHandler renders a single-image gallery page on demand from the
// metadata stored with a published image.
type PageHandler struct {
	client    objectResponder
	bucket    string
	templator *page.Templator
}

func NewPageHandler(i *do.Injector) (*PageHandler, error) {
	return &PageHandler{
		client:    do.MustInvoke[*s3.Client](i),
		bucket:    do.MustInvokeNamed[string](i, "bucket"),
		templator: do.MustInvoke[*page.Templator](i),
	}, nil
}

func (h *PageHandler) Handle(ctx context.Context, request PageRequest) error {
	log := log.FromContextOrDiscard(ctx).WithGroup("page").With("request", request.Id)
	matches := urlRegexp.FindStringSubmatch(request.GetContext.Url)
	if matches == nil {
		return fmt.Errorf("%w: %s", ErrPageURL, request.GetContext.Url)
	}
	key := matches[urlRegexp.SubexpIndex("key")]
	log.Info("rendering page", "key", key)

	out, err := h.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(key + ".png"),
	})
	if err != nil {
		return err
	}

	html, err := h.templator.Template(ctx, pageParams(key+".png", out.Metadata))
	if err != nil {
		return err
	}

	_, err = h.client.WriteGetObjectResponse(ctx, &s3.WriteGetObjectResponseInput{
		RequestRoute: aws.String(request.GetContext.Route),
		RequestToken: aws.String(request.GetContext.Token),

		Body:          bytes.NewReader(html),
		ContentLength: aws.Int64(int64(len(html))),
		ContentType:   aws.String("text/html"),
		ETag:          out.ETag,
		LastModified:  out.LastModified,
		Metadata:      out.Metadata,
		StatusCode:    aws.Int32(200),
	})
	return err
}

// pageParams rebuilds generation parameters from object metadata. Fields
// that are missing or unparsable stay zero.
func pageParams(image string, metadata map[string]string) page.Params {
	params := page.Params{
		Images: []string{image},
		Prompt: metadata["prompt"],
		Style:  metadata["style"],
	}
	params.Width, _ = strconv.Atoi(metadata["width"])
	params.Height, _ = strconv.Atoi(metadata["height"])
	params.Steps, _ = strconv.Atoi(metadata["steps"])
	params.CFGScale, _ = strconv.ParseFloat(metadata["cfg_scale"], 64)
	params.Seed, _ = strconv.ParseInt(metadata["seed"], 10, 64)
	return params
}
