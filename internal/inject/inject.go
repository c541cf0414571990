package inject

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	cfg "github.com/dmorgan81/sdclient/internal/config"
	"github.com/dmorgan81/sdclient/internal/feed"
	"github.com/dmorgan81/sdclient/internal/handler"
	"github.com/dmorgan81/sdclient/internal/image"
	"github.com/dmorgan81/sdclient/internal/log"
	"github.com/dmorgan81/sdclient/internal/page"
	"github.com/dmorgan81/sdclient/internal/param"
	"github.com/dmorgan81/sdclient/internal/prompt"
	"github.com/dmorgan81/sdclient/internal/store"
	"github.com/dmorgan81/sdclient/internal/style"
	"github.com/samber/do"
)

func Setup(ctx context.Context, c *cfg.Config) *do.Injector {
	log := log.FromContextOrDiscard(ctx)

	injector := do.NewWithOpts(&do.InjectorOpts{
		Logf: func(format string, args ...any) {
			log.Debug(fmt.Sprintf(format, args...))
		},
	})
	do.ProvideValue[*cfg.Config](injector, c)

	do.Provide[aws.Config](injector, func(i *do.Injector) (aws.Config, error) {
		return config.LoadDefaultConfig(ctx)
	})
	do.Provide[*ssm.Client](injector, func(i *do.Injector) (*ssm.Client, error) {
		return ssm.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.Provide[*s3.Client](injector, func(i *do.Injector) (*s3.Client, error) {
		return s3.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.Provide[*cloudfront.Client](injector, func(i *do.Injector) (*cloudfront.Client, error) {
		return cloudfront.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.ProvideValue[*http.Client](injector, http.DefaultClient)

	do.Provide[param.Fetcher](injector, param.NewParameterStoreFetcher)
	do.Provide[*style.Catalog](injector, func(i *do.Injector) (*style.Catalog, error) {
		if c.StylesParam != "" {
			return style.LoadParams(ctx, do.MustInvoke[param.Fetcher](i), c.StylesParam)
		}
		return style.LoadFile(ctx, c.StylesPath)
	})
	do.ProvideValue[*store.FileUploader](injector, &store.FileUploader{Dir: c.OutputDir})
	do.Provide[*prompt.Randomizer](injector, prompt.NewRandomizer)
	do.Provide[image.Generator](injector, image.NewGenerationClient)
	do.Provide[store.Uploader](injector, store.NewS3Uploader)
	do.Provide[store.Invalidator](injector, store.NewCloudFrontInvalidator)
	do.Provide[*page.Templator](injector, page.NewTemplator)
	do.Provide[*feed.Generator](injector, feed.NewS3Generator)

	do.ProvideNamedValue[string](injector, "server_url", c.ServerURL)
	do.ProvideNamed[[]string](injector, "prompts", func(i *do.Injector) ([]string, error) {
		if c.PromptsParam == "" {
			return nil, nil
		}
		return do.MustInvoke[param.Fetcher](i).FetchAll(ctx, c.PromptsParam)
	})
	do.ProvideNamedValue[string](injector, "bucket", c.Bucket)
	do.ProvideNamedValue[string](injector, "distribution", c.Distribution)
	do.ProvideNamedValue[string](injector, "site_url", siteURL(c))

	do.Provide[*handler.Handler](injector, handler.NewHandler)
	do.Provide[*handler.PageHandler](injector, handler.NewPageHandler)

	return injector
}

func siteURL(c *cfg.Config) string {
	if c.SiteURL != "" {
		return strings.TrimRight(c.SiteURL, "/")
	}
	if c.Bucket == "" {
		return ""
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com", c.Bucket)
}
