package feed

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dmorgan81/sdclient/internal/log"
	"github.com/gorilla/feeds"
	"github.com/samber/do"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// Name is the object key the feed is published under.
const Name = "feed.xml"

var imageExts = []string{".png", ".jpg", ".jpeg", ".webp", ".gif"}

func isImage(key string) bool {
	return lo.Contains(imageExts, strings.ToLower(path.Ext(key)))
}

type bucketClient interface {
	s3.ListObjectsV2APIClient
	HeadObject(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Generator builds an RSS feed of every published image in a bucket.
type Generator struct {
	client  bucketClient
	bucket  string
	siteURL string
}

func NewS3Generator(i *do.Injector) (*Generator, error) {
	client := do.MustInvoke[*s3.Client](i)
	bucket := do.MustInvokeNamed[string](i, "bucket")
	siteURL := do.MustInvokeNamed[string](i, "site_url")
	return &Generator{client, bucket, strings.TrimRight(siteURL, "/")}, nil
}

func (g *Generator) Generate(ctx context.Context) ([]byte, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("feed").With("bucket", g.bucket)
	log.Info("generating rss feed")

	feed := feeds.Feed{
		Title:       "Stable Diffusion generations",
		Description: "Images generated through sdclient",
		Link:        &feeds.Link{Href: g.siteURL},
		Updated:     time.Now(),
	}

	pager := s3.NewListObjectsV2Paginator(g.client, &s3.ListObjectsV2Input{
		Bucket: &g.bucket,
	})

	var mu sync.Mutex
	group, ctx := errgroup.WithContext(ctx)
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			_ = group.Wait()
			return nil, err
		}

		objs := lo.Filter(page.Contents, func(o s3types.Object, _ int) bool {
			return isImage(aws.ToString(o.Key))
		})

		for _, obj := range objs {
			obj := obj
			group.Go(func() error {
				out, err := g.client.HeadObject(ctx, &s3.HeadObjectInput{
					Bucket: &g.bucket,
					Key:    obj.Key,
				})
				if err != nil {
					return err
				}

				meta := out.Metadata
				item := &feeds.Item{
					Title:       lo.Ternary(meta["style"] != "", fmt.Sprintf("%s [%s]", meta["prompt"], meta["style"]), meta["prompt"]),
					Link:        &feeds.Link{Href: g.siteURL + "/" + *obj.Key},
					Description: fmt.Sprintf("seed %s, %s steps, cfg %s", meta["seed"], meta["steps"], meta["cfg_scale"]),
					Id:          *obj.Key,
					Updated:     lo.FromPtr(out.LastModified),
				}

				mu.Lock()
				feed.Add(item)
				mu.Unlock()
				return nil
			})
		}
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	feed.Sort(func(a, b *feeds.Item) bool {
		if a.Updated.Equal(b.Updated) {
			return a.Id < b.Id
		}
		return a.Updated.Before(b.Updated)
	})
	rss, err := feed.ToRss()
	return []byte(rss), err
}
