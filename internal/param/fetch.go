package param

import "context"

// Fetcher reads configuration values that live outside the process, such as
// the style catalog or the fallback prompt list.
type Fetcher interface {
	Fetch(context.Context, string) (string, error)
	FetchAll(context.Context, string) ([]string, error)
}
