package cache

import (
	"context"
	"time"
)

// Persistence is the durable tier of the response cache.
type Persistence interface {
	Read(key string) (Entry, bool)
	Write(key string, e Entry) error
	List() ([]Entry, error)
	Remove(key string) error
	RemoveAll() error
}

// Clock supplies the current time. Tests substitute a fixed clock.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Response is the outcome of one conditional GET.
type Response struct {
	ETag      string
	Body      []byte
	Status    int
	Truncated bool // body shorter than Content-Length or otherwise cut off
}

// Fetcher performs a conditional GET. etag is empty when nothing is cached;
// otherwise it is sent as If-None-Match.
type Fetcher func(ctx context.Context, etag string) (*Response, error)
