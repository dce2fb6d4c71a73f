package blockchain

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/kindomxu/ambrosus-node/entity"
)

// maxBundleBodySize caps a peer response at 64 MiB.
const maxBundleBodySize = 64 << 20

// NodeURLResolver maps a peer node address to its HTTP endpoint.
type NodeURLResolver interface {
	NodeURL(ctx context.Context, nodeAddress string) (string, error)
}

// BundleFetcher downloads bundles from peer shelterer nodes over HTTP.
type BundleFetcher struct {
	resolver NodeURLResolver
	client   *http.Client
}

// NewBundleFetcher builds a fetcher with a sane request timeout.
func NewBundleFetcher(resolver NodeURLResolver) *BundleFetcher {
	return &BundleFetcher{
		resolver: resolver,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Fetch downloads bundleID from the shelterer and decodes it. The result is
// not validated; callers run it through the validator before storing.
func (f *BundleFetcher) Fetch(ctx context.Context, sheltererID, bundleID string) (*entity.Bundle, error) {
	base, err := f.resolver.NodeURL(ctx, sheltererID)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/bundle/%s", strings.TrimRight(base, "/"), bundleID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "could not build bundle request")
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "could not fetch bundle")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("shelterer returned %d for bundle %s", resp.StatusCode, bundleID)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBundleBodySize))
	if err != nil {
		return nil, errors.Wrap(err, "could not read bundle body")
	}
	bundle, err := entity.DecodeBundle(body)
	if err != nil {
		return nil, errors.Wrap(err, "could not decode fetched bundle")
	}
	return bundle, nil
}
