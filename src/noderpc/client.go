// Package noderpc implements domain.NodeClient over JSON/HTTP against the
// remote L2 node, in the same go-resty idiom the teacher repo uses for its
// Arweave and Ethereum clients (utils/arweave, utils/eth): a single
// *resty.Client configured once with timeouts and retry, one method per
// RPC call, wire DTOs converted into domain types at the edge.
package noderpc

import (
	"context"
	"fmt"
	"net/http"

	"github.com/l2privacy/client-sync/src/domain"
	"github.com/l2privacy/client-sync/src/utils/config"
	"github.com/l2privacy/client-sync/src/utils/logger"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// Client is a resty-backed implementation of domain.NodeClient.
type Client struct {
	http *resty.Client
	log  *logrus.Entry
}

// New builds a Client talking to cfg.Url.
func New(cfg *config.Node) *Client {
	self := &Client{
		log: logger.NewSublogger("node-rpc"),
	}

	self.http = resty.New().
		SetBaseURL(cfg.Url).
		SetTimeout(cfg.RequestTimeout).
		SetRetryCount(cfg.RetryCount).
		OnAfterResponse(self.onStatusToError)

	return self
}

func (self *Client) onStatusToError(c *resty.Client, resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}
	return fmt.Errorf("%w: unexpected status %s from %s", domain.ErrTransientNode, resp.Status(), resp.Request.URL)
}

type blockNumberResponse struct {
	BlockNumber uint64 `json:"blockNumber"`
}

func (self *Client) GetBlockNumber(ctx context.Context) (uint64, error) {
	var out blockNumberResponse
	resp, err := self.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/block-number")
	if err := self.wrapErr(resp, err); err != nil {
		return 0, err
	}
	return out.BlockNumber, nil
}

func (self *Client) GetBlockHeader(ctx context.Context) (*domain.BlockHeader, error) {
	var out blockHeaderDTO
	resp, err := self.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/block-header")
	if err := self.wrapErr(resp, err); err != nil {
		return nil, err
	}
	header := out.toDomain()
	return &header, nil
}

func (self *Client) GetBlocks(ctx context.Context, from uint64, limit int) ([]*domain.Block, error) {
	var out []blockDTO
	resp, err := self.http.R().
		SetContext(ctx).
		SetQueryParam("from", fmt.Sprintf("%d", from)).
		SetQueryParam("limit", fmt.Sprintf("%d", limit)).
		SetResult(&out).
		Get("/blocks")
	if err := self.wrapErr(resp, err); err != nil {
		return nil, err
	}

	blocks := make([]*domain.Block, 0, len(out))
	for _, dto := range out {
		block := dto.toDomain()
		blocks = append(blocks, &block)
	}
	return blocks, nil
}

func (self *Client) GetLogs(ctx context.Context, from uint64, limit int, kind domain.LogKind) ([]*domain.EncryptedLogBundle, error) {
	kindParam := "encrypted"
	if kind == domain.LogKindUnencrypted {
		kindParam = "unencrypted"
	}

	var out []logBundleDTO
	resp, err := self.http.R().
		SetContext(ctx).
		SetQueryParam("from", fmt.Sprintf("%d", from)).
		SetQueryParam("limit", fmt.Sprintf("%d", limit)).
		SetQueryParam("kind", kindParam).
		SetResult(&out).
		Get("/logs")
	if err := self.wrapErr(resp, err); err != nil {
		return nil, err
	}
	if out == nil {
		// A null or empty body stays nil so callers can tell it apart
		// from an explicit empty list.
		return nil, nil
	}

	bundles := make([]*domain.EncryptedLogBundle, 0, len(out))
	for _, dto := range out {
		bundle := dto.toDomain()
		bundles = append(bundles, &bundle)
	}
	return bundles, nil
}

func (self *Client) FindLeafIndex(ctx context.Context, snapshot domain.Snapshot, tree domain.TreeID, leaf [32]byte) (*uint64, error) {
	var out struct {
		LeafIndex *uint64 `json:"leafIndex"`
	}
	resp, err := self.http.R().
		SetContext(ctx).
		SetQueryParam("snapshot", string(snapshot)).
		SetQueryParam("tree", fmt.Sprintf("%d", tree)).
		SetQueryParam("leaf", fmt.Sprintf("%x", leaf)).
		SetResult(&out).
		Get("/leaf-index")
	if err := self.wrapErr(resp, err); err != nil {
		return nil, err
	}
	return out.LeafIndex, nil
}

func (self *Client) wrapErr(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTransientNode, err)
	}
	if resp != nil && resp.StatusCode() >= http.StatusInternalServerError {
		return fmt.Errorf("%w: node returned %s", domain.ErrTransientNode, resp.Status())
	}
	return nil
}
