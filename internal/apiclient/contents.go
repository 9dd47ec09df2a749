package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hitoshi/mavae-gateway/internal/model"
)

// ListContents は公開フィードのコンテンツ一覧を取得する。
func (c *Client) ListContents(ctx context.Context, p PageParams) (*ListResult[model.ContentItem], error) {
	return c.listContents(ctx, "/contents", "/contents", p)
}

// ListLikedContents はログインユーザーがいいねしたコンテンツ一覧を取得する。
func (c *Client) ListLikedContents(ctx context.Context, p PageParams) (*ListResult[model.ContentItem], error) {
	return c.listContents(ctx, "/contents/liked", "/contents/liked", p)
}

// ListUserContents は指定ユーザーのコンテンツ一覧を取得する。
func (c *Client) ListUserContents(ctx context.Context, did string, p PageParams) (*ListResult[model.ContentItem], error) {
	return c.listContents(ctx, "/users/"+url.PathEscape(did)+"/contents", "/users/{did}/contents", p)
}

// ListTopicContents は指定タグ（トピック）のコンテンツ一覧を取得する。
func (c *Client) ListTopicContents(ctx context.Context, tag string, p PageParams) (*ListResult[model.ContentItem], error) {
	return c.listContents(ctx, "/tags/"+url.PathEscape(tag)+"/contents", "/tags/{tag}/contents", p)
}

func (c *Client) listContents(ctx context.Context, path, endpoint string, p PageParams) (*ListResult[model.ContentItem], error) {
	var out ListResult[model.ContentItem]
	err := c.Do(ctx, Request{
		Method:   http.MethodGet,
		Path:     path,
		Endpoint: endpoint,
		Query:    p.Values(),
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("failed to list contents: %w", err)
	}
	return &out, nil
}

// LikeContent はコンテンツにいいねする。
func (c *Client) LikeContent(ctx context.Context, id string) error {
	return c.setLike(ctx, "contents", id, true)
}

// UnlikeContent はコンテンツのいいねを取り消す。
func (c *Client) UnlikeContent(ctx context.Context, id string) error {
	return c.setLike(ctx, "contents", id, false)
}

type visibilityRequest struct {
	Visibility model.Visibility `json:"visibility"`
}

// SetContentVisibility はコンテンツの公開範囲を変更する。
// hiddenへの変更は管理者操作のためエージェントトークンを付与する。
func (c *Client) SetContentVisibility(ctx context.Context, id string, vis model.Visibility) error {
	err := c.Do(ctx, Request{
		Method:   http.MethodPut,
		Path:     "/contents/" + url.PathEscape(id) + "/visibility",
		Endpoint: "/contents/{id}/visibility",
		Body:     visibilityRequest{Visibility: vis},
		Agent:    vis == model.VisibilityHidden,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to set visibility of content %s: %w", id, err)
	}
	return nil
}

// setLike はcontents/models/workflows共通のいいね切り替えを行う。
func (c *Client) setLike(ctx context.Context, resource, id string, liked bool) error {
	method := http.MethodPost
	if !liked {
		method = http.MethodDelete
	}
	err := c.Do(ctx, Request{
		Method:   method,
		Path:     "/" + resource + "/" + url.PathEscape(id) + "/like",
		Endpoint: "/" + resource + "/{id}/like",
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to toggle like on %s %s: %w", resource, id, err)
	}
	return nil
}
