package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hitoshi/mavae-gateway/internal/model"
)

// ListModels はモデルギャラリーの一覧を取得する。
func (c *Client) ListModels(ctx context.Context, p PageParams) (*ListResult[model.ModelItem], error) {
	var out ListResult[model.ModelItem]
	if err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/models", Query: p.Values()}, &out); err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	return &out, nil
}

// ListUserModels は指定ユーザーが公開したモデル一覧を取得する。
func (c *Client) ListUserModels(ctx context.Context, did string, p PageParams) (*ListResult[model.ModelItem], error) {
	var out ListResult[model.ModelItem]
	err := c.Do(ctx, Request{
		Method:   http.MethodGet,
		Path:     "/users/" + url.PathEscape(did) + "/models",
		Endpoint: "/users/{did}/models",
		Query:    p.Values(),
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("failed to list models of user %s: %w", did, err)
	}
	return &out, nil
}

// LikeModel はモデルにいいねする。
func (c *Client) LikeModel(ctx context.Context, id string) error {
	return c.setLike(ctx, "models", id, true)
}

// UnlikeModel はモデルのいいねを取り消す。
func (c *Client) UnlikeModel(ctx context.Context, id string) error {
	return c.setLike(ctx, "models", id, false)
}

// ListWorkflows はワークフローギャラリーの一覧を取得する。
func (c *Client) ListWorkflows(ctx context.Context, p PageParams) (*ListResult[model.WorkflowItem], error) {
	var out ListResult[model.WorkflowItem]
	if err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/workflows", Query: p.Values()}, &out); err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	return &out, nil
}

// ListUserWorkflows は指定ユーザーが公開したワークフロー一覧を取得する。
func (c *Client) ListUserWorkflows(ctx context.Context, did string, p PageParams) (*ListResult[model.WorkflowItem], error) {
	var out ListResult[model.WorkflowItem]
	err := c.Do(ctx, Request{
		Method:   http.MethodGet,
		Path:     "/users/" + url.PathEscape(did) + "/workflows",
		Endpoint: "/users/{did}/workflows",
		Query:    p.Values(),
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows of user %s: %w", did, err)
	}
	return &out, nil
}

// GetWorkflow はワークフローの詳細を取得する。
func (c *Client) GetWorkflow(ctx context.Context, id string) (*model.WorkflowDetail, error) {
	var out model.WorkflowDetail
	err := c.Do(ctx, Request{
		Method:   http.MethodGet,
		Path:     "/workflows/" + url.PathEscape(id),
		Endpoint: "/workflows/{id}",
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow %s: %w", id, err)
	}
	return &out, nil
}

// LikeWorkflow はワークフローにいいねする。
func (c *Client) LikeWorkflow(ctx context.Context, id string) error {
	return c.setLike(ctx, "workflows", id, true)
}

// UnlikeWorkflow はワークフローのいいねを取り消す。
func (c *Client) UnlikeWorkflow(ctx context.Context, id string) error {
	return c.setLike(ctx, "workflows", id, false)
}
