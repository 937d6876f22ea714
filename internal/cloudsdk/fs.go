package cloudsdk

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
)

const (
	v1FsList   = "/fs/list"
	v1FsMkdir  = "/fs/mkdir"
	v1FsRename = "/fs/rename"
	v1FsNode   = "/fs/node/{id}"
)

// List returns one page of the children of parentID. An empty parentID lists the account root.
func (c *Client) List(ctx context.Context, parentID string, page, limit int) (*ListResult, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}

	r := c.read(ctx).
		SetQueryParam("page", strconv.Itoa(page)).
		SetQueryParam("limit", strconv.Itoa(limit))
	if parentID != "" {
		r.SetQueryParam("parent_id", parentID)
	}

	res, err := doJSON[ListResult](r, http.MethodGet, v1FsList, "fs list")
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// CreateFolder creates name under parentID and returns the new node id
func (c *Client) CreateFolder(ctx context.Context, parentID, name string) (string, error) {
	body := createFolderRequest{Name: name}
	if parentID != "" {
		body.ParentID = &parentID
	}

	res, err := doJSON[createFolderResponse](c.write(ctx).SetBody(body), http.MethodPost, v1FsMkdir, "fs mkdir")
	if err != nil {
		return "", err
	}
	if res.ID == "" {
		return "", &APIError{Op: "fs mkdir", Message: "response carried no id"}
	}
	return res.ID.String(), nil
}

// Rename keeps the node id and changes its name
func (c *Client) Rename(ctx context.Context, id, newName string) error {
	_, err := doJSON[any](c.write(ctx).SetBody(renameRequest{ID: id, NewName: newName}), http.MethodPost, v1FsRename, "fs rename")
	return err
}

func (c *Client) Delete(ctx context.Context, id string) error {
	_, err := doJSON[any](c.write(ctx).SetPathParam("id", id), http.MethodDelete, v1FsNode, "fs delete")
	return err
}

// EnsureFolder returns the id of the folder called name under parentID, creating it when missing
func (c *Client) EnsureFolder(ctx context.Context, parentID, name string) (string, error) {
	for page := 1; ; page++ {
		res, err := c.List(ctx, parentID, page, DefaultPageSize)
		if err != nil {
			return "", fmt.Errorf("find folder %q: %w", name, err)
		}
		for _, n := range res.Items {
			if n.IsDir && n.Name == name {
				return n.ID.String(), nil
			}
		}
		if len(res.Items) < DefaultPageSize {
			break
		}
	}

	id, err := c.CreateFolder(ctx, parentID, name)
	if err != nil {
		return "", fmt.Errorf("create folder %q: %w", name, err)
	}
	return id, nil
}
