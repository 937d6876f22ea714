package cloudsdk

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

const (
	v1UploadSimple   = "/files/upload-simple"
	v1UploadInit     = "/files/upload-init"
	v1UploadChunk    = "/files/upload-chunk"
	v1UploadComplete = "/files/upload-complete"
	v1Download       = "/files/{id}/download"
)

// UploadSimple uploads data as a single multipart request and returns the node id
func (c *Client) UploadSimple(ctx context.Context, parentID, name string, data []byte) (string, error) {
	r := c.write(ctx).SetFileBytes("file", name, data)
	if parentID != "" {
		r.SetFormData(map[string]string{"parent_id": parentID})
	}

	res, err := doJSON[uploadSimpleResponse](r, http.MethodPost, v1UploadSimple, "upload simple")
	if err != nil {
		return "", err
	}
	if res.ID == "" {
		return "", &APIError{Op: "upload simple", Message: "response carried no id"}
	}
	return res.ID.String(), nil
}

// UploadInit opens a chunked upload session and returns its id
func (c *Client) UploadInit(ctx context.Context, params *UploadInitRequest) (string, error) {
	res, err := doJSON[uploadInitResponse](c.write(ctx).SetBody(params), http.MethodPost, v1UploadInit, "upload init")
	if err != nil {
		return "", err
	}
	if res.SessionID == "" {
		return "", &APIError{Op: "upload init", Message: "response carried no upload_session_id"}
	}
	return res.SessionID.String(), nil
}

// UploadChunk sends one gzip compressed chunk. digest is the hex sha256 of the compressed bytes.
func (c *Client) UploadChunk(ctx context.Context, sessionID string, index int, compressed []byte, digest string) error {
	r := c.write(ctx).
		SetQueryParam("session_id", sessionID).
		SetQueryParam("index", strconv.Itoa(index)).
		SetHeader(HeaderChunkHash, digest).
		SetHeader("Content-Type", "application/octet-stream").
		SetHeader("Content-Encoding", "gzip").
		SetBodyBytes(compressed)

	_, err := doJSON[any](r, http.MethodPost, v1UploadChunk, "upload chunk")
	return err
}

// UploadComplete closes the session and returns the resulting node id
func (c *Client) UploadComplete(ctx context.Context, sessionID string) (string, error) {
	body := uploadCompleteRequest{SessionID: sessionID}
	res, err := doJSON[uploadCompleteResponse](c.write(ctx).SetBody(body), http.MethodPost, v1UploadComplete, "upload complete")
	if err != nil {
		return "", err
	}
	if res.NodeID == "" {
		return "", &APIError{Op: "upload complete", Message: "response carried no node_id"}
	}
	return res.NodeID.String(), nil
}

// Download returns the content of nodeID, at versionID when set
func (c *Client) Download(ctx context.Context, nodeID, versionID string) ([]byte, error) {
	const op = "download"

	r := c.read(ctx).SetPathParam("id", nodeID)
	if versionID != "" {
		r.SetQueryParam("version_id", versionID)
	}

	resp, err := r.Get(v1Download)
	if err != nil {
		return nil, transportError(op, err)
	}

	body := resp.Bytes()
	isJSON := strings.HasPrefix(resp.GetHeader("Content-Type"), "application/json")

	if resp.IsErrorState() {
		var eb errorBody
		if isJSON && jsonUnmarshal(body, &eb) == nil {
			return nil, handleAPIError(resp, nil, op, &eb)
		}
		return nil, handleAPIError(resp, nil, op, nil)
	}
	if !resp.IsSuccessState() {
		return nil, transportError(op, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	// a 2xx body is file content, even when the file itself is json
	return body, nil
}
