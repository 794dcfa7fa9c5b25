package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-go-golems/vivarium/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// File is an image attached to a send. ID becomes the uploaded file's stem,
// and the service stores it under that id.
type File struct {
	ID        string
	Name      string
	MediaType string
	Data      io.Reader
}

// Image returns the descriptor the service will record for f.
func (f File) Image() conversation.MessageImage {
	mediaType, ext := f.resolveType()
	return conversation.MessageImage{
		ID:        f.ID,
		Filename:  f.ID + ext,
		MediaType: mediaType,
	}
}

func (f File) resolveType() (string, string) {
	if f.MediaType != "" {
		if ext, ok := extensionForMediaType(f.MediaType); ok {
			return f.MediaType, ext
		}
	}
	return InferImageType(f.Name)
}

var imageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

// InferImageType maps a file name to the media type and canonical extension
// the service uses to store it. Anything unrecognized is stored as jpeg.
func InferImageType(name string) (mediaType string, ext string) {
	mediaType, ok := imageExtensions[strings.ToLower(filepath.Ext(name))]
	if !ok {
		return "image/jpeg", ".jpg"
	}
	ext, _ = extensionForMediaType(mediaType)
	return mediaType, ext
}

func extensionForMediaType(mediaType string) (string, bool) {
	switch mediaType {
	case "image/jpeg":
		return ".jpg", true
	case "image/png":
		return ".png", true
	case "image/webp":
		return ".webp", true
	default:
		return "", false
	}
}

// SendMessageRequest is the multipart body of a send.
type SendMessageRequest struct {
	ID                 string
	AssistantMessageID string
	// Content may be empty when only a persona reply is requested.
	Content       []conversation.ContentBlock
	Cache         bool
	TargetPersona string
	Files         []File
}

// SendMessage posts a message and returns the streamed response body. The
// caller must close it. Cancelling ctx aborts the request and unblocks any
// pending read on the body.
func (c *Client) SendMessage(ctx context.Context, conversationID string, req SendMessageRequest) (io.ReadCloser, error) {
	body, contentType, err := encodeSendMessage(req)
	if err != nil {
		return nil, err
	}

	target := c.endpoint(nil, "conversations", conversationID, "messages")
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return nil, errors.Wrap(err, "could not create send request")
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "text/event-stream")

	log.Debug().
		Str("conversation_id", conversationID).
		Str("id", req.ID).
		Str("assistant_message_id", req.AssistantMessageID).
		Int("content_blocks", len(req.Content)).
		Int("files", len(req.Files)).
		Str("target_persona", req.TargetPersona).
		Msg("sending message")

	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrapf(err, "POST %s", target)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)
		return nil, newHTTPError(httpReq, resp)
	}
	return resp.Body, nil
}

func encodeSendMessage(req SendMessageRequest) (io.Reader, string, error) {
	content := req.Content
	if content == nil {
		content = []conversation.ContentBlock{}
	}
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return nil, "", errors.Wrap(err, "could not encode message content")
	}

	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	fields := []struct{ name, value string }{
		{"id", req.ID},
		{"assistant_message_id", req.AssistantMessageID},
		{"content", string(contentJSON)},
		{"cache", strconv.FormatBool(req.Cache)},
	}
	if req.TargetPersona != "" {
		fields = append(fields, struct{ name, value string }{"target_persona", req.TargetPersona})
	}
	for _, f := range fields {
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, "", errors.Wrapf(err, "could not write field %s", f.name)
		}
	}

	for _, f := range req.Files {
		image := f.Image()
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, image.Filename))
		h.Set("Content-Type", image.MediaType)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", errors.Wrapf(err, "could not add file %s", f.Name)
		}
		if f.Data != nil {
			if _, err := io.Copy(part, f.Data); err != nil {
				return nil, "", errors.Wrapf(err, "could not read file %s", f.Name)
			}
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", errors.Wrap(err, "could not finish multipart body")
	}
	return buf, w.FormDataContentType(), nil
}
