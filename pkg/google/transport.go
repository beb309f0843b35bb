package google

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"

	"github.com/harrisonrobin/wurk2do/pkg/checksum"
	"github.com/harrisonrobin/wurk2do/pkg/model"
)

// Download fetches the raw wire payload of the remote document.
func (c *DriveClient) Download(ctx context.Context, h *model.RemoteFileHandle) (string, error) {
	resp, err := c.srv.Files.Get(h.ID).Context(ctx).Download()
	if err != nil {
		return "", fmt.Errorf("unable to download %s: %w", h.ID, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("unable to read %s: %w", h.ID, err)
	}
	return string(b), nil
}

// Upload writes col to the remote document unless the same content was the
// last thing uploaded in this session, in which case it reports skipped and
// makes no network call.
func (c *DriveClient) Upload(ctx context.Context, h *model.RemoteFileHandle, col *model.WeeklyTaskCollection) (bool, error) {
	plain, err := model.Marshal(col)
	if err != nil {
		return false, err
	}
	sum := checksum.Strong(plain)

	c.mu.Lock()
	last := c.lastUploadHash
	c.mu.Unlock()
	if sum == last {
		c.log.WithField("file_id", h.ID).Debug("Upload skipped, content unchanged")
		return true, nil
	}

	wire, err := c.codec.Encode(plain, c.identity)
	if err != nil {
		return false, err
	}

	meta := &drive.File{
		MimeType:     c.opts.MimeType,
		ModifiedTime: c.now().UTC().Format(time.RFC3339),
	}
	updated, err := c.srv.Files.Update(h.ID, meta).
		Media(bytes.NewReader([]byte(wire)), googleapi.ContentType(c.opts.MimeType)).
		Fields(fileFields).
		Context(ctx).
		Do()
	if err != nil {
		return false, fmt.Errorf("unable to upload %s: %w", h.ID, err)
	}

	c.mu.Lock()
	c.lastUploadHash = sum
	if c.handle != nil && c.handle.ID == updated.Id && updated.ModifiedTime != "" {
		c.handle.ModifiedTime = updated.ModifiedTime
	}
	c.mu.Unlock()
	c.log.WithFields(log.Fields{"file_id": h.ID, "bytes": len(wire)}).Debug("Uploaded collection")
	return false, nil
}
