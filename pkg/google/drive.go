package google

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"

	"github.com/harrisonrobin/wurk2do/pkg/model"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"

	fileFields googleapi.Field = "id, name, mimeType, modifiedTime, parents"
	listFields googleapi.Field = "files(id, name, mimeType, modifiedTime, parents)"
)

// Encoder turns a plaintext payload into the string stored remotely.
type Encoder interface {
	Encode(plain []byte, identity string) (string, error)
}

// Options names the remote document.
type Options struct {
	FileName   string
	FolderName string
	UseFolder  bool
	MimeType   string
}

// DriveClient locates the single remote document backing the collection and
// moves payloads in and out of it. Handles and the last-upload hash are cached
// for the lifetime of the client, which is one signed-in session.
type DriveClient struct {
	srv      *drive.Service
	opts     Options
	codec    Encoder
	identity string
	log      log.FieldLogger
	now      func() time.Time

	mu             sync.Mutex
	folderID       string
	handle         *model.RemoteFileHandle
	lastUploadHash string
}

// NewDriveClient creates a Drive client bound to identity.
func NewDriveClient(srv *drive.Service, opts Options, enc Encoder, identity string, logger log.FieldLogger) *DriveClient {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if opts.MimeType == "" {
		opts.MimeType = "application/json"
	}
	return &DriveClient{
		srv:      srv,
		opts:     opts,
		codec:    enc,
		identity: identity,
		log:      logger.WithField("component", "drive"),
		now:      time.Now,
	}
}

// Identity returns the account the client is bound to.
func (c *DriveClient) Identity() string {
	return c.identity
}

// Reset drops the cached handles and the last-upload hash.
func (c *DriveClient) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.folderID = ""
	c.handle = nil
	c.lastUploadHash = ""
}

// LocateOrCreateFolder returns the id of the containing folder, creating it
// when it does not exist yet.
func (c *DriveClient) LocateOrCreateFolder(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.folderID
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	q := fmt.Sprintf("mimeType = '%s' and name = '%s' and trashed = false", folderMimeType, escapeQuery(c.opts.FolderName))
	found, err := c.find(ctx, q)
	if err != nil {
		return "", fmt.Errorf("error searching for folder %q: %w", c.opts.FolderName, err)
	}

	id := ""
	if found != nil {
		id = found.Id
	} else {
		created, err := c.srv.Files.Create(&drive.File{
			Name:     c.opts.FolderName,
			MimeType: folderMimeType,
		}).Fields(fileFields).Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("unable to create folder %q: %w", c.opts.FolderName, err)
		}
		c.log.WithField("folder_id", created.Id).Info("Created remote folder")
		id = created.Id
	}

	c.mu.Lock()
	c.folderID = id
	c.mu.Unlock()
	return id, nil
}

// LocateOrCreate returns the handle of the remote document. The first call
// looks it up, moving a legacy file found outside the folder into it, or
// creates it with initial as its content. Later calls return the cached
// handle without any remote call.
func (c *DriveClient) LocateOrCreate(ctx context.Context, initial *model.WeeklyTaskCollection) (*model.RemoteFileHandle, error) {
	c.mu.Lock()
	cached := c.handle
	c.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	folderID := ""
	if c.opts.UseFolder {
		id, err := c.LocateOrCreateFolder(ctx)
		if err != nil {
			return nil, err
		}
		folderID = id

		q := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false", escapeQuery(c.opts.FileName), escapeQuery(folderID))
		found, err := c.find(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("error searching for %q: %w", c.opts.FileName, err)
		}
		if found != nil {
			return c.remember(found), nil
		}
	}

	q := fmt.Sprintf("name = '%s' and trashed = false", escapeQuery(c.opts.FileName))
	found, err := c.find(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("error searching for %q: %w", c.opts.FileName, err)
	}
	if found != nil {
		if folderID != "" && !contains(found.Parents, folderID) {
			found, err = c.migrate(ctx, found, folderID)
			if err != nil {
				return nil, err
			}
		}
		return c.remember(found), nil
	}

	file := &drive.File{
		Name:     c.opts.FileName,
		MimeType: c.opts.MimeType,
	}
	if folderID != "" {
		file.Parents = []string{folderID}
	}
	created, err := c.srv.Files.Create(file).Fields(fileFields).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to create %q: %w", c.opts.FileName, err)
	}
	c.log.WithField("file_id", created.Id).Info("Created remote file")
	h := c.remember(created)

	if initial == nil {
		initial = model.NewCollection(c.now())
	}
	if _, err := c.Upload(ctx, h, initial); err != nil {
		c.mu.Lock()
		c.handle = nil
		c.mu.Unlock()
		return nil, fmt.Errorf("unable to write initial content: %w", err)
	}
	return h, nil
}

// migrate reparents a file found in its legacy location into folderID.
func (c *DriveClient) migrate(ctx context.Context, f *drive.File, folderID string) (*drive.File, error) {
	moved, err := c.srv.Files.Update(f.Id, &drive.File{}).
		AddParents(folderID).
		RemoveParents(strings.Join(f.Parents, ",")).
		Fields(fileFields).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("unable to move %q into folder: %w", f.Name, err)
	}
	c.log.WithFields(log.Fields{"file_id": f.Id, "folder_id": folderID}).Info("Moved legacy remote file into folder")
	return moved, nil
}

func (c *DriveClient) find(ctx context.Context, q string) (*drive.File, error) {
	list, err := c.srv.Files.List().
		Q(q).
		Spaces("drive").
		Fields(listFields).
		PageSize(10).
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}
	if len(list.Files) > 0 {
		if len(list.Files) > 1 {
			c.log.WithField("query", q).Warnf("Found %d matching files, using the first", len(list.Files))
		}
		return list.Files[0], nil
	}
	return nil, nil
}

func (c *DriveClient) remember(f *drive.File) *model.RemoteFileHandle {
	h := &model.RemoteFileHandle{
		ID:           f.Id,
		Name:         f.Name,
		ModifiedTime: f.ModifiedTime,
	}
	if len(f.Parents) > 0 {
		h.ParentID = f.Parents[0]
	}
	c.mu.Lock()
	c.handle = h
	c.mu.Unlock()
	return h
}

// escapeQuery quotes a literal for use inside a Drive query string.
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
