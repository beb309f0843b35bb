package google

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/harrisonrobin/wurk2do/pkg/auth"
)

// NewClient signs in with the stored token, or the browser flow when
// interactive is set, resolves the account email and returns a Drive client
// bound to it.
func NewClient(ctx context.Context, opts Options, enc Encoder, interactive bool, logger log.FieldLogger) (*DriveClient, error) {
	srv, client, err := auth.GetDriveService(ctx, interactive)
	if err != nil {
		return nil, err
	}

	identity, err := auth.FetchIdentity(ctx, client)
	if err != nil {
		return nil, err
	}

	return NewDriveClient(srv, opts, enc, identity, logger), nil
}
