// Package cli implements the wurk2do command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/harrisonrobin/wurk2do/pkg/codec"
	"github.com/harrisonrobin/wurk2do/pkg/config"
	"github.com/harrisonrobin/wurk2do/pkg/google"
	"github.com/harrisonrobin/wurk2do/pkg/logging"
	"github.com/harrisonrobin/wurk2do/pkg/store"
	"github.com/harrisonrobin/wurk2do/pkg/syncer"
)

// app carries what every command needs once flags are parsed.
type app struct {
	configPath string
	verbose    bool

	cfg    *config.Config
	logs   io.Closer
	logger *log.Logger
}

// Execute runs the root command and exits non-zero on failure.
func Execute(version string) {
	if err := NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCmd builds the command tree.
func NewRootCmd(version string) *cobra.Command {
	a := &app{logger: log.StandardLogger()}

	root := &cobra.Command{
		Use:           "wurk2do",
		Short:         "Weekly task planner synced through Google Drive",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logs != nil {
				a.logs.Close()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default ~/.config/wurk2do/config.yaml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		authCmd(a),
		signoutCmd(a),
		addCmd(a),
		doneCmd(a),
		editCmd(a),
		rmCmd(a),
		moveCmd(a),
		reorderCmd(a),
		listCmd(a),
		syncCmd(a),
		daemonCmd(a),
		configCmd(a),
	)
	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	return a.setupLogging("")
}

// setupLogging routes logs to file when set, stderr otherwise.
func (a *app) setupLogging(file string) error {
	if a.logs != nil {
		a.logs.Close()
	}
	closer, err := logging.Configure(a.logger, logging.Options{
		Debug: a.verbose || a.cfg.Debug,
		File:  file,
	})
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	a.logs = closer
	return nil
}

func (a *app) openStore() (*store.Store, error) {
	st, err := store.Open(a.cfg.DataFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", a.cfg.DataFile, err)
	}
	return st, nil
}

func (a *app) newCodec() (*codec.Codec, error) {
	format, err := codec.ParseFormat(a.cfg.WireFormat)
	if err != nil {
		return nil, err
	}
	return codec.New(codec.Options{
		Format:     format,
		Compress:   a.cfg.Compress,
		Encrypt:    a.cfg.Encrypt,
		Salt:       a.cfg.EncryptionSalt,
		Iterations: a.cfg.KDFIterations,
	}), nil
}

func (a *app) driveOptions() google.Options {
	return google.Options{
		FileName:   a.cfg.FileName,
		FolderName: a.cfg.FolderName,
		UseFolder:  a.cfg.UseFolder,
		MimeType:   a.cfg.MimeType,
	}
}

// signIn builds a session for the stored account. interactive allows the
// browser flow when no token exists.
func (a *app) signIn(ctx context.Context, st *store.Store, interactive bool) (*syncer.Session, error) {
	c, err := a.newCodec()
	if err != nil {
		return nil, err
	}
	remote, err := google.NewClient(ctx, a.driveOptions(), c, interactive, a.logger)
	if err != nil {
		return nil, err
	}
	a.logger.WithField("identity", remote.Identity()).Debug("Signed in")
	return syncer.NewSession(syncer.Options{
		Store:    st,
		Remote:   remote,
		Codec:    c,
		Identity: remote.Identity(),
		Logger:   a.logger,
	}), nil
}
