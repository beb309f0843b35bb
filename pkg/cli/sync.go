package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/harrisonrobin/wurk2do/pkg/auth"
	"github.com/harrisonrobin/wurk2do/pkg/store"
	"github.com/harrisonrobin/wurk2do/pkg/syncer"
	"github.com/harrisonrobin/wurk2do/pkg/watch"
)

func authCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Sign in with Google",
		RunE: func(cmd *cobra.Command, args []string) error {
			tokenFile, err := auth.TokenPath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(tokenFile); err == nil {
				a.logger.Infof("Removing existing token file at '%s'", tokenFile)
				if err := os.Remove(tokenFile); err != nil {
					return fmt.Errorf("could not delete token file '%s': %w. Please delete it manually", tokenFile, err)
				}
			}

			st, err := a.openStore()
			if err != nil {
				return err
			}
			sess, err := a.signIn(cmd.Context(), st, true)
			if err != nil {
				return fmt.Errorf("authentication failed: %w", err)
			}
			defer sess.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", sess.Status().Identity)

			// Signing in is one of the sync triggers.
			res, err := sess.Sync(cmd.Context())
			renderStatus(cmd.OutOrStdout(), res, sess.Status())
			if res.LocalReplaced {
				if err := st.Save(); err != nil {
					return err
				}
			}
			return err
		},
	}
}

func signoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Revoke and delete the stored token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !auth.HasToken() {
				fmt.Fprintln(cmd.OutOrStdout(), "Not signed in")
				return nil
			}
			if err := auth.SignOut(cmd.Context(), nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func syncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Reconcile local tasks with Google Drive",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !auth.HasToken() {
				return fmt.Errorf("%w: run 'wurk2do auth' first", auth.ErrNoToken)
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			sess, err := a.signIn(cmd.Context(), st, false)
			if err != nil {
				return err
			}
			defer sess.Close()

			res, err := sess.Sync(cmd.Context())
			renderStatus(cmd.OutOrStdout(), res, sess.Status())
			if saveErr := saveMerged(st, res); saveErr != nil {
				return saveErr
			}
			return err
		},
	}
}

func daemonCmd(a *app) *cobra.Command {
	var logFile string
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Sync periodically and on startup",
		RunE: func(cmd *cobra.Command, args []string) error {
			if logFile == "" {
				logFile = a.cfg.LogFile
			}
			if err := a.setupLogging(logFile); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runDaemon(ctx)
		},
	}
	cmd.Flags().StringVar(&logFile, "log-file", "", "write logs to this rotated file")
	return cmd
}

func (a *app) runDaemon(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(a.cfg.DataFile), 0700); err != nil {
		return err
	}
	st, err := a.openStore()
	if err != nil {
		return err
	}
	sess, err := a.signIn(ctx, st, false)
	if err != nil {
		return err
	}
	defer sess.Close()
	st.OnChange(sess.MarkDirty)

	persist := func(res syncer.Result, _ error) {
		if err := saveMerged(st, res); err != nil {
			a.logger.WithError(err).Error("Failed to save merged data")
		}
	}

	res, err := sess.Sync(ctx)
	persist(res, err)

	fw, err := watch.New(a.cfg.DataFile, a.cfg.WatchDebounce, func() {
		changed, err := st.Reload()
		if err != nil {
			a.logger.WithError(err).Warn("Failed to reload data file")
			return
		}
		if changed {
			a.logger.Info("Data file changed on disk")
			sess.MarkDirty()
		}
	}, a.logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	sess.StartAutoSync(gctx, a.cfg.AutoSyncInterval, persist)
	g.Go(func() error {
		return fw.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		sess.StopAutoSync()
		return nil
	})

	a.logger.WithField("identity", sess.Status().Identity).Info("Daemon running")
	err = g.Wait()
	a.logger.Info("Daemon stopped")
	return err
}

// saveMerged writes the data file when a pass replaced the local collection.
// A failed pass restores local data before returning, so it never reports a
// replacement.
func saveMerged(st *store.Store, res syncer.Result) error {
	if !res.LocalReplaced {
		return nil
	}
	return st.Save()
}
