package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haiyiyun/sessionstore"
	"github.com/haiyiyun/sessionstore/redisstore"
)

var errNotFound = errors.New("session not found")

// sessionView is the JSON shape printed by get.
type sessionView struct {
	ID             string         `json:"id"`
	Expires        *time.Time     `json:"expires"`
	OriginalMaxAge *int64         `json:"originalMaxAge"`
	Data           map[string]any `json:"data"`
}

func loadSession(cmd *cobra.Command, sid string) (*sessionstore.Session, error) {
	sess, err := storeFrom(cmd).Load(cmd.Context(), sid)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("%w: %s", errNotFound, sid)
	}
	return sess, nil
}

func newGetCmd() *cobra.Command {
	return withStore(&cobra.Command{
		Use:   "get <sid>",
		Short: "Print a stored session as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession(cmd, args[0])
			if err != nil {
				return err
			}

			view := sessionView{
				ID:             sess.ID(),
				Expires:        sess.Cookie.Expires,
				OriginalMaxAge: sess.Cookie.OriginalMaxAge,
				Data:           sess.Record().Values,
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(view)
		},
	})
}

func newDestroyCmd() *cobra.Command {
	return withStore(&cobra.Command{
		Use:   "destroy <sid>...",
		Short: "Delete one or more sessions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := storeFrom(cmd)
			for _, sid := range args {
				if err := store.Destroy(cmd.Context(), sid); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "destroyed %s\n", sid)
			}
			return nil
		},
	})
}

func newTouchCmd() *cobra.Command {
	return withStore(&cobra.Command{
		Use:   "touch <sid>",
		Short: "Reset a session's expiry from its original max-age",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession(cmd, args[0])
			if err != nil {
				return err
			}
			if err := sess.Touch(cmd.Context()); err != nil {
				return err
			}

			if exp := sess.ExpireAt(); !exp.IsZero() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s expires %s\n", sess.ID(), exp.UTC().Format(time.RFC3339))
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s has no expiry\n", sess.ID())
			}
			return nil
		},
	})
}

func newListCmd() *cobra.Command {
	return withStore(&cobra.Command{
		Use:   "list",
		Short: "List stored session ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lister, ok := storeFrom(cmd).Backend().(sessionstore.Lister)
			if !ok {
				return fmt.Errorf("backend %s cannot list sessions", loadedBackend(cmd))
			}
			ids, err := lister.IDs(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	})
}

func newRegenerateCmd() *cobra.Command {
	var keepData bool
	cmd := withStore(&cobra.Command{
		Use:   "regenerate <sid>",
		Short: "Move a session to a new id and delete the old one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession(cmd, args[0])
			if err != nil {
				return err
			}
			values := sess.Record().Values
			oldCookie := sess.Cookie

			req := sess.Request()
			if err := storeFrom(cmd).Regenerate(cmd.Context(), req); err != nil {
				return err
			}
			// 新会话沿用原 cookie，过期时间按 originalMaxAge 重新计算
			if oldCookie != nil {
				cookie := *oldCookie
				req.Session.Cookie = &cookie
				req.Session.ResetMaxAge()
			}
			if keepData {
				for k, v := range values {
					req.Session.Set(k, v)
				}
			}
			if err := req.Session.Save(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), req.SessionID)
			return nil
		},
	})
	cmd.Flags().BoolVar(&keepData, "keep-data", true, "copy session data to the new session")
	return cmd
}

func newPruneCmd() *cobra.Command {
	return withStore(&cobra.Command{
		Use:   "prune",
		Short: "Remove expired sessions (sqlite backend)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pruner, ok := storeFrom(cmd).Backend().(interface {
				Prune(ctx context.Context) (int64, error)
			})
			if !ok {
				return fmt.Errorf("backend %s expires sessions on its own", loadedBackend(cmd))
			}
			n, err := pruner.Prune(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d sessions\n", n)
			return nil
		},
	})
}

func newWatchCmd() *cobra.Command {
	var interval time.Duration
	cmd := withStore(&cobra.Command{
		Use:   "watch",
		Short: "Report redis connection changes until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive, got %s", interval)
			}
			store := storeFrom(cmd)
			backend, ok := store.Backend().(*redisstore.Store)
			if !ok {
				return fmt.Errorf("backend %s has no connection to watch", loadedBackend(cmd))
			}

			out := cmd.OutOrStdout()
			for _, event := range []string{sessionstore.EventConnect, sessionstore.EventDisconnect, sessionstore.EventError} {
				store.On(event, func(args ...any) {
					if len(args) > 0 {
						fmt.Fprintf(out, "%s %s: %v\n", time.Now().UTC().Format(time.RFC3339), event, args[0])
						return
					}
					fmt.Fprintf(out, "%s %s\n", time.Now().UTC().Format(time.RFC3339), event)
				})
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return backend.Watch(ctx, interval)
		},
	})
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "ping interval")
	return cmd
}

func loadedBackend(cmd *cobra.Command) string {
	return configFrom(cmd).Backend
}
