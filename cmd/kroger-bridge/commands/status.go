package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/florianilch/kroger-bridge/internal/app"
	"github.com/florianilch/kroger-bridge/internal/entry"
)

// status describes the stored entry.
type status struct {
	Authorized bool       `json:"authorized"`
	Storage    string     `json:"storage"`
	EntryID    string     `json:"entry_id,omitempty"`
	Title      string     `json:"title,omitempty"`
	Expiry     *time.Time `json:"expiry,omitempty"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "show whether the integration is authorized",
		Action: statusAction,
	}
}

func statusAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := readConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	st := status{Storage: string(cfg.Auth.Storage)}

	e, err := app.LoadEntry(ctx, cfg.Auth)
	switch {
	case errors.Is(err, entry.ErrNotFound):
	case err != nil:
		return fmt.Errorf("failed to read entry: %w", err)
	default:
		st.Authorized = true
		st.EntryID = e.ID
		st.Title = e.Title
		st.UpdatedAt = &e.UpdatedAt
		if !e.Token.Expiry.IsZero() {
			st.Expiry = &e.Token.Expiry
		}
	}

	return writeStatus(cmd.Root().Writer, st, time.Now())
}

func resetCommand() *cli.Command {
	return &cli.Command{
		Name:   "reset",
		Usage:  "remove the stored authorization",
		Action: resetAction,
	}
}

func resetAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := readConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := app.DeleteEntry(ctx, cfg.Auth); err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}

	_, err = fmt.Fprintf(cmd.Root().Writer, "entry removed (storage: %s)\n", cfg.Auth.Storage)
	return err
}

// writeStatus prints a summary on terminals and JSON otherwise.
func writeStatus(w io.Writer, st status, now time.Time) error {
	if !isTerminal(w) {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	if !st.Authorized {
		_, err := fmt.Fprintf(w, "not authorized (storage: %s)\nrun `kroger-bridge start` and open /auth/kroger/authorize\n", st.Storage)
		return err
	}

	expiry := "unknown"
	if st.Expiry != nil {
		expiry = st.Expiry.Local().Format(time.RFC3339)
		if st.Expiry.Before(now) {
			expiry += " (expired, refreshed on next call)"
		}
	}
	_, err := fmt.Fprintf(w, "authorized as %s (%s)\nstorage: %s\naccess token expiry: %s\n", st.Title, st.EntryID, st.Storage, expiry)
	return err
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
