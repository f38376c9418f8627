package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/clipvault/internal/app"
	"github.com/forest6511/clipvault/pkg/query"
	"github.com/forest6511/clipvault/pkg/vault"
)

// History flags
var (
	historyLimit int
	historyAfter int64
	historyJSON  bool

	updateKeepNewline bool
)

func init() {
	rootCmd.AddCommand(latestCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(copyCmd)

	for _, c := range []*cobra.Command{listCmd, searchCmd} {
		c.Flags().IntVarP(&historyLimit, "limit", "n", query.DefaultLimit, "Maximum number of items to show")
		c.Flags().Int64Var(&historyAfter, "after", 0, "Show items older than this cursor (from a previous page)")
		c.Flags().BoolVar(&historyJSON, "json", false, "Print the page as JSON")
	}
	latestCmd.Flags().BoolVar(&historyJSON, "json", false, "Print the item as JSON")
	updateCmd.Flags().BoolVar(&updateKeepNewline, "keep-newline", false, "Keep the trailing newline read from stdin")
}

var latestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Print the newest clipboard entry",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *app.Service) error {
			res, err := svc.Latest(ctx)
			if err != nil {
				if errors.Is(err, vault.ErrNotFound) {
					fmt.Fprintln(cmd.ErrOrStderr(), "Clipboard history is empty")
					return nil
				}
				return err
			}
			if historyJSON {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Content)
			return nil
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List clipboard history, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *app.Service) error {
			page, err := svc.ListClipboard(ctx, historyLimit, afterFlag(cmd))
			if err != nil {
				return err
			}
			return printPage(cmd, page)
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search clipboard history (case-insensitive substring)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := strings.Join(args, " ")
		return withService(cmd, func(ctx context.Context, svc *app.Service) error {
			page, err := svc.SearchClipboard(ctx, q, historyLimit, afterFlag(cmd))
			if err != nil {
				return err
			}
			return printPage(cmd, page)
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <ref>",
	Short: "Delete an item by content hash or exact content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *app.Service) error {
			if err := svc.DeleteItem(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Deleted")
			return nil
		})
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <ref>",
	Short: "Replace an item's content with text read from stdin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := readContent(cmd.InOrStdin())
		if err != nil {
			return err
		}
		return withService(cmd, func(ctx context.Context, svc *app.Service) error {
			res, err := svc.UpdateItem(ctx, args[0], content)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %s\n", shortHash(res.ContentHash))
			return nil
		})
	},
}

var copyCmd = &cobra.Command{
	Use:   "copy <ref>",
	Short: "Put a history item back on the clipboard",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *app.Service) error {
			res, err := svc.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if err := svc.CopyToClipboard(ctx, res.Content, res.ContentType); err != nil {
				return fmt.Errorf("failed to copy to clipboard: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Copied %s to clipboard\n", shortHash(res.ContentHash))
			return nil
		})
	},
}

func afterFlag(cmd *cobra.Command) *int64 {
	if !cmd.Flags().Changed("after") {
		return nil
	}
	after := historyAfter
	return &after
}

func readContent(r io.Reader) ([]byte, error) {
	content, err := io.ReadAll(io.LimitReader(r, vault.MaxContentSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read stdin: %w", err)
	}
	if !updateKeepNewline {
		s := strings.TrimSuffix(string(content), "\n")
		content = []byte(strings.TrimSuffix(s, "\r"))
	}
	return content, nil
}

// printPage writes one line per item: time, short hash, then the excerpt
// or a one-line preview.
func printPage(cmd *cobra.Command, page query.Page) error {
	out := cmd.OutOrStdout()
	if historyJSON {
		return printJSON(out, page)
	}
	if len(page.Results) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "No items found")
		return nil
	}
	for _, r := range page.Results {
		fmt.Fprintf(out, "%s  %s  %s\n",
			time.Unix(0, r.Timestamp).Local().Format(time.DateTime),
			shortHash(r.ContentHash),
			preview(r),
		)
	}
	if page.HasMore && page.NextCursor != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "\nMore items: --after %d\n", *page.NextCursor)
	}
	return nil
}

const previewLength = 80

func preview(r query.Result) string {
	if r.Encoding != query.EncodingText {
		return fmt.Sprintf("[%s, %d bytes]", r.ContentType, r.Size)
	}
	s := r.Excerpt
	if s == "" {
		s = r.Content
	}
	s = strings.Join(strings.Fields(s), " ")
	if runes := []rune(s); len(runes) > previewLength {
		s = string(runes[:previewLength-1]) + "…"
	}
	return s
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
