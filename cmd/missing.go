package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newMissingCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "missing",
		Short: "Print the URLs that are not stored yet",
		Long: `Reads URLs (one per line) from --file or stdin and prints the ones the
article store does not contain, in input order. Feed the output to the
scraper to fetch only new articles.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMissingCommand(cmd, file)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "file with one URL per line")
	return cmd
}

func runMissingCommand(cmd *cobra.Command, file string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	r := cmd.InOrStdin()
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return fmt.Errorf("open %s: %w", file, err)
		}
		defer f.Close() //nolint:errcheck // read-only
		r = f
	}
	urls, err := readURLs(r)
	if err != nil {
		return err
	}

	missing, err := appInstance.Store().Missing(cmd.Context(), urls)
	if err != nil {
		return fmt.Errorf("look up urls: %w", err)
	}
	out := bufio.NewWriter(cmd.OutOrStdout())
	for _, u := range missing {
		fmt.Fprintln(out, u)
	}
	if err := out.Flush(); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

// readURLs returns the distinct non-empty lines of r in order.
func readURLs(r io.Reader) ([]string, error) {
	seen := make(map[string]struct{})
	var urls []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		u := strings.TrimSpace(scanner.Text())
		if u == "" || strings.HasPrefix(u, "#") {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read urls: %w", err)
	}
	return urls, nil
}
