package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gojek/heimdall/v7/httpclient"
	"github.com/spf13/cobra"
)

type client struct {
	http *httpclient.Client
	addr string
}

func newClient(addr string, timeout time.Duration, retries int) client {
	return client{
		addr: strings.TrimRight(addr, "/"),
		http: httpclient.NewClient(
			httpclient.WithHTTPTimeout(timeout),
			httpclient.WithRetryCount(retries),
		),
	}
}

// do sends the request and copies the response body to out.
func (c client) do(method, path string, out io.Writer) error {
	req, err := http.NewRequest(method, c.addr+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := c.http.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, err = io.Copy(out, resp.Body)
	return err
}

func newRootCmd() *cobra.Command {
	var (
		flagAddr    string
		flagTimeout time.Duration
		flagRetries int
	)

	root := &cobra.Command{
		Use:           "perfstatsctl",
		Short:         "Read and reset the performance stats of a running service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagAddr, "addr", "http://localhost:8080",
		"address of the service")
	root.PersistentFlags().DurationVar(&flagTimeout, "timeout", 10*time.Second,
		"timeout of a single request")
	root.PersistentFlags().IntVar(&flagRetries, "retries", 2,
		"number of retries on server errors")

	commands := []struct {
		use    string
		short  string
		method string
		path   string
	}{
		{"report", "Print the report as a table", http.MethodGet, "/stats"},
		{"json", "Print the report as JSON", http.MethodGet, "/stats.json"},
		{"clear", "Drop every stat and start a new window", http.MethodDelete, "/stats"},
		{"dump", "Print the report then clear the stats", http.MethodPost, "/stats/dump"},
	}
	for _, command := range commands {
		command := command
		root.AddCommand(&cobra.Command{
			Use:   command.use,
			Short: command.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				c := newClient(flagAddr, flagTimeout, flagRetries)
				return c.do(command.method, command.path, cmd.OutOrStdout())
			},
		})
	}
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
