package function

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/ignitionstack/ember/pkg/engine/api"
	"github.com/spf13/cobra"
)

func NewFunctionCallCommand(newClient func() (api.Client, error)) *cobra.Command {
	var (
		method  string
		path    string
		body    string
		headers []string
		timeout time.Duration
		include bool
	)

	cmd := &cobra.Command{
		Use:   "call [id@version]",
		Short: "Call a function through the engine",
		Long: `Call a registered function with a synthetic HTTP request.

The request goes through the same path as edge traffic: the reference is
resolved, the artifact is loaded (or reused from the cache) and the call runs
on the configured backend. The version may be a tag such as 'latest' or a
digest, and defaults to 'latest'.

The command requires a running engine.`,
		Example: `  # Call the latest version
  ember function call hello

  # POST a JSON body to a sub path
  ember function call hello@v1 --path /greet --body '{"name": "World"}'

  # Send a file with headers and show the response headers
  ember function call hello -H Content-Type=application/json --body @req.json -i`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			payload, err := readPayload(body)
			if err != nil {
				return err
			}
			headerMap, err := parseHeaders(headers)
			if err != nil {
				return err
			}

			client, err := newClient()
			if err != nil {
				return err
			}

			resp, err := client.Invoke(context.Background(), api.InvokeRequest{
				Ref:       args[0],
				Method:    strings.ToUpper(method),
				Path:      path,
				Headers:   headerMap,
				Body:      payload,
				TimeoutMs: timeout.Milliseconds(),
			})
			if err != nil {
				var respErr api.ResponseError
				if errors.As(err, &respErr) && respErr.ErrCode != "" {
					return fmt.Errorf("%s (%s, status %d)", respErr.Message, respErr.ErrCode, respErr.Code)
				}
				return err
			}

			if include {
				fmt.Printf("%d (%s)\n", resp.Status, resp.Elapsed)
				names := make([]string, 0, len(resp.Headers))
				for name := range resp.Headers {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					for _, value := range resp.Headers[name] {
						fmt.Printf("%s: %s\n", name, value)
					}
				}
				fmt.Println()
			}

			if strings.HasPrefix(http.Header(resp.Headers).Get("Content-Type"), "application/json") {
				var pretty bytes.Buffer
				if err := json.Indent(&pretty, resp.Body, "", "  "); err == nil {
					fmt.Println(pretty.String())
					return nil
				}
			}
			fmt.Println(string(resp.Body))
			return nil
		},
	}

	cmd.Flags().StringVarP(&method, "method", "X", "POST", "HTTP method the function sees")
	cmd.Flags().StringVarP(&path, "path", "p", "/", "Path and query the function sees")
	cmd.Flags().StringVarP(&body, "body", "d", "", "Request body, or @file to read it from a file")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "Request header as Name=value (repeatable)")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "Deadline for the call (0 uses the function's)")
	cmd.Flags().BoolVarP(&include, "include", "i", false, "Print the status and response headers")
	return cmd
}
