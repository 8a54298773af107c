package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ceyewan/pubsub/clog"
	"github.com/ceyewan/pubsub/connector"
	"github.com/ceyewan/pubsub/directory"
	"github.com/ceyewan/pubsub/endpoint"
)

type listOptions struct {
	output string
	topic  string
}

func newCmdList(root *rootOptions) *cobra.Command {
	opts := &listOptions{}

	cmd := &cobra.Command{
		Use:   "list",
		Args:  cobra.NoArgs,
		Short: "List the endpoints currently announced in the directory",
		Example: `  # Table of every endpoint under the configured root path
  pubsubd list

  # JSON property bags of the "orders" endpoints
  pubsubd list --topic orders -o json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.output != "table" && opts.output != "json" {
				return fmt.Errorf("unsupported output format %q, must be table or json", opts.output)
			}
			return runList(cmd.Context(), cmd.OutOrStdout(), root, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "table", "Output format (table|json)")
	cmd.Flags().StringVar(&opts.topic, "topic", "", "Only list endpoints of this topic")
	return cmd
}

func runList(ctx context.Context, w io.Writer, root *rootOptions, opts *listOptions) error {
	cfg, _, err := loadConfig(ctx, root)
	if err != nil {
		return err
	}
	logger, err := clog.New(&cfg.Log)
	if err != nil {
		return err
	}

	var conn connector.EtcdConnector
	if cfg.Directory.Backend != directory.BackendMemory {
		conn, err = connector.NewEtcd(&cfg.Etcd, connector.WithLogger(logger))
		if err != nil {
			return err
		}
		defer conn.Close()
		if err := conn.Connect(ctx); err != nil {
			return err
		}
	}

	dir, err := directory.New(&cfg.Directory, conn, directory.WithLogger(logger))
	if err != nil {
		return err
	}
	defer dir.Close()

	nodes, rev, err := dir.GetDirectory(ctx, cfg.Discovery.RootPath)
	if err != nil {
		return err
	}
	return printEndpoints(w, nodes, rev, opts)
}

func printEndpoints(w io.Writer, nodes []directory.Node, rev int64, opts *listOptions) error {
	var eps []*endpoint.Endpoint
	for _, n := range nodes {
		ep, err := endpoint.FromJSON([]byte(n.Value))
		if err != nil {
			continue
		}
		if opts.topic != "" && ep.Topic != opts.topic {
			continue
		}
		eps = append(eps, ep)
	}

	if opts.output == "json" {
		props := make([]map[string]string, 0, len(eps))
		for _, ep := range eps {
			props = append(props, ep.ToProperties())
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"revision": rev, "endpoints": props})
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tSCOPE\tTOPIC\tADMIN\tFRAMEWORK\tUUID\tURL")
	for _, ep := range eps {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			ep.Type, ep.Scope, ep.Topic, ep.AdminType, ep.FrameworkUUID, ep.UUID, ep.URL)
	}
	return tw.Flush()
}
