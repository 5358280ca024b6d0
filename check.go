package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"ratecache/config"
	"ratecache/plugin"
	"ratecache/sampler"
)

func newCheckCmd(configPath *string) *cobra.Command {
	var (
		name string
		wait time.Duration
	)
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Poll one plugin twice and print every metric",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			for _, pc := range cfg.Plugins {
				if pc.Name == name {
					if wait > 0 {
						pc.MinInterval = wait
					}
					return check(cmd.Context(), cmd.OutOrStdout(), pc)
				}
			}
			return fmt.Errorf("plugin %q not found in config", name)
		},
	}
	checkCmd.Flags().StringVar(&name, "plugin", "", "plugin name from the config")
	checkCmd.Flags().DurationVar(&wait, "wait", 0, "pause between the two polls (default: the plugin min_interval)")
	_ = checkCmd.MarkFlagRequired("plugin")
	return checkCmd
}

// check polls pc once, waits a refresh window and polls again so counters
// have a rate, then prints raw values and every declared metric.
func check(ctx context.Context, out io.Writer, pc config.PluginConfig) error {
	pc.Mode = "lazy"
	p, err := plugin.New(pc, nil, nil)
	if err != nil {
		return err
	}
	defer p.Sampler.Shutdown(context.Background())

	for i := 0; i < 2; i++ {
		if i > 0 {
			select {
			case <-time.After(p.Sampler.MinInterval() + 10*time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := p.Sampler.EnsureFresh(ctx); err != nil {
			return err
		}
	}

	cur, _ := p.Sampler.Store().Load()
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "RAW\tVALUE\n")
	for _, n := range cur.Names() {
		v, _ := cur.Value(n)
		fmt.Fprintf(w, "%s\t%g\n", n, v)
	}
	if len(p.Metrics) > 0 {
		fmt.Fprintf(w, "\nKEY\tKIND\tVALUE\tUNIT\n")
		for _, d := range p.Metrics {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Key(d), describeKind(d), d.Formatted(p.Accessor.Read(d)), d.Unit)
		}
	}
	return w.Flush()
}

func describeKind(d sampler.Descriptor) string {
	if d.Kind == sampler.Gauge {
		return d.Kind.String()
	}
	return d.Kind.String() + "/" + d.Mode.String()
}
