package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jhwbarlow/tcp-audit-probe/internal/config"
	"github.com/jhwbarlow/tcp-audit-probe/probe"
)

func initLayoutCommand() *cobra.Command {
	layoutCmd := &cobra.Command{
		Use:   "layout [kernel-release]",
		Short: "Prints which sock:inet_sock_set_state layout a kernel uses",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			release := v.GetString(config.KeyKernelVersion)
			if len(args) == 1 {
				release = args[0]
			}

			var (
				version probe.KernelVersion
				err     error
			)
			if release == "" {
				version, err = probe.HostKernelVersion()
			} else {
				version, err = probe.ParseKernelRelease(release)
			}
			if err != nil {
				return err
			}

			layout := probe.SelectLayout(version)
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "kernel %s: %s layout, %d byte context, %d byte record\n",
				version, layout.Name(), layout.Size(), probe.RecordSize)
			return err
		},
	}

	return layoutCmd
}
