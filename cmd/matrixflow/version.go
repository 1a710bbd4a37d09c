package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/BaSui01/matrixflow/internal/telemetry"
)

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  noArgs,
		// 不需要加载配置
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.stdout, "matrixflow %s\n", telemetry.Version())
			fmt.Fprintf(a.stdout, "  Build Time: %s\n", BuildTime)
			fmt.Fprintf(a.stdout, "  Git Commit: %s\n", GitCommit)
			fmt.Fprintf(a.stdout, "  Go:         %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
