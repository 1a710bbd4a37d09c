// =============================================================================
// matrixflow 主入口
// =============================================================================
// 展开构建矩阵、并发运行作业、合并覆盖率
//
// 使用方法:
//
//	matrixflow list                        # 列出组合与作业 ID
//	matrixflow run <job-id>                # 运行单个作业
//	matrixflow run-all                     # 运行全部作业
//	matrixflow run-all --rerun-failed      # 只重跑上次未通过的作业
//	matrixflow coverage merge a.json b.info -o merged.json
//	matrixflow history                     # 查看运行历史
//	matrixflow cache prune                 # 清理过期缓存
//	matrixflow version                     # 显示版本信息
//
// 退出码: 0 全部通过，1 有作业失败或超时，2 配置无效
// =============================================================================

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/BaSui01/matrixflow/matrix"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// 退出码
const (
	exitOK      = 0
	exitFailed  = 1
	exitInvalid = 2
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute 运行命令行并返回退出码
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := newApp(stdout, stderr)
	defer a.close()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	return exitCode(err, stderr)
}

// exitError 携带退出码的错误；err 为 nil 时不再打印
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// invalid 把错误标记为配置或用法错误
func invalid(err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: exitInvalid, err: err}
}

func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return exitOK
	}
	code := exitFailed
	var ee *exitError
	switch {
	case errors.As(err, &ee):
		code = ee.code
		if ee.err == nil {
			return code
		}
	case matrix.IsConfigError(err):
		code = exitInvalid
	}
	fmt.Fprintln(stderr, color.RedString("error:"), err)
	return code
}
