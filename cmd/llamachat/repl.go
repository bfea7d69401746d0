package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/BaSui01/llamachat/session"
)

// REPL 命令
const (
	cmdReset   = "/reset"
	cmdHistory = "/history"
	cmdQuit    = "/quit"
)

// REPL 在终端上与单个会话对话
type REPL struct {
	session *session.Session
	in      io.Reader
	out     io.Writer
}

// NewREPL 创建终端对话循环
func NewREPL(s *session.Session, in io.Reader, out io.Writer) *REPL {
	return &REPL{session: s, in: in, out: out}
}

// Run 逐行读取输入直到 EOF、/quit 或 ctx 取消. 空行被忽略。
func (r *REPL) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	r.prompt()
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
		case cmdQuit:
			return nil
		case cmdReset:
			if err := r.session.Reset(ctx); err != nil {
				fmt.Fprintf(r.out, "[System]: reset failed: %v\n", err)
			} else {
				fmt.Fprintln(r.out, "[System]: history cleared.")
			}
		case cmdHistory:
			r.printHistory()
		default:
			res := r.session.Chat(ctx, line)
			fmt.Fprintf(r.out, "[Assistant]: %s\n", res.Reply)
		}
		r.prompt()
	}
	return scanner.Err()
}

func (r *REPL) prompt() {
	fmt.Fprint(r.out, "[User]: ")
}

func (r *REPL) printHistory() {
	history := r.session.History()
	if len(history) == 0 {
		fmt.Fprintln(r.out, "[System]: history is empty.")
		return
	}
	for i, msg := range history {
		fmt.Fprintf(r.out, "%3d %-9s %s\n", i+1, msg.Role, msg.Content)
	}
}
