package app

import (
	"fmt"
	"strings"
)

// Command は articleboard のサブコマンド。
type Command string

const (
	// CommandServe はHTTPサーバー、ライブ接続、変更通知の受信を起動する。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションの定期削除を起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はスキーマと変更通知トリガーを最新化して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中のサーバーの /health を確認する。
	// distrolessイメージのHEALTHCHECKから呼ばれる。
	CommandHealthcheck Command = "healthcheck"
	// CommandHelp は使い方を表示する。
	CommandHelp Command = "help"
)

// commands は Usage に表示する順序と説明。
var commands = []struct {
	cmd  Command
	desc string
}{
	{CommandServe, "start the article board (pages, REST API, live view, change listener)"},
	{CommandWorker, "delete expired sessions periodically; signed-in views receive SIGNED_OUT"},
	{CommandMigrate, "apply database migrations (articles, sessions, notify triggers) and exit"},
	{CommandHealthcheck, "probe http://localhost:$SERVER_PORT/health and exit non-zero on failure"},
	{CommandHelp, "show this message"},
}

// ParseCommand はコマンドライン引数の先頭からサブコマンドを解析する。
// 引数がない場合、未知のサブコマンドの場合は CommandServe を返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch strings.ToLower(args[0]) {
	case "-h", "--help", "help":
		return CommandHelp
	}
	for _, c := range commands {
		if strings.EqualFold(args[0], string(c.cmd)) {
			return c.cmd
		}
	}
	return CommandServe
}

// Usage はサブコマンドの一覧を返す。
func Usage() string {
	var b strings.Builder
	b.WriteString("usage: articleboard <command>\n\ncommands:\n")
	for _, c := range commands {
		fmt.Fprintf(&b, "  %-12s %s\n", c.cmd, c.desc)
	}
	b.WriteString("\nwith no command, serve is assumed.\n")
	return b.String()
}
