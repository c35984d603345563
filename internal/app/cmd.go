package app

import "log/slog"

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はプレイリスト解決APIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はプレースホルダー再解決ワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

var knownCommands = map[string]Command{
	"serve":       CommandServe,
	"worker":      CommandWorker,
	"migrate":     CommandMigrate,
	"healthcheck": CommandHealthcheck,
}

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空の場合はCommandServeを返す。サポート外のコマンドは
// 警告ログを出力した上でCommandServeにフォールバックする。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	cmd, ok := knownCommands[args[0]]
	if !ok {
		slog.Warn("未知のサブコマンドのためserveで起動します", slog.String("arg", args[0]))
		return CommandServe
	}

	return cmd
}
