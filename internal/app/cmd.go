package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーとキャッシュウォーマーを起動する。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションのクリーンアップジョブを起動する。
	CommandWorker Command = "worker"
	// CommandMigrate は埋め込みSQLのマイグレーションを適用する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は/healthを叩いて終了する。
	// distrolessイメージにはcurlが無いため、Dockerのヘルスチェックから使う。
	CommandHealthcheck Command = "healthcheck"
)

var knownCommands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand はコマンドライン引数の先頭からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := knownCommands[args[0]]; ok {
		return cmd
	}
	return CommandServe
}
