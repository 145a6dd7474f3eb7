package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーを起動する。
	CommandServe Command = "serve"
	// CommandMigrate はスキーママイグレーションと旧形式レコードの書き換えを行う。
	CommandMigrate Command = "migrate"
	// CommandExport は保存済みの台帳をCSVとして標準出力に書き出す。
	CommandExport Command = "export"
	// CommandHealthcheck は稼働中のサーバーの /health を叩く。distrolessイメージのHEALTHCHECK用。
	CommandHealthcheck Command = "healthcheck"
)

var commands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandMigrate):     CommandMigrate,
	string(CommandExport):      CommandExport,
	string(CommandHealthcheck): CommandHealthcheck,
}

// LookupCommand は名前に対応するサブコマンドを返す。未知の名前ならokはfalse。
func LookupCommand(name string) (Command, bool) {
	cmd, ok := commands[name]
	return cmd, ok
}

// ParseCommand はos.Args[1:]の先頭からサブコマンドを決める。
// 引数なし、または未知のサブコマンドはCommandServeとして扱う。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := LookupCommand(args[0]); ok {
		return cmd
	}
	return CommandServe
}
