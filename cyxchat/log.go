package cyxchat

import (
	golog "github.com/ipfs/go-log/v2"
)

// SetLogLevel configures every cyxchat-sub001 subsystem logger (transport,
// connection, chat, relay, dns all call golog.Logger(<pkg>) at init) at
// once, the way the teacher centralizes verbosity behind a single -v flag
// in main.go.
func SetLogLevel(level string) error {
	lvl, err := golog.LevelFromString(level)
	if err != nil {
		return err
	}
	golog.SetAllLoggers(lvl)
	return nil
}
