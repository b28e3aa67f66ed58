// notify-send は通知サービスの内部APIを呼び出して通知を1件作成するコマンド。
//
//	notify-send --url http://localhost:8086 --token $INTERNAL_TOKEN --to user-1 --message "こんにちは" --link /groups/1
//
// 動作確認や運用時の手動通知に使う。
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/nao1215/fastconnect/pkg/httpclient"
	"github.com/nao1215/fastconnect/pkg/middleware"
)

// sendRequest は内部APIの通知作成リクエスト。
type sendRequest struct {
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
	Link      string `json:"link,omitempty"`
}

// options はコマンドライン引数。
type options struct {
	url     string
	token   string
	to      string
	message string
	link    string
	timeout time.Duration
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "notify-send: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (*options, error) {
	fs := pflag.NewFlagSet("notify-send", pflag.ContinueOnError)
	opts := &options{}
	fs.StringVar(&opts.url, "url", "http://localhost:8086", "通知サービスのURL")
	fs.StringVar(&opts.token, "token", os.Getenv("INTERNAL_TOKEN"), "内部APIのトークン（既定値は環境変数INTERNAL_TOKEN）")
	fs.StringVar(&opts.to, "to", "", "通知先のユーザーID")
	fs.StringVarP(&opts.message, "message", "m", "", "通知メッセージ")
	fs.StringVar(&opts.link, "link", "", "通知から遷移する先のパス")
	fs.DurationVar(&opts.timeout, "timeout", 10*time.Second, "リクエストのタイムアウト")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	var errs []error
	if opts.to == "" {
		errs = append(errs, errors.New("--to は必須です"))
	}
	if opts.message == "" {
		errs = append(errs, errors.New("--message は必須です"))
	}
	if opts.token == "" {
		errs = append(errs, errors.New("--token または環境変数INTERNAL_TOKENが必要です"))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return opts, nil
}

// run は通知を作成し、作成された通知をJSONでoutに書き出す。
func run(args []string, out io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	client := httpclient.New(opts.url, httpclient.WithHeader(middleware.HeaderInternalToken, opts.token))
	var created map[string]any
	req := sendRequest{Recipient: opts.to, Message: opts.message, Link: opts.link}
	if err := client.PostJSON(ctx, "/api/v1/internal/notifications", req, &created); err != nil {
		return fmt.Errorf("通知の作成に失敗: %w", err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(created)
}
