package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"messages-gateway/config"
	"messages-gateway/core/adapter"
	"messages-gateway/models"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"
)

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:    "messages-gateway",
		Usage:   "Anthropic Messages API gateway for OpenAI-compatible backends",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to the YAML config file",
				Sources: cli.EnvVars("GATEWAY_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			startCommand(),
			azureCommand(),
		},
	}
}

func startCommand() *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "Starts the gateway server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "listen address, e.g. :4141"},
			&cli.StringFlag{Name: "base-url", Usage: "primary backend base URL"},
			&cli.StringFlag{Name: "api-keys", Usage: "comma separated primary backend API keys"},
			&cli.DurationFlag{Name: "rate-limit", Usage: "minimum interval between requests (0 disables)"},
			&cli.BoolFlag{Name: "wait", Usage: "wait instead of rejecting when rate limited"},
			&cli.BoolFlag{Name: "manual", Usage: "approve every request on the terminal"},
			&cli.DurationFlag{Name: "keepalive", Usage: "ping interval for idle streams (0 disables)"},
			&cli.StringFlag{Name: "log-level", Usage: "log level (debug|info|warn|error)"},
			&cli.StringFlag{Name: "log-format", Usage: "log format (text|json)"},
			&cli.StringFlag{Name: "log-file", Usage: "also write logs to this rotating file"},
			&cli.StringFlag{Name: "db", Usage: "SQLite path for request logs (empty disables)"},
		},
		Action: startAction,
	}
}

func startAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}
	applyStartFlags(cfg, cmd)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, closer, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer closer.Close()

	app, err := newApp(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}
	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("app failed: %w", err)
	}
	return nil
}

// applyStartFlags 命令行参数优先于配置文件和环境变量
func applyStartFlags(cfg *config.Config, cmd *cli.Command) {
	if cmd.IsSet("listen") {
		cfg.Server.Listen = cmd.String("listen")
	}
	if cmd.IsSet("base-url") {
		cfg.Primary.BaseURL = cmd.String("base-url")
	}
	if cmd.IsSet("api-keys") {
		cfg.Primary.APIKeys = config.SplitList(cmd.String("api-keys"))
	}
	if cmd.IsSet("rate-limit") {
		cfg.Gate.RateLimitInterval = cmd.Duration("rate-limit")
	}
	if cmd.IsSet("wait") {
		cfg.Gate.RateLimitWait = cmd.Bool("wait")
	}
	if cmd.IsSet("manual") {
		cfg.Gate.ManualApprove = cmd.Bool("manual")
	}
	if cmd.IsSet("keepalive") {
		cfg.Stream.KeepAliveInterval = cmd.Duration("keepalive")
	}
	if cmd.IsSet("log-level") {
		cfg.Logging.Level = cmd.String("log-level")
	}
	if cmd.IsSet("log-format") {
		cfg.Logging.Format = cmd.String("log-format")
	}
	if cmd.IsSet("log-file") {
		cfg.Logging.File = cmd.String("log-file")
	}
	if cmd.IsSet("db") {
		cfg.Database.Path = cmd.String("db")
	}
}

func azureCommand() *cli.Command {
	return &cli.Command{
		Name:  "azure",
		Usage: "Manages the stored Azure OpenAI configuration",
		Commands: []*cli.Command{
			{
				Name:   "setup",
				Usage:  "Prompts for endpoint and API key and saves them",
				Action: azureSetupAction,
			},
			{
				Name:   "show",
				Usage:  "Prints the stored configuration with the key masked",
				Action: azureShowAction,
			},
		},
	}
}

func loadAzureStore(cmd *cli.Command) (*adapter.AzureConfigStore, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newAzureStore(cfg.Azure)
}

func azureSetupAction(ctx context.Context, cmd *cli.Command) error {
	store, err := loadAzureStore(cmd)
	if err != nil {
		return err
	}

	endpoint, err := readLine(ctx, os.Stdin, "Azure OpenAI endpoint (https://<resource>.openai.azure.com): ")
	if err != nil {
		return err
	}
	if endpoint == "" {
		return errors.New("endpoint cannot be empty")
	}
	apiKey, err := readSecureInput(ctx, "Azure OpenAI API key: ")
	if err != nil {
		return err
	}
	if strings.TrimSpace(apiKey) == "" {
		return errors.New("API key cannot be empty")
	}

	if err := store.Save(adapter.AzureCredentials{Endpoint: endpoint, APIKey: apiKey}); err != nil {
		return err
	}
	fmt.Printf("✅ Azure OpenAI configuration saved to %s\n", store.Path())
	return nil
}

func azureShowAction(ctx context.Context, cmd *cli.Command) error {
	store, err := loadAzureStore(cmd)
	if err != nil {
		return err
	}
	creds, err := store.Load()
	if err != nil {
		return err
	}
	return printAzureConfig(os.Stdout, store.Path(), creds)
}

func printAzureConfig(w io.Writer, path string, creds adapter.AzureCredentials) error {
	if !creds.Configured() {
		_, err := fmt.Fprintf(w, "Azure OpenAI is not configured (%s)\n", path)
		return err
	}
	_, err := fmt.Fprintf(w, "File:     %s\nEndpoint: %s\nAPI key:  %s\n",
		path, creds.Endpoint, models.MaskAPIKey(creds.APIKey))
	return err
}

// readLine 读取一行明文输入，支持 ctx 取消
func readLine(ctx context.Context, in io.Reader, prompt string) (string, error) {
	fmt.Print(prompt)

	type result struct {
		value string
		err   error
	}
	resultCh := make(chan result, 1)

	go func() {
		line, err := bufio.NewReader(in).ReadString('\n')
		if errors.Is(err, io.EOF) && line != "" {
			err = nil
		}
		resultCh <- result{value: strings.TrimSpace(line), err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-resultCh:
		if res.err != nil {
			return "", fmt.Errorf("failed to read input: %w", res.err)
		}
		return res.value, nil
	}
}

// readSecureInput 隐藏回显地读取密钥；term.ReadPassword 不支持 ctx，因此放在 goroutine 中
func readSecureInput(ctx context.Context, prompt string) (string, error) {
	fmt.Print(prompt)
	defer fmt.Println()

	type result struct {
		value string
		err   error
	}
	resultCh := make(chan result, 1)

	go func() {
		inputBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		resultCh <- result{value: string(inputBytes), err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-resultCh:
		if res.err != nil {
			return "", fmt.Errorf("failed to read input: %w", res.err)
		}
		return res.value, nil
	}
}
