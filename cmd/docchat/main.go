package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/wuwenbin0122/docchat/internal/session"
	"github.com/wuwenbin0122/docchat/internal/shell"
	"github.com/wuwenbin0122/docchat/internal/utils"
	"github.com/wuwenbin0122/docchat/services"
)

var cli struct {
	File      []string `short:"f" type:"existingfile" help:"PDF or text file to use as knowledge (repeatable)."`
	APIKey    string   `name:"api-key" env:"CHAT_API_KEY" help:"Bearer credential for the chat completion endpoint."`
	Model     string   `help:"Override the chat model."`
	Policy    string   `help:"Context budget policy (unbounded, window, tokens)."`
	Window    int      `help:"Turns kept by the window policy."`
	MaxTokens int      `name:"max-tokens" help:"Token budget for the tokens policy."`
	Verbose   bool     `short:"v" help:"Log debug output to stderr."`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("docchat"),
		kong.Description("Chat with a hosted model about local documents. Mention \"search\" to add a web lookup."),
	)

	cfg, err := utils.LoadConfig()
	ctx.FatalIfErrorf(err)

	applyFlags(cfg)
	ctx.FatalIfErrorf(cfg.Validate())

	logger := utils.MustNewSugaredLogger(cfg.Logging)
	defer func() { _ = logger.Sync() }()

	policy, err := services.NewContextPolicy(cfg.Context)
	ctx.FatalIfErrorf(err)

	orchestrator := services.NewOrchestrator(
		services.NewChatService(cfg.Chat, logger.Named("chat")),
		services.NewLookupService(cfg.Lookup, logger.Named("lookup")),
		policy,
		logger.Named("turns"),
	)

	sess := session.New(cfg.Chat.APIKey)
	if len(cli.File) > 0 {
		files, err := services.FilesFromPaths(cli.File)
		ctx.FatalIfErrorf(err)
		text, err := orchestrator.LoadKnowledge(sess, files)
		ctx.FatalIfErrorf(err)
		fmt.Fprintf(os.Stderr, "loaded %d file(s), %d characters\n", len(files), len(text))
	}
	if sess.Credential() == "" {
		fmt.Fprintln(os.Stderr, "warning: no api key set; prompts will be rejected (use --api-key or CHAT_API_KEY)")
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = shell.New(orchestrator, sess, os.Stdout).Run(runCtx, os.Stdin)
	if err != nil && !errors.Is(err, context.Canceled) {
		ctx.FatalIfErrorf(err)
	}
}

func applyFlags(cfg *utils.Config) {
	if cli.APIKey != "" {
		cfg.Chat.APIKey = cli.APIKey
	}
	if cli.Model != "" {
		cfg.Chat.Model = cli.Model
	}
	if cli.Policy != "" {
		cfg.Context.Policy = cli.Policy
	}
	if cli.Window > 0 {
		cfg.Context.MaxTurns = cli.Window
	}
	if cli.MaxTokens > 0 {
		cfg.Context.MaxTokens = cli.MaxTokens
	}
	// keep stdout for the transcript
	cfg.Logging.Output = "stderr"
	cfg.Logging.Level = "warn"
	if cli.Verbose {
		cfg.Logging.Level = "debug"
	}
}
