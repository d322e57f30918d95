package services

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/wuwenbin0122/docchat/internal/models"
	"github.com/wuwenbin0122/docchat/internal/session"
	"github.com/wuwenbin0122/docchat/internal/utils"
)

const (
	baseInstruction = "You are a helpful assistant. Use the provided context to answer accurately.\n\n"
	searchKeyword   = "search"
)

type ChatCompleter interface {
	Complete(ctx context.Context, credential string, history []models.Turn, prompt, system string) (string, error)
}

type WebLookup interface {
	Lookup(ctx context.Context, query string) LookupResult
}

// Orchestrator runs one exchange per submitted prompt: it assembles the
// context, calls the chat endpoint and records the turn.
type Orchestrator struct {
	chat   ChatCompleter
	lookup WebLookup
	policy ContextPolicy
	logger *zap.SugaredLogger
}

func NewOrchestrator(chat ChatCompleter, lookup WebLookup, policy ContextPolicy, logger *zap.SugaredLogger) *Orchestrator {
	if policy == nil {
		policy = Unbounded{}
	}
	if logger == nil {
		logger = utils.NopLogger()
	}
	return &Orchestrator{chat: chat, lookup: lookup, policy: policy, logger: logger}
}

// WantsSearch reports whether the prompt mentions "search" anywhere, in any case.
func WantsSearch(prompt string) bool {
	return strings.Contains(strings.ToLower(prompt), searchKeyword)
}

// BuildSystemPrompt prefixes the fixed instruction to the context blocks.
func BuildSystemPrompt(knowledge, webInfo string, withWeb bool) string {
	var builder strings.Builder
	builder.WriteString(baseInstruction)
	if knowledge != "" {
		builder.WriteString("Knowledge from uploaded files:\n")
		builder.WriteString(knowledge)
		builder.WriteString("\n\n")
	}
	if withWeb {
		builder.WriteString("Web info:\n")
		builder.WriteString(webInfo)
		builder.WriteString("\n\n")
	}
	return builder.String()
}

// Handle answers prompt within sess. Nothing is recorded when the call fails.
func (o *Orchestrator) Handle(ctx context.Context, sess *session.Session, prompt string) (models.Turn, error) {
	credential := sess.Credential()
	if credential == "" {
		o.logger.Warnw("prompt rejected without credential", "session", sess.ID())
		return models.Turn{}, ErrUnauthenticated
	}
	if strings.TrimSpace(prompt) == "" {
		return models.Turn{}, ErrEmptyPrompt
	}

	withWeb := WantsSearch(prompt)
	webInfo := ""
	if withWeb {
		result := o.lookup.Lookup(ctx, prompt)
		webInfo = result.Text()
		o.logger.Debugw("web lookup", "session", sess.ID(), "found", result.Found, "failed", result.Err != nil)
	}

	system := BuildSystemPrompt(sess.Knowledge(), webInfo, withWeb)
	history := o.policy.Apply(sess.Turns(), system, prompt)

	reply, err := o.chat.Complete(ctx, credential, history, prompt, system)
	if err != nil {
		o.logger.Warnw("chat completion failed", "session", sess.ID(), "error", err)
		return models.Turn{}, err
	}

	turn := sess.Append(prompt, reply)
	o.logger.Infow("turn recorded",
		"session", sess.ID(),
		"turns", sess.Len(),
		"replayed", len(history),
		"prompt_chars", len(prompt),
		"reply_chars", len(reply),
	)

	return turn, nil
}

// LoadKnowledge replaces the session knowledge with the text of files.
// On failure the previous knowledge is kept.
func (o *Orchestrator) LoadKnowledge(sess *session.Session, files []UploadedFile) (string, error) {
	text, err := ExtractText(files)
	if err != nil {
		o.logger.Warnw("extraction failed", "session", sess.ID(), "error", err)
		return "", err
	}

	sess.SetKnowledge(text)
	o.logger.Infow("knowledge loaded", "session", sess.ID(), "files", len(files), "chars", len(text))
	return text, nil
}
