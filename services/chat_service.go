package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/docchat/internal/models"
	"github.com/wuwenbin0122/docchat/internal/utils"
)

const (
	defaultChatBaseURL = "https://api.groq.com/openai/v1"
	defaultChatModel   = "llama3-70b-8192"
)

// ChatService replays a conversation to an OpenAI compatible chat completion
// endpoint and returns the reply text.
type ChatService struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

// NewChatService constructs a ChatService initialized from cfg.
func NewChatService(cfg utils.ChatConfig, logger *zap.SugaredLogger) *ChatService {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultChatBaseURL
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultChatModel
	}

	if logger == nil {
		logger = utils.NopLogger()
	}

	return &ChatService{
		baseURL:    base,
		model:      model,
		httpClient: newHTTPClientWithTimeout(cfg.Timeout),
		logger:     logger,
	}
}

func (s *ChatService) Model() string {
	return s.model
}

// BuildMessages lays out the request: an optional system message, every stored
// turn as a user/assistant pair in order, then the new prompt.
func BuildMessages(history []models.Turn, prompt, system string) []models.Message {
	messages := make([]models.Message, 0, 2+2*len(history))
	if system != "" {
		messages = append(messages, models.Message{Role: models.RoleSystem, Content: system})
	}
	for _, turn := range history {
		messages = append(messages,
			models.Message{Role: models.RoleUser, Content: turn.User},
			models.Message{Role: models.RoleAssistant, Content: turn.Assistant},
		)
	}
	messages = append(messages, models.Message{Role: models.RoleUser, Content: prompt})
	return messages
}

// Complete sends history plus prompt and returns the content of the first choice.
func (s *ChatService) Complete(ctx context.Context, credential string, history []models.Turn, prompt, system string) (string, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return "", ErrUnauthenticated
	}

	messages := BuildMessages(history, prompt, system)
	request := openai.ChatCompletionRequest{
		Model:    s.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, msg := range messages {
		request.Messages = append(request.Messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	s.logger.Debugw("chat completion request",
		"model", s.model,
		"messages", len(messages),
		"system_chars", len(system),
		"credential", utils.MaskSecret(credential),
	)

	resp, err := s.client(credential).CreateChatCompletion(ctx, request)
	if err != nil {
		return "", translateChatError(err)
	}

	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	reply := resp.Choices[0].Message.Content
	s.logger.Debugw("chat completion response",
		"reply_chars", len(reply),
		"total_tokens", resp.Usage.TotalTokens,
	)

	return reply, nil
}

func (s *ChatService) client(credential string) *openai.Client {
	cfg := openai.DefaultConfig(credential)
	cfg.BaseURL = s.baseURL
	cfg.HTTPClient = s.httpClient
	return openai.NewClientWithConfig(cfg)
}

func translateChatError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return classifyStatus(apiErr.HTTPStatusCode, apiErr.Message)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		detail := ""
		if reqErr.Err != nil {
			detail = reqErr.Err.Error()
		}
		return classifyStatus(reqErr.HTTPStatusCode, detail)
	}

	return fmt.Errorf("call chat api: %w", err)
}
