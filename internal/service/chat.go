package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/dermascan/internal/apperr"
	"github.com/iliyamo/dermascan/internal/llm"
	"github.com/iliyamo/dermascan/internal/metrics"
)

const (
	defaultChatModel = "qwen-max"
	chatHistoryLimit = 10
)

const chatSystemPrompt = `You are a medical AI assistant for a dermatology image analysis platform.
Help users understand skin analysis results and confidence scores, explain medical terms in plain language,
and say when to see a dermatologist. This is a screening tool, not a diagnosis; always encourage
professional care for concerning results. Keep answers to 2-4 sentences unless asked for detail.`

const (
	chatUnavailable = "I'm experiencing some technical difficulties connecting to my knowledge base. " +
		"For immediate medical concerns, please contact your healthcare provider directly. 🏥\n\n" +
		"I'll be back to help you with skin analysis questions soon! 🔬"
	chatEmptyReply = "I'm here to help with your dermatology questions! Feel free to ask me about:\n\n" +
		"• Understanding your skin analysis results\n• Interpreting confidence scores\n" +
		"• When to consult a dermatologist\n• Improving image quality for analysis\n" +
		"• General skin health guidance\n\nWhat would you like to know? 🩺"
)

// ChatContext describes where the user is asking from.  PredictionDetails is
// injected into the system prompt when present.
type ChatContext struct {
	CurrentPage       string         `json:"current_page"`
	AppType           string         `json:"app_type"`
	Specialization    string         `json:"specialization"`
	PredictionDetails map[string]any `json:"predictionDetails"`
}

type ChatInput struct {
	Message string        `json:"message"`
	History []llm.Message `json:"conversation_history"`
	Context ChatContext   `json:"context"`
}

type ChatReply struct {
	Response  string `json:"response"`
	Timestamp string `json:"timestamp,omitempty"`
	Model     string `json:"model,omitempty"`
}

// ChatService answers free-form questions through the LLM.
type ChatService struct {
	llm   Completer
	model string
	log   *zap.Logger
	now   func() time.Time
}

func NewChatService(completer Completer, modelName string, log *zap.Logger) *ChatService {
	if modelName == "" {
		modelName = defaultChatModel
	}
	return &ChatService{llm: completer, model: modelName, log: log, now: time.Now}
}

// Reply sends the message with at most the last ten history turns.  An LLM
// failure is answered with a canned message rather than an error.
func (s *ChatService) Reply(ctx context.Context, in ChatInput) (ChatReply, error) {
	msg := strings.TrimSpace(in.Message)
	if msg == "" {
		return ChatReply{}, apperr.Validation("Message is required")
	}

	history := in.History
	if len(history) > chatHistoryLimit {
		history = history[len(history)-chatHistoryLimit:]
	}
	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: chatSystemPrompt + chatContextBlock(in.Context)})
	for _, h := range history {
		if h.Role != llm.RoleUser && h.Role != llm.RoleAssistant {
			continue
		}
		msgs = append(msgs, h)
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: in.Message})

	out, err := s.llm.Complete(ctx, llm.Request{
		Model:       s.model,
		Messages:    msgs,
		Temperature: 0.7,
		MaxTokens:   800,
		TopP:        0.9,
	})
	if err != nil {
		metrics.UpstreamFailures.WithLabelValues("llm").Inc()
		s.log.Warn("chat completion failed", zap.Error(err))
		return ChatReply{Response: chatUnavailable}, nil
	}
	if strings.TrimSpace(out) == "" {
		out = chatEmptyReply
	}
	return ChatReply{
		Response:  out,
		Timestamp: s.now().UTC().Format(time.RFC3339Nano),
		Model:     s.model,
	}, nil
}

func chatContextBlock(c ChatContext) string {
	var b strings.Builder
	page := c.CurrentPage
	if page == "" {
		page = "the application"
	}
	fmt.Fprintf(&b, "\n\nCONTEXT: User is currently on %s page.", page)
	if c.AppType != "" {
		fmt.Fprintf(&b, "\nApplication type: %s", c.AppType)
	}
	if c.Specialization != "" {
		fmt.Fprintf(&b, "\nFocus area: %s", c.Specialization)
	}
	if len(c.PredictionDetails) > 0 {
		keys := make([]string, 0, len(c.PredictionDetails))
		for k := range c.PredictionDetails {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n\nPATIENT ANALYSIS CONTEXT:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %v\n", strings.ReplaceAll(k, "_", " "), c.PredictionDetails[k])
		}
	}
	return b.String()
}
