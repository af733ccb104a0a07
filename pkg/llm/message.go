package llm

import "strings"

// Conversation is one tool-call loop's accumulated history: the user's
// opening prompt, the assistant's turns (text or tool calls), and every
// tool result fed back. It lives in the session store under the loop's
// messages key.
type Conversation struct {
	messages []Message
}

// NewConversation creates an empty history.
func NewConversation() *Conversation {
	return &Conversation{}
}

// Add appends msg.
func (c *Conversation) Add(msg Message) *Conversation {
	c.messages = append(c.messages, msg)
	return c
}

// AddUser appends content as a user turn.
func (c *Conversation) AddUser(content string) *Conversation {
	return c.Add(UserMessage(content))
}

// AddAssistant appends content as an assistant turn.
func (c *Conversation) AddAssistant(content string) *Conversation {
	return c.Add(AssistantMessage(content))
}

// AddToolResult appends one tool invocation's outcome.
func (c *Conversation) AddToolResult(callID, result string, isError bool) *Conversation {
	return c.Add(ToolResultMessage(callID, result, isError))
}

// Messages returns the history in order.
func (c *Conversation) Messages() []Message {
	return c.messages
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	return len(c.messages)
}

// Last returns the most recent message, or nil on an empty history.
func (c *Conversation) Last() *Message {
	if len(c.messages) == 0 {
		return nil
	}
	return &c.messages[len(c.messages)-1]
}

// TrimToBudget drops the oldest messages until the history's estimated
// token count fits maxTokens, keeping at least the most recent message.
// Leading orphaned tool results (whose requesting assistant turn was
// dropped) go with it. A non-positive budget trims nothing.
func (c *Conversation) TrimToBudget(maxTokens int) *Conversation {
	if maxTokens <= 0 {
		return c
	}
	total := 0
	for _, m := range c.messages {
		total += EstimateTokens(m.Content)
	}
	start := 0
	for start < len(c.messages)-1 && total > maxTokens {
		total -= EstimateTokens(c.messages[start].Content)
		start++
	}
	for start < len(c.messages)-1 && c.messages[start].Role == RoleTool {
		start++
	}
	if start > 0 {
		c.messages = c.messages[start:]
	}
	return c
}

// EstimateTokens roughly counts text's tokens, at about four characters
// per token for English prose and code alike.
func EstimateTokens(text string) int {
	return (len(strings.TrimSpace(text)) + 3) / 4
}
