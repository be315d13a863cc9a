package assistant

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	MaxMessageLength = 1000
	MaxHistory       = 10
	MaxHistoryLength = 2000
)

// SystemPrompt frames the assistant as the storefront's parts expert and defines the
// SEARCH block it emits for product lookups.
const SystemPrompt = `You are Car Parts AI Assistant, an expert assistant for an automotive car parts store. Help customers:

1. Find the right parts by make, model, year, or part type
2. Understand basic installation steps and compatibility
3. Use the store: browsing, cart, checkout, order history, reviews, account settings
4. Answer questions about ordering, shipping, and returns
5. Understand part specifications, materials, and performance

Guidelines:
- Be friendly, professional, and accurate
- If unsure about technical details, recommend a professional mechanic
- Keep answers concise
- Put safety first when discussing installation

You cannot place orders or read account data. Point users to the store's own pages for those.

When the user asks to find or look up products, end your answer with a search block in exactly this format:

` + "```SEARCH" + `
{"search":"keyword","brand":"optional brand","condition":"new or used","minPrice":0,"maxPrice":100}
` + "```" + `

Only include fields the user actually specified. "search" is the main part keyword. Place the block after your
text, and never add it for general questions or navigation help.`

var searchBlock = regexp.MustCompile("(?i)```\\s*SEARCH\\s*\\n?([\\s\\S]*?)\\n?\\s*```")

// SearchRequest is the JSON inside a SEARCH block
type SearchRequest struct {
	Search    string           `json:"search"`
	Brand     string           `json:"brand"`
	Condition string           `json:"condition"`
	MinPrice  *decimal.Decimal `json:"minPrice"`
	MaxPrice  *decimal.Decimal `json:"maxPrice"`
}

// ExtractSearch removes the first SEARCH block from a reply. The returned request is nil
// when there is no block or its JSON does not parse; the block is stripped either way.
func ExtractSearch(reply string) (string, *SearchRequest) {
	loc := searchBlock.FindStringSubmatchIndex(reply)
	if loc == nil {
		return reply, nil
	}

	display := strings.TrimSpace(reply[:loc[0]] + reply[loc[1]:])
	payload := strings.TrimSpace(reply[loc[2]:loc[3]])

	var req SearchRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return display, nil
	}
	return display, &req
}

// BuildConversation prepends the system prompt, keeps the last MaxHistory user and
// assistant turns with each one clipped, and appends the trimmed user message.
func BuildConversation(message string, history []Message) []Message {
	kept := make([]Message, 0, len(history))
	for _, m := range history {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			continue
		}
		kept = append(kept, Message{Role: m.Role, Content: clip(m.Content, MaxHistoryLength)})
	}
	if len(kept) > MaxHistory {
		kept = kept[len(kept)-MaxHistory:]
	}

	out := make([]Message, 0, len(kept)+2)
	out = append(out, Message{Role: RoleSystem, Content: SystemPrompt})
	out = append(out, kept...)
	out = append(out, Message{Role: RoleUser, Content: TrimMessage(message)})
	return out
}

// TrimMessage trims whitespace and caps the length
func TrimMessage(message string) string {
	return clip(strings.TrimSpace(message), MaxMessageLength)
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
