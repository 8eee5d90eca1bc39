package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/shopspring/decimal"
	"google.golang.org/api/option"

	"github.com/atmx/agent-market/internal/model"
)

// DefaultGeminiModel is used when no model name is configured.
const DefaultGeminiModel = "gemini-2.0-flash-001"

// generator is the subset of *genai.GenerativeModel the policy calls.
type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Gemini asks a Gemini model for each decision in JSON mode. Transport
// failures surface as ErrUnavailable; replies that are not a legal decision
// surface as ErrInvalid.
type Gemini struct {
	client  *genai.Client
	model   generator
	timeout time.Duration
}

// NewGemini connects to the Gemini API. An empty modelName selects
// DefaultGeminiModel.
func NewGemini(ctx context.Context, apiKey, modelName string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	if modelName == "" {
		modelName = DefaultGeminiModel
	}
	m := client.GenerativeModel(modelName)
	m.ResponseMIMEType = "application/json"
	m.SetTemperature(0.7)

	return &Gemini{client: client, model: m, timeout: 30 * time.Second}, nil
}

// Close releases the underlying client.
func (g *Gemini) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

type geminiReply struct {
	Action  string              `json:"action"`
	Price   decimal.NullDecimal `json:"price"`
	Message string              `json:"message"`
}

func (g *Gemini) Decide(ctx context.Context, c Context) (Decision, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	resp, err := g.model.GenerateContent(ctx, genai.Text(buildPrompt(c)))
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	txt, err := replyText(resp)
	if err != nil {
		return Decision{}, err
	}
	return parseReply(txt)
}

func replyText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("%w: empty response", ErrInvalid)
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: response has no text", ErrInvalid)
	}
	return sb.String(), nil
}

func parseReply(txt string) (Decision, error) {
	var r geminiReply
	if err := json.Unmarshal([]byte(strings.TrimSpace(txt)), &r); err != nil {
		return Decision{}, fmt.Errorf("%w: parse reply: %w", ErrInvalid, err)
	}
	action, err := ParseAction(strings.ToUpper(strings.TrimSpace(r.Action)))
	if err != nil {
		return Decision{}, err
	}
	d := Decision{Action: action, Message: r.Message}
	if r.Price.Valid {
		d.Price = r.Price.Decimal.Round(2)
	}
	return d, nil
}

func buildPrompt(c Context) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, a trading agent in a marketplace simulation.\n", c.Self.Name)
	fmt.Fprintf(&b, "Personality: %s\n", c.Self.Personality)
	fmt.Fprintf(&b, "Your role in this negotiation: %s\n\n", strings.ToLower(string(c.Role)))

	b.WriteString("Current status:\n")
	fmt.Fprintf(&b, "- Capital: $%s\n", c.Self.Capital.StringFixed(2))
	fmt.Fprintf(&b, "- Inventory items: %d\n", len(c.Self.Inventory))
	fmt.Fprintf(&b, "- Total sales: %d, total purchases: %d\n", c.Self.TotalSales, c.Self.TotalPurchases)
	fmt.Fprintf(&b, "- Total profit so far: $%s\n\n", c.Self.TotalProfit.StringFixed(2))

	b.WriteString("Item:\n")
	fmt.Fprintf(&b, "- %s (%s), reference value $%s\n", c.Item.Name, c.Item.Category, c.Item.ReferenceValue.StringFixed(2))
	if c.CostBasis.Valid {
		fmt.Fprintf(&b, "- Your cost basis: $%s\n", c.CostBasis.Decimal.StringFixed(2))
	}
	if c.Asking.Valid {
		fmt.Fprintf(&b, "- Listed at: $%s\n", c.Asking.Decimal.StringFixed(2))
	}
	if c.Floor.Valid {
		fmt.Fprintf(&b, "- Your minimum acceptable price: $%s\n", c.Floor.Decimal.StringFixed(2))
	}
	if avg := c.Market.AvgPrice(c.Item.Category); avg.Valid {
		fmt.Fprintf(&b, "- Recent %s average: $%s, trend %s\n", c.Item.Category, avg.Decimal.StringFixed(2), c.Market.Trend(c.Item.Category))
	} else {
		fmt.Fprintf(&b, "- No recent market data for %s\n", c.Item.Category)
	}
	fmt.Fprintf(&b, "\nRound %d of %d.\n", c.Round, c.MaxRounds)

	if len(c.History) == 0 {
		b.WriteString("No offers yet.\n")
	} else {
		b.WriteString("Offers so far:\n")
		for _, o := range c.History {
			who := "counterparty"
			if o.ProposerID == c.Self.ID {
				who = "you"
			}
			fmt.Fprintf(&b, "- round %d, %s: $%s\n", o.Round, who, o.Price.StringFixed(2))
		}
	}

	if len(c.Memory) > 0 {
		fmt.Fprintf(&b, "\nPast dealings with %s:\n", c.CounterpartyID)
		for _, rec := range c.Memory {
			price := "none"
			if rec.Price.Valid {
				price = "$" + rec.Price.Decimal.StringFixed(2)
			}
			fmt.Fprintf(&b, "- as %s: %s, price %s, %d rounds\n", strings.ToLower(string(rec.Role)), rec.Outcome, price, rec.Rounds)
		}
	}

	b.WriteString("\n")
	if c.Opening() {
		b.WriteString(`Make your opening move: "OFFER" with a price, or "REJECT" to walk away.` + "\n")
	} else {
		fmt.Fprintf(&b, "The counterparty proposes $%s.\n", c.Pending.Price.StringFixed(2))
		b.WriteString(`Respond with "ACCEPT", "COUNTER" with a price, or "REJECT".` + "\n")
	}
	if c.Role == model.RoleBuyer {
		b.WriteString("Never agree to pay more than your capital.\n")
	}

	b.WriteString(`
Respond in JSON only:
{"action": "OFFER" | "ACCEPT" | "COUNTER" | "REJECT", "price": 0.00, "message": "short message to the counterparty"}
`)
	return b.String()
}
