package docfork

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/invopop/jsonschema"
)

const (
	minTokens = 100
	maxTokens = 10000
)

// TokenBudget is the query_docs tokens argument: the literal "dynamic", an
// integer between 100 and 10000, or any other string passed through as is.
type TokenBudget struct {
	value string
}

// DynamicTokens lets the API choose the budget.
var DynamicTokens = TokenBudget{value: "dynamic"}

// TokensFromInt returns a numeric budget.
func TokensFromInt(n int) TokenBudget { return TokenBudget{value: strconv.Itoa(n)} }

// String returns the query-string form of the budget.
func (t TokenBudget) String() string { return t.value }

func (t *TokenBudget) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		t.value = strings.TrimSpace(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("tokens must be \"dynamic\" or a number: %w", err)
	}
	i, err := n.Int64()
	if err != nil {
		return fmt.Errorf("tokens must be an integer: %w", err)
	}
	if i < minTokens || i > maxTokens {
		return fmt.Errorf("tokens must be between %d and %d, got %d", minTokens, maxTokens, i)
	}
	t.value = strconv.FormatInt(i, 10)
	return nil
}

func (t TokenBudget) MarshalJSON() ([]byte, error) {
	if n, err := strconv.Atoi(t.value); err == nil {
		return json.Marshal(n)
	}
	return json.Marshal(t.value)
}

// JSONSchema describes the accepted forms.
func (TokenBudget) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		AnyOf: []*jsonschema.Schema{
			{Type: "string", Enum: []any{"dynamic"}},
			{Type: "integer", Minimum: json.Number(strconv.Itoa(minTokens)), Maximum: json.Number(strconv.Itoa(maxTokens))},
			{Type: "string"},
		},
	}
}
