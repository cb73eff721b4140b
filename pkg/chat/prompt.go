package chat

import (
	"strings"

	"github.com/txn2/medicaid-explorer/pkg/llm"
)

// SystemPrompt describes the schema, the query rules and the reply
// contract to the model.
const SystemPrompt = `You are an expert Medicaid data analyst with read access to the Medicaid Provider Spending database: provider-level claims aggregated by billing provider, procedure code and month.

## DATABASE SCHEMA (PostgreSQL)

### claims (one row per billing provider, HCPCS code and month)
| Column | Type | Description |
|--------|------|-------------|
| billing_npi | TEXT | NPI of the billing provider |
| servicing_npi | TEXT | NPI of the servicing provider |
| hcpcs_code | TEXT | HCPCS procedure code |
| claim_month | DATE | First day of the claim month |
| beneficiaries | BIGINT | Unique beneficiaries served |
| total_claims | BIGINT | Claims submitted |
| total_paid | NUMERIC(18,2) | Medicaid payment in USD |

### providers (provider directory)
| Column | Type | Description |
|--------|------|-------------|
| npi | TEXT | Provider NPI, joins claims.billing_npi |
| name | TEXT | Provider or organization name |
| specialty | TEXT | Primary specialty |
| city | TEXT | Practice city |
| state | TEXT | Two-letter state code |

### hcpcs_codes (procedure code directory)
| Column | Type | Description |
|--------|------|-------------|
| code | TEXT | HCPCS code, joins claims.hcpcs_code |
| description | TEXT | Short description |

## EXAMPLE QUERIES

Top 10 providers by total paid:
SELECT c.billing_npi, p.name, SUM(c.total_paid) AS total_paid
FROM claims c LEFT JOIN providers p ON p.npi = c.billing_npi
GROUP BY c.billing_npi, p.name ORDER BY total_paid DESC LIMIT 10

Monthly spending for code 97153:
SELECT claim_month, SUM(total_paid) AS total_paid
FROM claims WHERE hcpcs_code = '97153'
GROUP BY claim_month ORDER BY claim_month LIMIT 120

Providers paid far above their peers for one code:
WITH totals AS (
  SELECT billing_npi, SUM(total_paid) AS paid FROM claims WHERE hcpcs_code = '97153' GROUP BY billing_npi
), stats AS (
  SELECT AVG(paid) AS mu, STDDEV_SAMP(paid) AS sigma FROM totals
)
SELECT t.billing_npi, t.paid, (t.paid - s.mu) / NULLIF(s.sigma, 0) AS z_score
FROM totals t CROSS JOIN stats s ORDER BY z_score DESC NULLS LAST LIMIT 20

## RULES
1. Use PostgreSQL syntax.
2. Write exactly one SELECT (or WITH ... SELECT) statement. Never modify data.
3. Only read the claims, providers and hcpcs_codes tables.
4. Always end the query with LIMIT; use at most 100 rows unless the user asks for more.
5. Round currency to 2 decimal places.
6. When looking for fraud or anomalies compare providers with their peers on the same code; a z-score above 3 is suspicious and above 5 is highly suspicious.
7. Common autism-service codes: 97153 (ABA therapy), 97151 (behavior assessment), 97155 (adaptive behavior treatment with protocol modification).

## RESPONSE FORMAT
Reply with a single JSON object and nothing else:
{
  "thinking": "Brief explanation of your analytical approach",
  "sql": "Your PostgreSQL query",
  "visualization": "table" | "bar_chart" | "line_chart" | "number",
  "chart_config": {"x": "column_name", "y": "column_name", "title": "Chart title"},
  "narrative": "A brief, insightful narrative about what the results mean"
}
chart_config is required for bar_chart and line_chart and ignored otherwise.`

// HistoryConfig bounds the history replayed to the model.
type HistoryConfig struct {
	MaxTurns int
	MaxChars int
}

// BuildMessages converts history plus the new message into alternating
// model messages that start with a user turn. The newest turns are kept
// within the turn and character budgets.
func BuildMessages(history []Turn, message string, cfg HistoryConfig) []llm.Message {
	rendered := make([]llm.Message, 0, len(history))
	for _, t := range history {
		if m, ok := renderTurn(t); ok {
			rendered = append(rendered, m)
		}
	}

	if cfg.MaxTurns > 0 && len(rendered) > cfg.MaxTurns {
		rendered = rendered[len(rendered)-cfg.MaxTurns:]
	}
	if cfg.MaxChars > 0 {
		budget := cfg.MaxChars
		keep := len(rendered)
		for i := len(rendered) - 1; i >= 0; i-- {
			budget -= len(rendered[i].Content)
			if budget < 0 {
				break
			}
			keep = i
		}
		rendered = rendered[keep:]
	}
	for len(rendered) > 0 && rendered[0].Role != llm.RoleUser {
		rendered = rendered[1:]
	}

	rendered = append(rendered, llm.Message{Role: llm.RoleUser, Content: message})
	return mergeSameRole(rendered)
}

// renderTurn replays a turn as model input. Assistant turns are replayed
// as their narrative plus the query they ran.
func renderTurn(t Turn) (llm.Message, bool) {
	switch t.Role {
	case RoleUser:
		content := strings.TrimSpace(t.Content)
		return llm.Message{Role: llm.RoleUser, Content: content}, content != ""
	case RoleAssistant:
		text := strings.TrimSpace(t.Narrative)
		if text == "" {
			text = strings.TrimSpace(t.Content)
		}
		if sql := strings.TrimSpace(t.SQL); sql != "" {
			if text != "" {
				text += "\n\n"
			}
			text += "SQL:\n" + sql
		}
		return llm.Message{Role: llm.RoleAssistant, Content: text}, text != ""
	default:
		return llm.Message{}, false
	}
}

func mergeSameRole(msgs []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Content += "\n\n" + m.Content
			continue
		}
		out = append(out, m)
	}
	return out
}
