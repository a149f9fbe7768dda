package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/piskevalee-cpu/MARK/core"
)

// Conversation is one saved exchange.
type Conversation struct {
	ID               int64
	Provider         string
	Model            string
	UserMessage      string
	AssistantMessage string
	CreatedAt        time.Time
}

// UsageStat aggregates API usage per provider and model.
type UsageStat struct {
	Provider     string
	Model        string
	Requests     int
	InputTokens  int
	OutputTokens int
}

// SaveConversation records a completed exchange.
func (s *Store) SaveConversation(ctx context.Context, provider, model, userMessage, assistantMessage string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (provider, model, user_message, assistant_message, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		provider, model, userMessage, assistantMessage, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

// RecentConversations returns the latest n exchanges in chronological order.
func (s *Store) RecentConversations(ctx context.Context, n int) ([]Conversation, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, provider, model, user_message, assistant_message, created_at
		 FROM (SELECT * FROM conversations ORDER BY id DESC LIMIT ?)
		 ORDER BY id`, n)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		var createdAt string
		if err := rows.Scan(&c.ID, &c.Provider, &c.Model, &c.UserMessage, &c.AssistantMessage, &createdAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			c.CreatedAt = t
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// RecordUsage logs token consumption for one API call.
func (s *Store) RecordUsage(ctx context.Context, provider, model string, usage core.TokenUsage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_usage (provider, model, input_tokens, output_tokens, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		provider, model, usage.InputTokens, usage.OutputTokens,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// UsageStats aggregates usage per provider and model.
func (s *Store) UsageStats(ctx context.Context) ([]UsageStat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, model, COUNT(*), SUM(input_tokens), SUM(output_tokens)
		 FROM api_usage GROUP BY provider, model ORDER BY provider, model`)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	var stats []UsageStat
	for rows.Next() {
		var st UsageStat
		if err := rows.Scan(&st.Provider, &st.Model, &st.Requests, &st.InputTokens, &st.OutputTokens); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}
