package memory_test

import (
	"testing"

	"github.com/piskevalee-cpu/MARK/memory"
)

func TestNormalizer_Rewrites(t *testing.T) {
	n := memory.NewNormalizer("the user")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"subject with verb agreement", "I like Python", "The user likes Python"},
		{"irregular am", "I am happy", "The user is happy"},
		{"irregular have", "I have two cats", "The user has two cats"},
		{"negated verb", "I don't like spam", "The user doesn't like spam"},
		{"contraction I'm", "I'm a software engineer", "The user is a software engineer"},
		{"contraction I've", "I've been to Japan", "The user has been to Japan"},
		{"contraction I'll", "I'll be in Rome next week", "The user will be in Rome next week"},
		{"possessive my", "my favorite color is blue", "The user's favorite color is blue"},
		{"object me mid-sentence", "you can call me Marco", "you can call the user Marco"},
		{"possessive mine", "that book is mine", "that book is the user's"},
		{"past tense untouched", "I went to Paris", "The user went to Paris"},
		{"multiple sentences", "I like tea. I hate coffee.", "The user likes tea. The user hates coffee."},
		{"es orthography", "I go to the gym", "The user goes to the gym"},
		{"ies orthography", "I try to sleep early", "The user tries to sleep early"},
		{"no first person", "Python is a great language", "Python is a great language"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := n.Normalize(tt.in)
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizer_WordBoundaries(t *testing.T) {
	n := memory.NewNormalizer("the user")

	// First-person forms embedded in longer words must not match.
	tests := []string{
		"the miner found gold",
		"time flies when coding",
		"mystery novels are fun",
		"the submarine dives deep",
	}
	for _, in := range tests {
		if got := n.Normalize(in); got != in {
			t.Errorf("Normalize(%q) = %q, want unchanged", in, got)
		}
	}
}

func TestNormalizer_QuotedTextUntouched(t *testing.T) {
	n := memory.NewNormalizer("the user")

	tests := []struct {
		in   string
		want string
	}{
		{`I said "I love it"`, `The user said "I love it"`},
		{"I use `git commit -m 'my fix'` daily", "The user uses `git commit -m 'my fix'` daily"},
	}
	for _, tt := range tests {
		if got := n.Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizer_Idempotent(t *testing.T) {
	n := memory.NewNormalizer("the user")

	inputs := []string{
		"I like Python",
		"I'm from Naples and my dog is called Argo",
		"you can call me Marco",
		"no pronouns here at all",
	}
	for _, in := range inputs {
		once := n.Normalize(in)
		twice := n.Normalize(once)
		if once != twice {
			t.Errorf("normalization not idempotent for %q: first %q, second %q", in, once, twice)
		}
	}
}

func TestNormalizer_CustomLabel(t *testing.T) {
	n := memory.NewNormalizer("Marco")
	if got := n.Normalize("I like Python"); got != "Marco likes Python" {
		t.Errorf("got %q, want %q", got, "Marco likes Python")
	}

	// Empty label falls back to the default.
	d := memory.NewNormalizer("")
	if got := d.Normalize("I like Python"); got != "The user likes Python" {
		t.Errorf("default label: got %q", got)
	}
}
