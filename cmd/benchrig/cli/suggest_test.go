// Copyright 2026 The Benchrig Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"abc", "abc", 0},
		{"abc", "abd", 1}, // substitution
		{"abc", "ab", 1},  // deletion
		{"ab", "abc", 1},  // insertion
		{"abc", "bac", 2}, // transposition (counted as 2 edits)
		{"kitten", "sitting", 3},
		{"provision", "provsion", 1},
		{"validate", "validte", 1},
		{"run", "rnu", 2},
	}

	for _, test := range tests {
		t.Run(test.a+"/"+test.b, func(t *testing.T) {
			got := levenshtein(test.a, test.b)
			if got != test.want {
				t.Errorf("levenshtein(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
			}
		})
	}
}

func TestLevenshtein_Symmetric(t *testing.T) {
	pairs := [][2]string{
		{"abc", "abd"},
		{"hello", "helo"},
		{"validate", "validte"},
	}

	for _, pair := range pairs {
		forward := levenshtein(pair[0], pair[1])
		reverse := levenshtein(pair[1], pair[0])
		if forward != reverse {
			t.Errorf("levenshtein(%q, %q) = %d, but reverse = %d",
				pair[0], pair[1], forward, reverse)
		}
	}
}

func TestSuggestCommand(t *testing.T) {
	commands := []*Command{
		{Name: "run"},
		{Name: "provision"},
		{Name: "validate"},
		{Name: "version"},
	}

	tests := []struct {
		input string
		want  string
	}{
		{"provsion", "provision"},
		{"validte", "validate"},
		{"versoin", "version"},
		{"completely-unrelated", ""},
	}

	for _, test := range tests {
		got := suggestCommand(test.input, commands)
		if got != test.want {
			t.Errorf("suggestCommand(%q) = %q, want %q", test.input, got, test.want)
		}
	}
}

func TestSuggestFlag(t *testing.T) {
	newFlags := func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
		flagSet.String("config", "", "config path")
		flagSet.Bool("skip-notify", false, "skip webhook notification")
		flagSet.String("result-log", "", "JSONL result log path")
		return flagSet
	}

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"--confg", "x"}, "--config"},
		{[]string{"--skip-notfy"}, "--skip-notify"},
		{[]string{"--result-lgo=out.jsonl"}, "--result-log"},
		{[]string{"--config", "x"}, ""},           // defined flag: no suggestion
		{[]string{"--zzzzzzzzzz"}, ""},            // nothing close
		{[]string{"positional", "--confg"}, "--config"}, // skips non-flag args
	}

	for _, test := range tests {
		got := suggestFlag(test.args, newFlags())
		if got != test.want {
			t.Errorf("suggestFlag(%v) = %q, want %q", test.args, got, test.want)
		}
	}
}
