package importer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romcoding/architex/pkg/types"
)

func TestParseMarkdownFile_Frontmatter(t *testing.T) {
	src := []byte(`---
title: API Gateway Best Practices
type: best_practice
category: Integration
tags: [api, gateway]
public: false
depends_on:
  - Microservices Architecture Pattern
conflicts_with: Direct Client Calls, API Gateway Best Practices
---

# Gateway

Route through one entry point. See [[Rate Limiting|limits]] and
[[Microservices Architecture Pattern]]. #edge #API
`)

	pf, err := ParseMarkdownFile(src, "integration/api-gateway.md")
	require.NoError(t, err)

	assert.Equal(t, "API Gateway Best Practices", pf.Title)
	assert.Equal(t, types.AssetTypeBestPractice, pf.Type)
	assert.Equal(t, "Integration", pf.Category)
	assert.False(t, pf.Public)
	assert.Equal(t, []string{"api", "gateway", "edge"}, pf.Tags)
	assert.Contains(t, pf.Content, "See limits and\nMicroservices Architecture Pattern.")
	assert.NotContains(t, pf.Content, "title:")

	assert.Equal(t, []Reference{
		{Target: "Microservices Architecture Pattern", Type: types.RelDependsOn},
		{Target: "Direct Client Calls", Type: types.RelConflictsWith},
		{Target: "Rate Limiting", Type: types.RelComplements, Note: "limits"},
		{Target: "Microservices Architecture Pattern", Type: types.RelComplements},
	}, pf.References, "self references are dropped")
}

func TestParseMarkdownFile_Fallbacks(t *testing.T) {
	pf, err := ParseMarkdownFile([]byte("# Event Sourcing\n\nStore every change."), "data/event-sourcing.md")
	require.NoError(t, err)
	assert.Equal(t, "Event Sourcing", pf.Title)
	assert.Equal(t, types.AssetTypePattern, pf.Type)
	assert.Equal(t, "data", pf.Category)
	assert.True(t, pf.Public)

	pf, err = ParseMarkdownFile([]byte("No heading here."), "circuit_breaker.md")
	require.NoError(t, err)
	assert.Equal(t, "circuit breaker", pf.Title)
	assert.Equal(t, "General", pf.Category)
	assert.Empty(t, pf.References)
}

func TestParseMarkdownFile_Errors(t *testing.T) {
	_, err := ParseMarkdownFile([]byte("---\ntitle: [unclosed\n---\nbody"), "bad.md")
	assert.Error(t, err)

	_, err = ParseMarkdownFile([]byte("---\ntype: essay\n---\nbody"), "essay.md")
	var ve *types.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestParseMarkdownFile_UnclosedFrontmatterIsBody(t *testing.T) {
	pf, err := ParseMarkdownFile([]byte("---\njust a rule\n"), "rule.md")
	require.NoError(t, err)
	assert.Equal(t, "rule", pf.Title)
	assert.Contains(t, pf.Content, "just a rule")
}

func TestBodyReferences(t *testing.T) {
	text, refs := bodyReferences("Use [[CQRS]] with [[Event Sourcing#Snapshots|snapshots]], not [[ | empty]].")

	assert.Equal(t, "Use CQRS with snapshots, not empty.", text)
	assert.Equal(t, []Reference{
		{Target: "CQRS", Type: types.RelComplements},
		{Target: "Event Sourcing", Type: types.RelComplements, Note: "snapshots"},
	}, refs)

	text, refs = bodyReferences("no links here")
	assert.Equal(t, "no links here", text)
	assert.Empty(t, refs)
}

func TestParseMarkdownFile_RepeatedLinkKeepsFirstLabel(t *testing.T) {
	pf, err := ParseMarkdownFile([]byte("# Saga\n\n[[Outbox|relay]] and later [[outbox]]."), "saga.md")
	require.NoError(t, err)
	assert.Contains(t, pf.Content, "relay and later outbox.")
	assert.Equal(t, []Reference{{Target: "Outbox", Type: types.RelComplements, Note: "relay"}}, pf.References)
}
