package referee_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/MontBlanc-69/onitu/internal/referee"
	"github.com/MontBlanc-69/onitu/internal/store"
)

func TestRulesOwnersMatchesFirstRule(t *testing.T) {
	rules := referee.NewRules([]store.RoutingRule{
		{Match: "/photos/*", Sync: []string{"rep2", "rep1"}},
		{Match: "**", Sync: []string{"rep1"}},
	})

	assert.Equal(t, []string{"rep1", "rep2"}, rules.Owners("/photos/a.jpg"))
	assert.Equal(t, []string{"rep1"}, rules.Owners("/docs/a.txt"))
}

func TestRulesOwnersUnmatchedIsEmpty(t *testing.T) {
	rules := referee.NewRules([]store.RoutingRule{{Match: "/photos/*", Sync: []string{"rep1"}}})
	assert.Empty(t, rules.Owners("/docs/a.txt"))
}
