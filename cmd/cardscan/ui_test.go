package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BJohnRogers/FinalVision/internal/lookup"
	"github.com/BJohnRogers/FinalVision/internal/pipeline"
)

func TestConsoleSink(t *testing.T) {
	var buf bytes.Buffer
	sink := newConsoleSink(&buf, true)

	sink.Deliver(pipeline.Delivery{Outcome: pipeline.Navigate(&lookup.Card{
		Name:        "Lightning Bolt",
		ScryfallURI: "https://scryfall.com/card/lea/161",
	})})
	assert.Equal(t, "✓ Lightning Bolt\n  https://scryfall.com/card/lea/161\n", buf.String())

	buf.Reset()
	sink.Deliver(pipeline.Delivery{Outcome: pipeline.NoTextFound("s-1")})
	assert.Contains(t, buf.String(), "No text found")

	buf.Reset()
	sink.Deliver(pipeline.Delivery{
		Query:   "Lightnig Blot",
		Outcome: pipeline.LookupFailed("s-2", &lookup.Failure{Kind: lookup.FailureHTTPStatus, StatusCode: 404}),
	})
	assert.Contains(t, buf.String(), `"Lightnig Blot"`)
	assert.Contains(t, buf.String(), "404")
}
