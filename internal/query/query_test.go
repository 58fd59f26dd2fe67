package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BJohnRogers/FinalVision/internal/ocr"
)

func extracted(lines ...string) *ocr.ExtractedText {
	blocks := make([]ocr.TextBlock, 0, len(lines))
	for _, l := range lines {
		blocks = append(blocks, ocr.TextBlock{Text: l})
	}
	return ocr.NewExtractedText(blocks)
}

func TestBuild(t *testing.T) {
	tests := []struct {
		name       string
		text       *ocr.ExtractedText
		normalized string
		encoded    string
	}{
		{"simple name", extracted("Lightning Bolt"), "Lightning Bolt", "Lightning%20Bolt"},
		{"padded and tabbed", extracted("  Lightning \t  Bolt  "), "Lightning Bolt", "Lightning%20Bolt"},
		{"multiple blocks", extracted("Lightning Bolt", "Instant"), "Lightning Bolt Instant", "Lightning%20Bolt%20Instant"},
		{"reserved characters", extracted("Fire // Ice"), "Fire // Ice", "Fire%20%2F%2F%20Ice"},
		{"query delimiters", extracted("R&D=1+1?"), "R&D=1+1?", "R%26D%3D1%2B1%3F"},
		{"apostrophe and accents", extracted("Jötun Grunt's"), "Jötun Grunt's", "J%C3%B6tun%20Grunt%27s"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q, err := Build(tc.text)
			require.NoError(t, err)
			assert.Equal(t, tc.normalized, q.Normalized)
			assert.Equal(t, tc.encoded, q.Encoded)
		})
	}
}

func TestBuildIsIdempotent(t *testing.T) {
	text := extracted("  Serra   Angel ", "Creature — Angel")

	first, err := Build(text)
	require.NoError(t, err)
	second, err := Build(text)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Normalizing an already normalized query is a no-op.
	again, err := FromString(first.Normalized)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestBuildEmpty(t *testing.T) {
	for _, text := range []*ocr.ExtractedText{
		nil,
		extracted(),
		extracted("   ", "\t\n"),
		{Text: " \n \t "},
	} {
		_, err := Build(text)
		assert.ErrorIs(t, err, ErrEmpty)
		_, err = BuildName(text)
		assert.ErrorIs(t, err, ErrEmpty)
	}
}

func TestBuildName(t *testing.T) {
	q, err := BuildName(extracted("  Lightning  Bolt\nInstant", "Lightning Bolt deals 3 damage"))
	require.NoError(t, err)
	assert.Equal(t, "Lightning Bolt", q.Normalized)
	assert.Equal(t, "Lightning%20Bolt", q.Encoded)
}

func TestBuilder(t *testing.T) {
	text := extracted("Lightning Bolt", "Instant")

	q, err := Builder(ModeName)(text)
	require.NoError(t, err)
	assert.Equal(t, "Lightning Bolt", q.String())

	q, err = Builder(ModeFull)(text)
	require.NoError(t, err)
	assert.Equal(t, "Lightning Bolt Instant", q.String())

	q, err = Builder("other")(text)
	require.NoError(t, err)
	assert.Equal(t, "Lightning Bolt Instant", q.String())
}
