package morph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConllu = `# newdoc id = doc1
# sent_id = 1
# text = Der Hund bellt.
1	Der	der	DET	ART	Case=Nom|Definite=Def|Gender=Masc|Number=Sing	2	det	_	_
2	Hund	Hund	NOUN	NN	Case=Nom|Gender=Masc|Number=Sing	3	nsubj	_	_
3	bellt	bellen	VERB	VVFIN	Mood=Ind|Number=Sing|Person=3|Tense=Pres	0	root	_	_
4	.	.	PUNCT	$.	_	3	punct	_	_

# sent_id = 2
1-2	zum	_	_	_	_	_	_	_	_
1	zu	zu	ADP	APPR	_	3	case	_	_
2	dem	der	DET	ART	Case=Dat|Definite=Def|Gender=Neut|Number=Sing	3	det	_	_
3	Haus	Haus	NOUN	NN	Case=Dat|Gender=Neut|Number=Sing	0	root	_	_
`

func TestParseConllu(t *testing.T) {
	sentences, err := ParseConllu(sampleConllu)
	require.NoError(t, err)
	require.Len(t, sentences, 2)

	first := sentences[0]
	require.Len(t, first, 4)
	assert.Equal(t, "Der", first[0].Form())
	assert.Equal(t, "DET", first[0].Tag(UposFeature))
	assert.Equal(t, "Nom", first[0].Tag("Case"))
	assert.Equal(t, "Masc", first[0].Tag("Gender"))

	// Punctuation has no features; absent keys read as padding.
	assert.Equal(t, "PUNCT", first[3].Tag(UposFeature))
	assert.Equal(t, PadToken, first[3].Tag("Case"))

	// The multiword range line is dropped, its parts are kept.
	second := sentences[1]
	require.Len(t, second, 3)
	assert.Equal(t, "zu", second[0].Form())
	assert.Equal(t, "dem", second[1].Form())
}

func TestParseConlluMissingUpos(t *testing.T) {
	sentences, err := ParseConllu("1\tword\t_\t_\t_\t_\t0\t_\t_\t_\n")
	require.NoError(t, err)
	require.Len(t, sentences, 1)
	assert.Equal(t, PadToken, sentences[0][0].Tag(UposFeature))
}

func TestParseConlluMalformed(t *testing.T) {
	_, err := ParseConllu("1\tword\tonly-three-columns\n")
	assert.Error(t, err)

	_, err = ParseConllu("1\tw\t_\tNOUN\t_\tbadpair\t0\t_\t_\t_\n")
	assert.Error(t, err)
}

func TestParseConlluEmpty(t *testing.T) {
	sentences, err := ParseConllu("")
	require.NoError(t, err)
	assert.Empty(t, sentences)
}
