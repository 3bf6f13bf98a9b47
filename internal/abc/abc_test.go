package abc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitTunebook_NoXMarker(t *testing.T) {
	blocks := SplitTunebook("just some html, no tunes here")
	assert.Nil(t, blocks)
}

func TestSplitTunebook_MultipleTunes(t *testing.T) {
	doc := "preamble\nX:1\nT:First\nK:C\nCDEF|\nX:2\nT:Second\nK:G\nGABc|"
	blocks := SplitTunebook(doc)
	require.Len(t, blocks, 2)
	assert.Contains(t, blocks[0], "T:First")
	assert.Contains(t, blocks[1], "T:Second")
	assert.True(t, blocks[0][:2] == "X:")
}

func TestSplitTunebook_RejectsXWithoutDigit(t *testing.T) {
	doc := "X:see our full catalog\nT:Not A Tune\nK:C\nabcd|abcd|abcd|abcd|abcd|"
	blocks := SplitTunebook(doc)
	assert.Nil(t, blocks)
}

func TestSplitTunebook_RejectsXDigitWithoutCorroboration(t *testing.T) {
	doc := "X:42\nnothing here but prose, no title or key header and no bars at all"
	blocks := SplitTunebook(doc)
	assert.Nil(t, blocks)
}

func TestSplitTunebook_AcceptsXDigitWithTitleHeader(t *testing.T) {
	doc := "X:1\nT:A Reel\nCDEF GABc"
	blocks := SplitTunebook(doc)
	require.Len(t, blocks, 1)
}

func TestSplitTunebook_AcceptsXDigitWithKeyHeader(t *testing.T) {
	doc := "X:1\nK:D\nCDEF GABc"
	blocks := SplitTunebook(doc)
	require.Len(t, blocks, 1)
}

func TestSplitTunebook_AcceptsXDigitWithFiveBars(t *testing.T) {
	doc := "X:1\nCDEF|GABc|CDEF|GABc|CDEF|"
	blocks := SplitTunebook(doc)
	require.Len(t, blocks, 1)
}

func TestSplitTunebook_NormalizesLineEndingsAndStripsHTML(t *testing.T) {
	doc := "<p>preamble</p>\r\nX:1\r\nT:First\r\nK:C\r\nCDEF|\r\n<br>X:2\r\nT:Second\r\nK:G\r\nGABc|"
	blocks := SplitTunebook(doc)
	require.Len(t, blocks, 2)
	assert.NotContains(t, blocks[0], "<")
	assert.NotContains(t, blocks[1], "<")
}

func TestSplitTunebook_CapsAtMaxTunesPerPage(t *testing.T) {
	doc := "X:1\nT:A\n"
	for i := 0; i < MaxTunesPerPage+50; i++ {
		doc += "X:1\nT:A\n"
	}
	blocks := SplitTunebook(doc)
	assert.LessOrEqual(t, len(blocks), MaxTunesPerPage)
}

func TestParseTune_HeaderMapping(t *testing.T) {
	raw := "X:1\nT:The Kesh Jig\nC:Trad.\nR:Jig\nK:G\nGAB c2A|BAG GAB|"
	tune := ParseTune(raw)

	assert.Equal(t, "The Kesh Jig", tune.Title)
	assert.Equal(t, "Trad.", tune.Metadata["composer"])
	assert.Equal(t, "Jig", tune.Metadata["rhythm"])
	assert.Equal(t, "G", tune.Metadata["key"])
	assert.False(t, tune.Skipped)
	assert.NotEmpty(t, tune.TuneBody)
}

func TestParseTune_DefaultsTitleWhenMissing(t *testing.T) {
	tune := ParseTune("X:1\nK:C\nCDEF|")
	assert.Equal(t, "Untitled", tune.Title)
}

func TestParseTune_FirstTitleWins(t *testing.T) {
	tune := ParseTune("X:1\nT:First Title\nT:Second Title\nK:C\nCDEF|")
	assert.Equal(t, "First Title", tune.Title)
}

func TestParseTune_StripsHeaderComments(t *testing.T) {
	raw := "X:1\nT:The Kesh Jig % scraped from a session page\nK:G % G major\nGAB c2A|BAG GAB|"
	tune := ParseTune(raw)

	assert.Equal(t, "The Kesh Jig", tune.Title)
	assert.Equal(t, "G", tune.Metadata["key"])
}

func TestParseTune_DropsNonMusicalBodyLines(t *testing.T) {
	raw := "X:1\nT:Annotated\nK:C\nGAB c2A|BAG GAB|\nSource: collected from a fiddler in 1998\nCDEF|"
	tune := ParseTune(raw)

	assert.NotContains(t, tune.TuneBody, "collected from a fiddler")
	assert.Contains(t, tune.TuneBody, "GAB c2A|BAG GAB|")
	assert.Contains(t, tune.TuneBody, "CDEF|")
}

func TestParseTune_KeepsShortBarLine(t *testing.T) {
	raw := "X:1\nT:Short\nK:C\nA|"
	tune := ParseTune(raw)
	assert.Contains(t, tune.TuneBody, "A|")
}

func TestParseTune_NormalizesLineEndings(t *testing.T) {
	raw := "X:1\r\nT:Windows Line Endings\r\nK:C\r\nCDEF|\r\n"
	tune := ParseTune(raw)
	assert.Equal(t, "Windows Line Endings", tune.Title)
	assert.Contains(t, tune.TuneBody, "CDEF|")
}

func TestParseTune_StripsHTMLTagsFromBody(t *testing.T) {
	raw := "X:1\nT:Scraped\nK:C\nCDEF|<br>GABc|"
	tune := ParseTune(raw)
	assert.NotContains(t, tune.TuneBody, "<br>")
	assert.Contains(t, tune.TuneBody, "CDEF|")
	assert.Contains(t, tune.TuneBody, "GABc|")
}

func TestParseTune_SkipsTooLarge(t *testing.T) {
	body := "X:1\nT:Huge\nK:C\n"
	for len(body) <= MaxTuneChars {
		body += "CDEFGABC|"
	}
	tune := ParseTune(body)
	assert.True(t, tune.Skipped)
	assert.Equal(t, SkipReasonTooLarge, tune.SkipReason)
	assert.Nil(t, tune.Pitches)
}

func TestParseTune_SkipsTooManyLines(t *testing.T) {
	body := "X:1\nT:Long\nK:C\n"
	for i := 0; i < MaxTuneLines+10; i++ {
		body += "C|\n"
	}
	tune := ParseTune(body)
	assert.True(t, tune.Skipped)
	assert.Equal(t, SkipReasonTooManyLines, tune.SkipReason)
}

func TestParseTune_SkipsTooManyVoices(t *testing.T) {
	body := "X:1\nT:Multi\nK:C\n"
	for i := 0; i <= MaxTuneVoices+1; i++ {
		body += "V:voice\nCDEF|\n"
	}
	tune := ParseTune(body)
	assert.True(t, tune.Skipped)
	assert.Equal(t, SkipReasonTooManyVoices, tune.SkipReason)
}

func TestExtractPitches_NaturalNotes(t *testing.T) {
	tune := ParseTune("X:1\nT:Scale\nK:C\nCDEFGAB|")
	require.NotEmpty(t, tune.Pitches)
	expected := []int64{48, 50, 52, 53, 55, 57, 59}
	assert.Equal(t, expected, tune.Pitches)
}

func TestExtractPitches_LowercaseIsHigherOctave(t *testing.T) {
	tune := ParseTune("X:1\nT:Scale\nK:C\ncdefgab|")
	require.NotEmpty(t, tune.Pitches)
	expected := []int64{60, 62, 64, 65, 67, 69, 71}
	assert.Equal(t, expected, tune.Pitches)
}

func TestExtractPitches_Accidentals(t *testing.T) {
	tune := ParseTune("X:1\nT:Sharps\nK:C\n^C_D=E|")
	require.Len(t, tune.Pitches, 3)
	assert.Equal(t, int64(49), tune.Pitches[0]) // ^C
	assert.Equal(t, int64(49), tune.Pitches[1]) // _D
	assert.Equal(t, int64(52), tune.Pitches[2]) // =E
}

func TestExtractPitches_OctaveMarks(t *testing.T) {
	tune := ParseTune("X:1\nT:Octaves\nK:C\nC'C,|")
	require.Len(t, tune.Pitches, 2)
	assert.Equal(t, int64(60), tune.Pitches[0]) // C'
	assert.Equal(t, int64(36), tune.Pitches[1]) // C,
}

func TestExtractPitches_RestsAreIgnored(t *testing.T) {
	tune := ParseTune("X:1\nT:Rests\nK:C\nCzxD|")
	assert.Equal(t, []int64{48, 50}, tune.Pitches)
}

func TestParsePitchString_RoundTrip(t *testing.T) {
	assert.Equal(t, []int64{1, 2, -3}, ParsePitchString("1,2,-3"))
	assert.Nil(t, ParsePitchString(""))
}
