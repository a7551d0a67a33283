package book

import "strings"

// symbolReplacements expands characters the synthesis engines tend to read as
// formatting artifacts or mispronounce.
var symbolReplacements = strings.NewReplacer(
	"&", " and ",
	"%", " percent",
	"@", " at ",
	"#", " hashtag ",
	"$", " dollars",
	"£", " pounds",
	"€", " euros",
	"~", "",
	"_", " ",
	"*", "",
)

// FilterBlock decides whether a block is narratable and, if so, rewrites it
// into plain sentence-oriented text. The policy is deterministic:
//
//  1. code, table, and formula blocks are dropped entirely;
//  2. headings are retained and act as paragraph boundaries;
//  3. image captions are dropped (misleading when read out of context);
//  4. everything else is normalized and kept unless empty.
func FilterBlock(b Block) (string, bool) {
	switch b.Kind {
	case KindCode, KindTable, KindFormula, KindImageCaption:
		return "", false
	}
	text := NormalizeText(b.Text)
	if text == "" {
		return "", false
	}
	return text, true
}

// NormalizeText expands symbols and collapses all whitespace runs to single
// spaces.
func NormalizeText(text string) string {
	text = symbolReplacements.Replace(text)
	return strings.Join(strings.Fields(text), " ")
}

// BuildUnits runs every block of the document through the filter and the
// segmenter, producing the globally ordered narration units the synthesis
// driver consumes. ParagraphStart is true only on the first unit derived from
// a given source block.
func BuildUnits(doc *Document, maxUnitLength int) []NarrationUnit {
	var units []NarrationUnit
	orderIndex := 0
	for _, chapter := range doc.Chapters {
		for _, block := range chapter.Blocks {
			text, ok := FilterBlock(block)
			if !ok {
				continue
			}
			for i, span := range Segment(text, maxUnitLength) {
				units = append(units, NarrationUnit{
					Text:           span.Text,
					ChapterID:      chapter.ID,
					OrderIndex:     orderIndex,
					ParagraphStart: i == 0,
					Truncated:      span.Truncated,
				})
				orderIndex++
			}
		}
	}
	return units
}
