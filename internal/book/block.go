package book

// BlockKind classifies a structural unit of document content.
type BlockKind int

const (
	KindParagraph BlockKind = iota
	KindHeading
	KindCode
	KindTable
	KindFormula
	KindList
	KindImageCaption
	KindOther
)

func (k BlockKind) String() string {
	switch k {
	case KindParagraph:
		return "paragraph"
	case KindHeading:
		return "heading"
	case KindCode:
		return "code"
	case KindTable:
		return "table"
	case KindFormula:
		return "formula"
	case KindList:
		return "list"
	case KindImageCaption:
		return "image-caption"
	default:
		return "other"
	}
}

// Block is a structurally typed span of document content prior to filtering.
// Blocks are immutable once produced by the extractor.
type Block struct {
	Kind       BlockKind
	Text       string
	ChapterID  int
	OrderIndex int
}

// Chapter groups the blocks of one spine document.
type Chapter struct {
	ID     int
	Title  string
	Blocks []Block
}

// Document is the fully extracted book: metadata plus ordered chapters.
type Document struct {
	Title    string
	Author   string
	Cover    []byte
	Chapters []Chapter
}

// NarrationUnit is a bounded-length text span ready for synthesis.
type NarrationUnit struct {
	Text           string
	ChapterID      int
	OrderIndex     int
	ParagraphStart bool
	Truncated      bool
}
