package book

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/simp-lee/epub"
)

// ErrMalformedDocument indicates the input could not be parsed as a valid
// e-book. It is fatal: the pipeline produces no output.
var ErrMalformedDocument = errors.New("malformed document")

// Extract reads an EPUB file and returns its narratable structure: metadata,
// spine-ordered chapters, and per-chapter content blocks. Block order indexes
// are global across the whole document, gap-free from 0. Chapters whose
// narratable text is shorter than minChapterChars are dropped entirely.
func Extract(path string, minChapterChars int) (*Document, error) {
	bk, err := epub.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	defer bk.Close()

	doc := &Document{}
	md := bk.Metadata()
	if len(md.Titles) > 0 {
		doc.Title = md.Titles[0]
	}
	if len(md.Authors) > 0 {
		names := make([]string, len(md.Authors))
		for i, a := range md.Authors {
			names[i] = a.Name
		}
		doc.Author = strings.Join(names, ", ")
	}
	if cover, err := bk.Cover(); err == nil {
		doc.Cover = cover.Data
	}

	for _, ch := range bk.Chapters() {
		raw, err := ch.RawContent()
		if err != nil {
			return nil, fmt.Errorf("%w: chapter %q: %v", ErrMalformedDocument, ch.Title, err)
		}
		blocks, err := classifyHTML([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: chapter %q: %v", ErrMalformedDocument, ch.Title, err)
		}
		if narratableLength(blocks) < minChapterChars {
			continue
		}
		doc.Chapters = append(doc.Chapters, Chapter{Title: strings.TrimSpace(ch.Title), Blocks: blocks})
	}

	if len(doc.Chapters) == 0 {
		return nil, fmt.Errorf("%w: no narratable chapters", ErrMalformedDocument)
	}
	numberBlocks(doc)
	return doc, nil
}

// numberBlocks assigns chapter ids, fallback titles, and the document-global
// block order after chapter filtering, so order indexes are gap-free from 0.
func numberBlocks(doc *Document) {
	orderIndex := 0
	for i := range doc.Chapters {
		ch := &doc.Chapters[i]
		ch.ID = i
		if ch.Title == "" {
			ch.Title = fmt.Sprintf("Chapter %d", i+1)
		}
		for j := range ch.Blocks {
			ch.Blocks[j].ChapterID = i
			ch.Blocks[j].OrderIndex = orderIndex
			orderIndex++
		}
	}
}

// narratableLength measures how much text the filter would actually keep, so
// front matter made of tables and images does not count as a chapter.
func narratableLength(blocks []Block) int {
	total := 0
	for _, b := range blocks {
		if text, ok := FilterBlock(b); ok {
			total += len(text)
		}
	}
	return total
}

// classifyHTML parses one chapter's XHTML and emits blocks in document order.
// Kind assignment follows the element that carries the text; containers are
// walked recursively.
func classifyHTML(raw []byte) ([]Block, error) {
	gq, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	// Footnote markers and invisible elements are noise when read aloud.
	gq.Find("script, style, meta, link, svg, sup, sub").Remove()

	root := gq.Find("body")
	if root.Length() == 0 {
		root = gq.Selection
	}

	var blocks []Block
	root.Children().Each(func(_ int, s *goquery.Selection) {
		walk(s, &blocks)
	})
	return blocks, nil
}

func walk(s *goquery.Selection, blocks *[]Block) {
	switch name := goquery.NodeName(s); name {
	case "p":
		appendBlock(blocks, KindParagraph, s.Text())
	case "h1", "h2", "h3", "h4", "h5", "h6":
		appendBlock(blocks, KindHeading, s.Text())
	case "pre", "code", "samp", "kbd", "var":
		appendBlock(blocks, KindCode, s.Text())
	case "table":
		appendBlock(blocks, KindTable, s.Text())
	case "math":
		appendBlock(blocks, KindFormula, s.Text())
	case "ul", "ol", "dl":
		appendBlock(blocks, KindList, s.Text())
	case "figcaption":
		appendBlock(blocks, KindImageCaption, s.Text())
	case "img", "image", "hr", "br":
		// nothing to narrate
	case "figure":
		s.Children().Each(func(_ int, c *goquery.Selection) {
			if goquery.NodeName(c) == "figcaption" {
				appendBlock(blocks, KindImageCaption, c.Text())
			}
		})
	case "div", "section", "article", "aside", "blockquote", "main", "header", "footer", "nav":
		if s.Children().Length() > 0 {
			s.Children().Each(func(_ int, c *goquery.Selection) {
				walk(c, blocks)
			})
			return
		}
		appendBlock(blocks, KindOther, s.Text())
	default:
		appendBlock(blocks, KindOther, s.Text())
	}
}

func appendBlock(blocks *[]Block, kind BlockKind, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	*blocks = append(*blocks, Block{Kind: kind, Text: text})
}
