// Package qformat reads and writes the question bank XML interchange format.
//
// A document is a <quiz> holding an optional category marker followed by the
// questions that belong to it:
//
//	<quiz>
//	  <question type="category">
//	    <category><text>$context$/top/Default</text></category>
//	    <info format="html"><text></text></info>
//	    <idnumber></idnumber>
//	  </question>
//	  <question type="stack">
//	    <name><text>Derivative</text></name>
//	    ...
//	    <deployedseed>42</deployedseed>
//	    <tags><tag><text>algebra</text></tag></tags>
//	  </question>
//	</quiz>
package qformat

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	TypeCategory = "category"

	// ContextPrefix starts every category path; the importer resolves the
	// rest of the path inside the target context.
	ContextPrefix = "$context$/"
)

var ErrInvalidDocument = errors.New("invalid question document")

type Quiz struct {
	XMLName   xml.Name   `xml:"quiz"`
	Questions []Question `xml:"question"`
}

type Question struct {
	Type string `xml:"type,attr"`

	// Category marker fields.
	Category *Text          `xml:"category,omitempty"`
	Info     *FormattedText `xml:"info,omitempty"`

	Name              *Text          `xml:"name,omitempty"`
	QuestionText      *FormattedText `xml:"questiontext,omitempty"`
	GeneralFeedback   *FormattedText `xml:"generalfeedback,omitempty"`
	DefaultGrade      string         `xml:"defaultgrade,omitempty"`
	Penalty           string         `xml:"penalty,omitempty"`
	IDNumber          string         `xml:"idnumber"`
	QuestionVariables *Text          `xml:"questionvariables,omitempty"`
	DeployedSeeds     []string       `xml:"deployedseed"`
	Tags              *Tags          `xml:"tags,omitempty"`
}

type Text struct {
	Text string `xml:"text"`
}

type FormattedText struct {
	Format string `xml:"format,attr,omitempty"`
	Text   string `xml:"text"`
}

type Tags struct {
	Tag []Text `xml:"tag"`
}

func (q *Question) IsCategory() bool {
	return q.Type == TypeCategory
}

// TagNames returns the question's tag texts in document order.
func (q *Question) TagNames() []string {
	if q.Tags == nil {
		return nil
	}
	out := make([]string, 0, len(q.Tags.Tag))
	for _, t := range q.Tags.Tag {
		out = append(out, t.Text)
	}
	return out
}

func (q *Question) SetTagNames(names []string) {
	if len(names) == 0 {
		q.Tags = nil
		return
	}
	tags := &Tags{Tag: make([]Text, 0, len(names))}
	for _, n := range names {
		tags.Tag = append(tags.Tag, Text{Text: n})
	}
	q.Tags = tags
}

// Parse decodes and validates a document.
func Parse(r io.Reader) (*Quiz, error) {
	var quiz Quiz
	if err := xml.NewDecoder(r).Decode(&quiz); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := quiz.Validate(); err != nil {
		return nil, err
	}
	return &quiz, nil
}

func ParseBytes(data []byte) (*Quiz, error) {
	return Parse(bytes.NewReader(data))
}

func (q *Quiz) Validate() error {
	for i := range q.Questions {
		item := &q.Questions[i]
		if item.Type == "" {
			return fmt.Errorf("%w: question %d has no type", ErrInvalidDocument, i)
		}
		if item.IsCategory() {
			if item.Category == nil || !strings.HasPrefix(item.Category.Text, ContextPrefix) {
				return fmt.Errorf("%w: category %d has no %s path", ErrInvalidDocument, i, ContextPrefix)
			}
			continue
		}
		if item.Name == nil || strings.TrimSpace(item.Name.Text) == "" {
			return fmt.Errorf("%w: question %d has no name", ErrInvalidDocument, i)
		}
	}
	return nil
}

// Encode writes the document with an XML header.
func (q *Quiz) Encode(w io.Writer) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(q); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func (q *Quiz) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := q.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CategoryPath joins category names into a document path.
func CategoryPath(names ...string) string {
	return ContextPrefix + strings.Join(names, "/")
}

// SplitCategoryPath returns the category names of a document path.
func SplitCategoryPath(path string) ([]string, error) {
	if !strings.HasPrefix(path, ContextPrefix) {
		return nil, fmt.Errorf("%w: category path %q", ErrInvalidDocument, path)
	}
	var names []string
	for _, part := range strings.Split(strings.TrimPrefix(path, ContextPrefix), "/") {
		part = strings.TrimSpace(part)
		if part != "" {
			names = append(names, part)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: empty category path", ErrInvalidDocument)
	}
	return names, nil
}
