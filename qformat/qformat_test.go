package qformat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `<?xml version="1.0" encoding="UTF-8"?>
<quiz>
  <question type="category">
    <category><text>$context$/top/Default</text></category>
    <info format="html"><text></text></info>
    <idnumber>cat-1</idnumber>
  </question>
  <question type="stack">
    <name><text>Derivative</text></name>
    <questiontext format="html"><text>Find f'(x)</text></questiontext>
    <defaultgrade>1</defaultgrade>
    <penalty>0.1</penalty>
    <idnumber>q-1</idnumber>
    <questionvariables><text>a:rand(5);</text></questionvariables>
    <deployedseed>42</deployedseed>
    <deployedseed>7</deployedseed>
    <tags><tag><text>algebra</text></tag><tag><text>id3</text></tag></tags>
  </question>
</quiz>`

func TestParse(t *testing.T) {
	quiz, err := ParseBytes([]byte(sampleDoc))
	require.NoError(t, err)
	require.Len(t, quiz.Questions, 2)

	cat := quiz.Questions[0]
	assert.True(t, cat.IsCategory())
	assert.Equal(t, "$context$/top/Default", cat.Category.Text)
	assert.Equal(t, "cat-1", cat.IDNumber)

	q := quiz.Questions[1]
	assert.False(t, q.IsCategory())
	assert.Equal(t, "Derivative", q.Name.Text)
	assert.Equal(t, []string{"42", "7"}, q.DeployedSeeds)
	assert.Equal(t, []string{"algebra", "id3"}, q.TagNames())
	assert.Equal(t, "a:rand(5);", q.QuestionVariables.Text)
}

func TestParseRejectsInvalidDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not xml", "hello"},
		{"missing name", `<quiz><question type="stack"><idnumber></idnumber></question></quiz>`},
		{"missing type", `<quiz><question><name><text>x</text></name></question></quiz>`},
		{"bad category path", `<quiz><question type="category"><category><text>top/Default</text></category></question></quiz>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc))
			assert.ErrorIs(t, err, ErrInvalidDocument)
		})
	}
}

func TestEncodeKeepsFields(t *testing.T) {
	quiz, err := ParseBytes([]byte(sampleDoc))
	require.NoError(t, err)
	quiz.Questions[1].SetTagNames([]string{"synccopy"})

	data, err := quiz.Bytes()
	require.NoError(t, err)
	out := string(data)
	assert.True(t, strings.HasPrefix(out, "<?xml"))
	assert.Contains(t, out, `<question type="stack">`)
	assert.Contains(t, out, "<deployedseed>42</deployedseed>")
	assert.Contains(t, out, "<tag>\n        <text>synccopy</text>")
	assert.NotContains(t, out, "algebra")
}

func TestSetTagNamesEmptyDropsTags(t *testing.T) {
	q := Question{Type: "stack", Name: &Text{Text: "x"}}
	q.SetTagNames([]string{"a"})
	require.NotNil(t, q.Tags)
	q.SetTagNames(nil)
	assert.Nil(t, q.Tags)
	assert.Empty(t, q.TagNames())
}

func TestCategoryPath(t *testing.T) {
	path := CategoryPath("top", "Default", "synccopies")
	assert.Equal(t, "$context$/top/Default/synccopies", path)

	names, err := SplitCategoryPath(path + "/")
	require.NoError(t, err)
	assert.Equal(t, []string{"top", "Default", "synccopies"}, names)

	_, err = SplitCategoryPath("$context$/")
	assert.ErrorIs(t, err, ErrInvalidDocument)
	_, err = SplitCategoryPath("top/Default")
	assert.ErrorIs(t, err, ErrInvalidDocument)
}
