package internal

import (
	"errors"
	"testing"

	"ragchat/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestExtractRejectsBadInput(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
		data     []byte
		cause    error
	}{
		{name: "corrupt pdf", fileName: "1992.pdf", data: []byte("this is not a pdf at all")},
		{name: "truncated pdf", fileName: "1993.pdf", data: []byte("%PDF-1.4\n1 0 obj\n<<")},
		{name: "unsupported", fileName: "letter.odt", data: []byte("x"), cause: ErrUnsupportedFormat},
		{name: "empty text", fileName: "blank.txt", data: []byte("  \n\t"), cause: ErrNoText},
		{name: "invalid utf8", fileName: "bin.txt", data: []byte{0xff, 0xfe, 0xfd}},
		{name: "corrupt docx", fileName: "memo.docx", data: []byte("PK not really")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, _, err := Extract(tt.fileName, tt.data)
			require.Error(t, err)
			assert.Empty(t, text)

			var extErr *types.ExtractionError
			require.True(t, errors.As(err, &extErr))
			assert.Equal(t, tt.fileName, extErr.FileName)
			if tt.cause != nil {
				assert.ErrorIs(t, err, tt.cause)
			}
		})
	}
}

func TestExtractPlainText(t *testing.T) {
	text, pages, err := Extract("notes.TXT", []byte("Dear shareholders,\nTotal    1200    1300\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, pages)
	assert.Equal(t, "Dear shareholders,\nTotal    1200    1300\n", text)
}

func TestExtractMarkdown(t *testing.T) {
	src := "# Annual Letter\n\nSome prose about\nthe year.\n\n| Year | Gain |\n|------|------|\n| 1992 | 20 |\n"
	text, _, err := Extract("1992.md", []byte(src))
	require.NoError(t, err)

	assert.Contains(t, text, "Annual Letter\n")
	assert.Contains(t, text, "Some prose about\nthe year.\n")
	assert.Contains(t, text, "1992  20")
	assert.NotContains(t, text, "|")
	assert.NotContains(t, text, "#")
}

func TestExtractSpreadsheet(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Year"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "Gain"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", 1992))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", 20))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	text, _, err := Extract("gains.xlsx", buf.Bytes())
	require.NoError(t, err)
	assert.Contains(t, text, "Year  Gain\n")
	assert.Contains(t, text, "1992  20\n")
	assert.True(t, IsTableLine("1992  20"))
}

func TestInferYear(t *testing.T) {
	y := InferYear("letters/1992.pdf", "written in 1993")
	require.NotNil(t, y)
	assert.Equal(t, 1992, *y)

	y = InferYear("letter.pdf", "To the Shareholders of Berkshire, 1987 was a good year")
	require.NotNil(t, y)
	assert.Equal(t, 1987, *y)

	assert.Nil(t, InferYear("letter.pdf", "no year here"))
}

func TestSupported(t *testing.T) {
	assert.True(t, Supported("a.PDF"))
	assert.True(t, Supported("b.docx"))
	assert.False(t, Supported("c.exe"))
}
