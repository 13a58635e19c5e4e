package xbel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `<?xml version="1.0" encoding="UTF-8"?>
<xbel version="1.0"
      xmlns:bookmark="http://www.freedesktop.org/standards/desktop-bookmarks"
      xmlns:mime="http://www.freedesktop.org/standards/shared-mime-info"
>
  <bookmark href="file:///home/alice/Downloads/a.pdf" added="2024-03-01T10:00:00.000000Z" modified="2024-03-01T10:00:00.000000Z" visited="2024-03-01T11:00:00.000000Z">
    <info>
      <metadata owner="http://freedesktop.org">
        <mime:mime-type type="application/pdf"/>
        <bookmark:applications>
          <bookmark:application name="Evince" exec="&apos;evince %u&apos;" modified="2024-03-01T10:00:00Z" count="1"/>
        </bookmark:applications>
      </metadata>
    </info>
  </bookmark>
  <bookmark href="file:///home/alice/Documents/b.odt" added="2024-03-02T10:00:00Z" modified="2024-03-02T10:00:00Z" visited="2024-03-02T10:00:00Z">
    <info>
      <metadata owner="http://freedesktop.org">
        <mime:mime-type type="application/vnd.oasis.opendocument.text"/>
        <bookmark:applications>
          <bookmark:application name="LibreOffice" exec="&apos;soffice %u&apos;" modified="2024-03-02T10:00:00Z" count="2"/>
          <bookmark:application name="gedit" exec="&apos;gedit %u&apos;" modified="2024-03-02T10:00:00Z" count="1"/>
        </bookmark:applications>
      </metadata>
    </info>
  </bookmark>
</xbel>
`

func TestScan(t *testing.T) {
	marks, err := scan([]byte(sampleDoc))
	require.NoError(t, err)
	require.Len(t, marks, 2)

	first := marks[0].entry
	assert.Equal(t, "file:///home/alice/Downloads/a.pdf", first.URI)
	assert.Equal(t, "application/pdf", first.MimeType)
	assert.Equal(t, []string{"Evince"}, first.Applications)
	assert.Equal(t, time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC), first.Visited.UTC())

	second := marks[1].entry
	assert.Equal(t, "file:///home/alice/Documents/b.odt", second.URI)
	assert.Equal(t, []string{"LibreOffice", "gedit"}, second.Applications)

	for _, m := range marks {
		span := sampleDoc[m.start:m.end]
		assert.Contains(t, span, "<bookmark href=")
		assert.True(t, len(span) > len("</bookmark>"))
		assert.Equal(t, "</bookmark>", span[len(span)-len("</bookmark>"):])
	}
}

func TestScan_Empty(t *testing.T) {
	marks, err := scan(nil)
	require.NoError(t, err)
	assert.Empty(t, marks)

	marks, err = scan([]byte(`<?xml version="1.0"?><xbel version="1.0"></xbel>`))
	require.NoError(t, err)
	assert.Empty(t, marks)
}

func TestScan_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"wrong root", `<html><bookmark href="file:///a"/></html>`},
		{"truncated", `<xbel><bookmark href="file:///a">`},
		{"no root", `<?xml version="1.0"?>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := scan([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestExcise(t *testing.T) {
	marks, err := scan([]byte(sampleDoc))
	require.NoError(t, err)

	out := excise([]byte(sampleDoc), marks[:1])
	rest, err := scan(out)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "file:///home/alice/Documents/b.odt", rest[0].entry.URI)
	assert.NotContains(t, string(out), "Downloads")

	// Everything outside the removed element is untouched.
	assert.Contains(t, string(out), `xmlns:mime="http://www.freedesktop.org/standards/shared-mime-info"`)
	assert.Contains(t, string(out), "\n  <bookmark href=\"file:///home/alice/Documents/b.odt\"")

	all := excise([]byte(sampleDoc), marks)
	none, err := scan(all)
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.Contains(t, string(all), "</xbel>")
}
