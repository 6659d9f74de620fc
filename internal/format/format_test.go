package format

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rowsFixture struct {
	Name  string `json:"name" yaml:"name"`
	Count int    `json:"count" yaml:"count"`
}

type fixtureList []rowsFixture

func (l fixtureList) Header() []string { return []string{"name", "count"} }

func (l fixtureList) Rows() [][]string {
	var rows [][]string
	for _, r := range l {
		rows = append(rows, []string{r.Name, strings.Repeat("*", r.Count)})
	}
	return rows
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := New(&bytes.Buffer{}, "xml", false)
	assert.Error(t, err)

	p, err := New(&bytes.Buffer{}, "", false)
	require.NoError(t, err)
	assert.Equal(t, Table, p.Format())
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(&buf, Table, false)
	require.NoError(t, err)

	require.NoError(t, p.Print(fixtureList{{Name: "alpha", Count: 2}, {Name: "beta", Count: 3}}))
	out := buf.String()
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "alpha")
	assert.Contains(t, out, "***")
}

func TestPrintEmptyTable(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(&buf, Table, false)
	require.NoError(t, err)

	require.NoError(t, p.Print(fixtureList{}))
	assert.Equal(t, "No data to display\n", buf.String())
}

func TestPrintJSONAndYAML(t *testing.T) {
	v := fixtureList{{Name: "alpha", Count: 2}}

	var js bytes.Buffer
	p, err := New(&js, JSON, false)
	require.NoError(t, err)
	require.NoError(t, p.Print(v))
	assert.JSONEq(t, `[{"name":"alpha","count":2}]`, js.String())

	var ym bytes.Buffer
	p, err = New(&ym, YAML, false)
	require.NoError(t, err)
	require.NoError(t, p.Print(v))
	assert.YAMLEq(t, "- name: alpha\n  count: 2\n", ym.String())
}

func TestPlainValueFallsBackToYAML(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(&buf, Table, false)
	require.NoError(t, err)
	require.NoError(t, p.Print(map[string]int{"removed": 4}))
	assert.Equal(t, "removed: 4\n", buf.String())
}

func TestMessagesOnlyInTableMode(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(&buf, Table, false)
	require.NoError(t, err)
	p.Success("done %d", 1)
	p.Warning("careful")
	assert.Equal(t, "done 1\nWarning: careful\n", buf.String())

	buf.Reset()
	p, err = New(&buf, JSON, false)
	require.NoError(t, err)
	p.Success("done")
	assert.Empty(t, buf.String())
}
