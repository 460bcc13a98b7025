package responses

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Embedded(t *testing.T) {
	c, err := Load("", "")
	require.NoError(t, err)

	assert.Contains(t, c.Get("en", Welcome), "Welcome")
	assert.Contains(t, c.Get("en", InvalidLink), "Invalid link")
	assert.Equal(t, c.Get("en", Processing), c.Get("fr", Processing))
	assert.Equal(t, c.Get("en", Denied), c.Get("", Denied))
}

func TestLoad_Directory(t *testing.T) {
	dir := t.TempDir()
	doc := `{"responses": ["hola", "enlace inválido", "procesando", "error de descarga", "muy grande", "error de envío", "denegado"]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "es.json"), []byte(doc), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	c, err := Load(dir, "en")
	require.NoError(t, err)

	assert.Equal(t, "hola", c.Get("es", Welcome))
	assert.Equal(t, "denegado", c.Get("ES", Denied))
	assert.Equal(t, "procesando", c.Get("es-MX", Processing))
	assert.Contains(t, c.Get("de", Welcome), "Welcome")
	assert.Equal(t, []string{"en", "es"}, c.Languages())

	// es.json has no busy entry, the embedded English one is used
	assert.Equal(t, c.Get("en", Busy), c.Get("es", Busy))
	assert.Contains(t, c.Get("es", Busy), "previous video")
}

func TestLoad_ShortFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "en.json"), []byte(`{"responses": ["hi"]}`), 0o644))

	_, err := Load(dir, "en")
	assert.Error(t, err)
}

func TestLoad_UnknownFallback(t *testing.T) {
	_, err := Load("", "xx")
	assert.Error(t, err)
}

func TestParse(t *testing.T) {
	_, err := Parse([]byte(`not json`))
	assert.Error(t, err)

	_, err = Parse([]byte(`{"responses": ["a", "b", "c", "d", "e", "f", " "]}`))
	assert.Error(t, err)

	list, err := Parse([]byte(`{"responses": ["a", "b", "c", "d", "e", "f", "g", "busy", "extra"]}`))
	require.NoError(t, err)
	assert.Len(t, list, 9)
}
