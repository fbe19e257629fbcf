package docgen_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askiada/sonicator-hil/internal/docgen"
)

const cSource = `/**
 * @file modbus.h
 * @brief MODBUS RTU slave for the sonicator controller.
 */
#ifndef MODBUS_H
#define MODBUS_H

/// Slave address of the controller.
#define MODBUS_SLAVE_ID 2 // default

/**
 * Register file shared with the ISR.
 */
typedef struct {
    uint16_t amplitude[4];
    uint16_t start[4];
} modbus_registers_t;

/**
 * Initialise the UART and the register file.
 * @param baud line speed
 */
void modbus_init(uint32_t baud);

static uint16_t crc16(const uint8_t *buf, uint8_t len);

void modbus_init(uint32_t baud) {
    if (baud == 0) {
        return;
    }
}
#endif
`

const pySource = `#!/usr/bin/env python3
"""Hardware detection for the HIL rig."""

import serial


class HardwareDetector(object):
    """Probe serial ports for known devices.

    Falls back to simulation.
    """

    def __init__(self, config):
        """Create a detector."""
        self.config = config

    def detect(self, test_comm=True):
        '''Run detection.'''
        return self._probe()

    def _probe(self):
        return None


def main():
    detector = HardwareDetector({})
`

func TestScrapeC(t *testing.T) {
	t.Parallel()

	doc, err := docgen.Scrape("include/modbus.h", docgen.LangC, strings.NewReader(cSource))
	require.NoError(t, err)
	assert.Equal(t, "MODBUS RTU slave for the sonicator controller.", doc.Summary)

	byName := map[string]docgen.Item{}
	for _, item := range doc.Items {
		byName[item.Name] = item
	}

	assert.Equal(t, docgen.KindDefine, byName["MODBUS_SLAVE_ID"].Kind)
	assert.Equal(t, "#define MODBUS_SLAVE_ID 2", byName["MODBUS_SLAVE_ID"].Signature)
	assert.Equal(t, "Slave address of the controller.", byName["MODBUS_SLAVE_ID"].Doc)

	assert.Equal(t, docgen.KindStruct, byName["modbus_registers_t"].Kind)
	assert.Equal(t, "Register file shared with the ISR.", byName["modbus_registers_t"].Doc)

	init := byName["modbus_init"]
	assert.Equal(t, docgen.KindFunction, init.Kind)
	assert.Equal(t, "void modbus_init(uint32_t baud)", init.Signature)
	assert.Equal(t, "Initialise the UART and the register file.\n@param baud line speed", init.Doc)

	assert.Equal(t, "static uint16_t crc16(const uint8_t *buf, uint8_t len)", byName["crc16"].Signature)

	count := 0
	for _, item := range doc.Items {
		if item.Name == "modbus_init" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestScrapePython(t *testing.T) {
	t.Parallel()

	doc, err := docgen.Scrape("scripts/detect.py", docgen.LangPython, strings.NewReader(pySource))
	require.NoError(t, err)
	assert.Equal(t, "Hardware detection for the HIL rig.", doc.Summary)

	require.Len(t, doc.Items, 4)
	assert.Equal(t, docgen.Item{
		Kind:      docgen.KindClass,
		Name:      "HardwareDetector",
		Signature: "class HardwareDetector(object)",
		Doc:       "Probe serial ports for known devices.\n\nFalls back to simulation.",
		Line:      7,
	}, doc.Items[0])
	assert.Equal(t, docgen.KindMethod, doc.Items[1].Kind)
	assert.Equal(t, "__init__", doc.Items[1].Name)
	assert.Equal(t, "def detect(self, test_comm=True)", doc.Items[2].Signature)
	assert.Equal(t, "Run detection.", doc.Items[2].Doc)
	assert.Equal(t, docgen.KindFunction, doc.Items[3].Kind)
	assert.Equal(t, "main", doc.Items[3].Name)
	assert.Empty(t, doc.Items[3].Doc)
}

func TestGenerate(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	firmware := filepath.Join(root, "firmware")
	scripts := filepath.Join(root, "scripts")
	require.NoError(t, os.MkdirAll(filepath.Join(firmware, "build"), 0o755))
	require.NoError(t, os.MkdirAll(scripts, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(firmware, "modbus.h"), []byte(cSource), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(firmware, "build", "generated.h"), []byte(cSource), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(firmware, "README.md"), []byte("# readme"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(scripts, "detect.py"), []byte(pySource), 0o600))

	out := filepath.Join(root, "docs")
	index, err := docgen.Generate(context.Background(), docgen.Options{
		Roots:       []string{firmware, scripts},
		OutDir:      out,
		Title:       "Sonicator",
		Concurrency: 2,
		HTML:        true,
	})
	require.NoError(t, err)
	require.Len(t, index.Files, 2)
	assert.Equal(t, "firmware/modbus.h", index.Files[0].Path)
	assert.Equal(t, "scripts/detect.py", index.Files[1].Path)

	page, err := os.ReadFile(filepath.Join(out, "firmware_modbus_h.md"))
	require.NoError(t, err)
	assert.Contains(t, string(page), "## Functions")
	assert.Contains(t, string(page), "### `modbus_init`")

	idx, err := os.ReadFile(filepath.Join(out, "index.md"))
	require.NoError(t, err)
	assert.Contains(t, string(idx), "[scripts/detect.py](scripts_detect_py.md)")

	html, err := os.ReadFile(filepath.Join(out, "index.html"))
	require.NoError(t, err)
	assert.Contains(t, string(html), "<h1>Sonicator</h1>")
}

func TestRenderHTMLEscapes(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	require.NoError(t, docgen.RenderHTML(buf, &docgen.Index{Title: "t", Files: []*docgen.FileDoc{{
		Path:  "a.c",
		Items: []docgen.Item{{Name: "f", Signature: "int f(char *<b>)"}},
	}}}))
	assert.Contains(t, buf.String(), "int f(char *&lt;b&gt;)")
}

func TestCollectMissingRoot(t *testing.T) {
	t.Parallel()

	_, err := docgen.Collect(context.Background(), []string{filepath.Join(t.TempDir(), "missing")}, 1)
	require.Error(t, err)
	_, err = docgen.Collect(context.Background(), nil, 1)
	require.Error(t, err)
}
