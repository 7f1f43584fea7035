package wasm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// Hand-assembled raw-ABI modules. Every module exports memory, a mutable
// "released" global counting ember_release calls, ember_alloc returning a
// fixed span at 1024 and an ember_handle whose body the test supplies.

const (
	inputOffset  = 1024
	outputOffset = 2048
)

var (
	// returns the input span unchanged
	echoHandle = []byte{
		0x20, 0x00, // local.get 0
		0xad,       // i64.extend_i32_u
		0x42, 0x20, // i64.const 32
		0x86,       // i64.shl
		0x20, 0x01, // local.get 1
		0xad, // i64.extend_i32_u
		0x84, // i64.or
		0x0b,
	}

	trapHandle = []byte{0x00, 0x0b}

	spinHandle = []byte{
		0x03, 0x40, // loop
		0x0c, 0x00, // br 0
		0x0b, // end
		0x00, // unreachable
		0x0b,
	}
)

// constantHandle returns the span of a data segment placed at outputOffset.
func constantHandle(size int) []byte {
	packed := int64(outputOffset)<<32 | int64(size)
	body := append([]byte{0x42}, sleb(packed)...)
	return append(body, 0x0b)
}

type moduleDef struct {
	handle  []byte
	data    []byte
	exports []string
}

func buildModule(def moduleDef) []byte {
	if def.exports == nil {
		def.exports = []string{ExportMemory, ExportAlloc, ExportHandle, ExportRelease, "released"}
	}

	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	types := vec(
		[]byte{0x60, 0x01, 0x7f, 0x01, 0x7f},       // (i32) -> i32
		[]byte{0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7e}, // (i32, i32) -> i64
		[]byte{0x60, 0x02, 0x7f, 0x7f, 0x00},       // (i32, i32) -> ()
	)
	out = appendSection(out, 1, types)
	out = appendSection(out, 3, vec([]byte{0x00}, []byte{0x01}, []byte{0x02}))
	out = appendSection(out, 5, vec([]byte{0x00, 0x01}))
	out = appendSection(out, 6, vec([]byte{0x7f, 0x01, 0x41, 0x00, 0x0b}))

	indexes := map[string][]byte{
		ExportMemory:  {0x02, 0x00},
		ExportAlloc:   {0x00, 0x00},
		ExportHandle:  {0x00, 0x01},
		ExportRelease: {0x00, 0x02},
		"released":    {0x03, 0x00},
	}
	var exports [][]byte
	for _, name := range def.exports {
		entry := append(name2bytes(name), indexes[name]...)
		exports = append(exports, entry)
	}
	out = appendSection(out, 7, vec(exports...))

	alloc := append([]byte{0x41}, sleb(inputOffset)...)
	alloc = append(alloc, 0x0b)
	release := []byte{0x23, 0x00, 0x41, 0x01, 0x6a, 0x24, 0x00, 0x0b}
	out = appendSection(out, 10, vec(funcBody(alloc), funcBody(def.handle), funcBody(release)))

	if len(def.data) > 0 {
		seg := []byte{0x00, 0x41}
		seg = append(seg, sleb(outputOffset)...)
		seg = append(seg, 0x0b)
		seg = append(seg, uleb(uint64(len(def.data)))...)
		seg = append(seg, def.data...)
		out = appendSection(out, 11, vec(seg))
	}
	return out
}

func writeModule(t *testing.T, def moduleDef) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fn.wasm")
	require.NoError(t, os.WriteFile(path, buildModule(def), 0o644))
	return path
}

func funcBody(code []byte) []byte {
	body := append([]byte{0x00}, code...) // no locals
	return append(uleb(uint64(len(body))), body...)
}

func appendSection(out []byte, id byte, contents []byte) []byte {
	out = append(out, id)
	out = append(out, uleb(uint64(len(contents)))...)
	return append(out, contents...)
}

func vec(items ...[]byte) []byte {
	out := uleb(uint64(len(items)))
	for _, item := range items {
		out = append(out, item...)
	}
	return out
}

func name2bytes(s string) []byte {
	return append(uleb(uint64(len(s))), s...)
}

func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}
