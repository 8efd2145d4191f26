// Package textenc decodes input files declared with a non-UTF-8 text
// encoding. Encoding names are resolved through the IANA registry, so the
// usual config spellings (latin1, windows-1250, iso-8859-2, utf-16) all
// work without a hand-maintained table.
package textenc

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

// Reader wraps r so that reads yield UTF-8 regardless of the named source
// encoding. An empty name or any UTF-8 spelling returns r unchanged.
func Reader(r io.Reader, name string) (io.Reader, error) {
	switch strings.ToLower(name) {
	case "", "utf-8", "utf8":
		return r, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}
