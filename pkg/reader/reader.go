package reader

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/pterm/pterm"
	"github.com/zeebo/xxh3"

	"github.com/strato3003/jimny/pkg/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrMalformedPage is returned when a raw page cannot be turned into bytes
var ErrMalformedPage = errors.New("malformed page")

// maxLine bounds a single JSONL record
const maxLine = 4 << 20

// Encoding tells how raw pages are written in the JSONL file
type Encoding string

const (
	// ASCIIHex is the hex of the adapter's ASCII dump: every byte of the
	// page appears as two hex characters, each itself hex encoded
	ASCIIHex Encoding = "ascii-hex"
	// Hex is the page bytes in plain hex
	Hex Encoding = "hex"
)

// ParseEncoding validates an encoding name
func ParseEncoding(s string) (Encoding, error) {
	switch e := Encoding(strings.ToLower(strings.TrimSpace(s))); e {
	case ASCIIHex, Hex:
		return e, nil
	case "":
		return ASCIIHex, nil
	}
	return "", fmt.Errorf("unknown raw encoding %q (want %s or %s)", s, ASCIIHex, Hex)
}

// Options controls loading
type Options struct {
	Encoding Encoding
	Limit    int              // keep the first Limit records, 0 for all
	Channels []models.Channel // nil discovers channels from the data
	Fields   []models.Field   // nil discovers fields from the data
	Logger   *pterm.Logger
}

// record is one merged line: raw pages and reference values of one frame
type record struct {
	Frame  int                 `json:"frame"`
	Time   string              `json:"t"`
	Raw    map[string]*string  `json:"raw"`
	Values map[string]*float64 `json:"values"`
}

// ReadDataset loads a JSONL session file
func ReadDataset(filename string, opts Options) (*models.Dataset, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ds, err := Load(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return ds, nil
}

// Load reads JSONL records from r. Blank lines and records whose raw or
// values object is missing or empty are skipped; invalid JSON and
// undecodable pages are errors.
func Load(r io.Reader, opts Options) (*models.Dataset, error) {
	enc := opts.Encoding
	if enc == "" {
		enc = ASCIIHex
	}

	wantChannel := make(map[models.Channel]bool, len(opts.Channels))
	for _, c := range opts.Channels {
		wantChannel[c] = true
	}
	wantField := make(map[models.Field]bool, len(opts.Fields))
	for _, f := range opts.Fields {
		wantField[f] = true
	}
	seenChannel := make(map[models.Channel]bool)
	seenField := make(map[models.Field]bool)

	ds := &models.Dataset{}
	digest := xxh3.New()
	skipped := 0

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if opts.Limit > 0 && ds.Len() >= opts.Limit {
			break
		}

		var rec record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(rec.Raw) == 0 || len(rec.Values) == 0 {
			skipped++
			if opts.Logger != nil {
				opts.Logger.Debug("skipping record without raw or values", opts.Logger.Args("line", line))
			}
			continue
		}

		obs := models.Observation{
			Frame:  rec.Frame,
			Time:   rec.Time,
			Raw:    make(map[models.Channel][]byte, len(rec.Raw)),
			Values: make(map[models.Field]float64, len(rec.Values)),
		}
		for name, page := range rec.Raw {
			ch := models.Channel(name)
			if len(opts.Channels) > 0 && !wantChannel[ch] {
				continue
			}
			if page == nil || *page == "" {
				continue
			}
			buf, err := DecodePage(*page, enc)
			if err != nil {
				return nil, fmt.Errorf("line %d: channel %s: %w", line, ch, err)
			}
			if len(buf) == 0 {
				continue
			}
			obs.Raw[ch] = buf
			seenChannel[ch] = true
		}
		for name, v := range rec.Values {
			f := models.Field(name)
			if v == nil || (len(opts.Fields) > 0 && !wantField[f]) {
				continue
			}
			obs.Values[f] = *v
			seenField[f] = true
		}

		digest.Write([]byte(text))
		ds.Observations = append(ds.Observations, obs)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("line %d: %w", line+1, err)
	}

	ds.Channels = opts.Channels
	if len(ds.Channels) == 0 {
		ds.Channels = sortedKeys(seenChannel)
	}
	ds.Fields = opts.Fields
	if len(ds.Fields) == 0 {
		ds.Fields = sortedKeys(seenField)
	}
	ds.Digest = digest.Sum64()

	if opts.Logger != nil {
		opts.Logger.Debug("dataset loaded", opts.Logger.Args(
			"observations", ds.Len(),
			"skipped", skipped,
			"digest", ds.DigestHex(),
		))
	}
	return ds, nil
}

// DecodePage turns one raw page into bytes. An ascii-hex page keeps only
// pairs that encode a hex character, which drops the adapter's prompt and
// line endings.
func DecodePage(s string, enc Encoding) ([]byte, error) {
	switch enc {
	case Hex:
		clean := strings.Map(func(r rune) rune {
			if r == ' ' || r == '\t' || r == '\r' || r == '\n' {
				return -1
			}
			return r
		}, s)
		b, err := hex.DecodeString(clean)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPage, err)
		}
		return b, nil

	case ASCIIHex:
		var digits []byte
		for i := 0; i+1 < len(s); i += 2 {
			c, ok := hexPair(s[i], s[i+1])
			if !ok || !isHexDigit(c) {
				continue
			}
			digits = append(digits, c)
		}
		b := make([]byte, hex.DecodedLen(len(digits)))
		if _, err := hex.Decode(b, digits); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPage, err)
		}
		return b, nil
	}
	return nil, fmt.Errorf("%w: unknown encoding %q", ErrMalformedPage, enc)
}

// EncodePage is the inverse of DecodePage
func EncodePage(b []byte, enc Encoding) string {
	h := hex.EncodeToString(b)
	if enc == Hex {
		return h
	}
	return hex.EncodeToString([]byte(strings.ToUpper(h)))
}

func hexPair(hi, lo byte) (byte, bool) {
	h, ok1 := nibble(hi)
	l, ok2 := nibble(lo)
	return h<<4 | l, ok1 && ok2
}

func nibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

func isHexDigit(c byte) bool {
	_, ok := nibble(c)
	return ok
}

func sortedKeys[K ~string](m map[K]bool) []K {
	out := make([]K, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
