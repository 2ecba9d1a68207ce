package reader

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/strato3003/jimny/pkg/models"
)

// WriteJSONL writes a dataset in the format Load reads. Fields missing from
// an observation are written as null, absent channels are left out.
func WriteJSONL(w io.Writer, ds *models.Dataset, enc Encoding) error {
	if enc == "" {
		enc = ASCIIHex
	}
	bw := bufio.NewWriter(w)
	for i, obs := range ds.Observations {
		rec := record{
			Frame:  obs.Frame,
			Time:   obs.Time,
			Raw:    make(map[string]*string, len(obs.Raw)),
			Values: make(map[string]*float64, len(ds.Fields)),
		}
		for _, ch := range ds.Channels {
			if buf, ok := obs.Raw[ch]; ok {
				page := EncodePage(buf, enc)
				rec.Raw[string(ch)] = &page
			}
		}
		for _, f := range ds.Fields {
			if v, ok := obs.Values[f]; ok {
				rec.Values[string(f)] = &v
			} else {
				rec.Values[string(f)] = nil
			}
		}
		b, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("observation %d: %w", i, err)
		}
		bw.Write(b)
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// WriteFile writes a dataset to a JSONL file
func WriteFile(filename string, ds *models.Dataset, enc Encoding) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := WriteJSONL(f, ds, enc); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
