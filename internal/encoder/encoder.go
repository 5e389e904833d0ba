// Package encoder derives renditions from stored uploads.
package encoder

import (
	"context"
	"path"
	"strings"

	logging "github.com/ipfs/go-log/v2"

	"mediaup/internal/store"
)

var log = logging.Logger("encoder")

// Encoder turns the bytes of a stored file into a rendition
type Encoder interface {
	// Name becomes part of the rendition's file name
	Name() string
	// Ext is the extension of the encoded output, including the dot
	Ext() string
	Accepts(path string) bool
	Encode(data []byte) ([]byte, error)
}

// Pipeline runs every accepting encoder over a freshly stored file
type Pipeline struct {
	store    *store.Store
	encoders []Encoder
}

func NewPipeline(s *store.Store, encoders ...Encoder) *Pipeline {
	return &Pipeline{store: s, encoders: encoders}
}

// Process stores a rendition next to p for each encoder that accepts it and
// returns the rendition paths. Failures are logged and skipped.
func (p *Pipeline) Process(ctx context.Context, stored string) []string {
	var (
		data []byte
		out  []string
	)

	for _, enc := range p.encoders {
		if ctx.Err() != nil {
			return out
		}
		if !enc.Accepts(stored) {
			continue
		}

		if data == nil {
			var err error
			if data, err = p.store.Download(stored); err != nil {
				log.Errorf("failed to read %s for encoding: %v", stored, err)
				return out
			}
		}

		encoded, err := enc.Encode(data)
		if err != nil {
			log.Warnf("%s encoder failed on %s: %v", enc.Name(), stored, err)
			continue
		}

		written, err := p.store.UploadUnique(renditionPath(stored, enc), encoded)
		if err != nil {
			log.Errorf("failed to store %s rendition of %s: %v", enc.Name(), stored, err)
			continue
		}
		log.Infow("stored rendition", "source", stored, "rendition", written)
		out = append(out, written)
	}
	return out
}

// renditionPath builds <dir>/<stem>_<name><ext>
func renditionPath(stored string, enc Encoder) string {
	dir, base := path.Split(stored)
	stem := strings.TrimSuffix(base, path.Ext(base))
	if stem == "" {
		stem = base
	}
	return path.Join(dir, stem+"_"+enc.Name()+enc.Ext())
}
