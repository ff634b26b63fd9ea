package payload

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sammck-go/rmitap/pkg/jrmp"
	rtshare "github.com/sammck-go/rmitap/share"
)

// Composer produces payload bytes that run cmd on the target. refCorrection is the
// number of handles already allocated in the stream the payload will be spliced
// into; back-references inside the payload must already be shifted by it.
type Composer interface {
	Compose(cmd string, refCorrection int) ([]byte, error)
}

// ComposerFunc adapts a function to Composer
type ComposerFunc func(cmd string, refCorrection int) ([]byte, error)

// Compose calls f
func (f ComposerFunc) Compose(cmd string, refCorrection int) ([]byte, error) {
	return f(cmd, refCorrection)
}

// TemplateComposer builds a payload from a fixed serialized prefix and suffix with
// the command string serialized between them. Library gadget chains generally
// take this shape.
type TemplateComposer struct {
	Name        string
	Description string

	// Header and Footer surround the command's UTF encoding
	Header []byte
	Footer []byte

	// Jars lists library file names whose presence in a target's codebase
	// annotations suggests the gadget chain is available
	Jars []string
}

// Compose returns FixReferences(Header) + utf(cmd) + FixReferences(Footer)
func (c *TemplateComposer) Compose(cmd string, refCorrection int) ([]byte, error) {
	enc, err := EncodeUTF(cmd)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.Name, err)
	}
	out := make([]byte, 0, len(c.Header)+len(enc)+len(c.Footer))
	out = append(out, FixReferences(c.Header, refCorrection)...)
	out = append(out, enc...)
	out = append(out, FixReferences(c.Footer, refCorrection)...)
	return out, nil
}

// AffectsEndpoint reports whether any of the composer's jars was seen on ep
func (c *TemplateComposer) AffectsEndpoint(ep *jrmp.EndpointDescriptor) bool {
	for _, jar := range c.Jars {
		if ep.HasJar(jar) {
			return true
		}
	}
	return false
}

type templateFile struct {
	Templates []struct {
		Name        string   `yaml:"name"`
		Description string   `yaml:"description"`
		Header      string   `yaml:"header"`
		Footer      string   `yaml:"footer"`
		Jars        []string `yaml:"jars"`
	} `yaml:"templates"`
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.Join(strings.Fields(s), ""))
}

// ParseTemplates reads TemplateComposers from yaml. Header and footer are hex
// strings; whitespace inside them is ignored.
func ParseTemplates(data []byte) ([]*TemplateComposer, error) {
	var f templateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid payload templates: %w", err)
	}
	composers := make([]*TemplateComposer, 0, len(f.Templates))
	for i, t := range f.Templates {
		if t.Name == "" {
			return nil, fmt.Errorf("payload template %d has no name: %w", i, rtshare.ErrPayloadGeneration)
		}
		header, err := decodeHex(t.Header)
		if err != nil {
			return nil, fmt.Errorf("payload template %s header: %v: %w", t.Name, err, rtshare.ErrPayloadGeneration)
		}
		footer, err := decodeHex(t.Footer)
		if err != nil {
			return nil, fmt.Errorf("payload template %s footer: %v: %w", t.Name, err, rtshare.ErrPayloadGeneration)
		}
		composers = append(composers, &TemplateComposer{
			Name:        t.Name,
			Description: t.Description,
			Header:      header,
			Footer:      footer,
			Jars:        t.Jars,
		})
	}
	return composers, nil
}

// LoadTemplates reads a yaml template file
func LoadTemplates(path string) ([]*TemplateComposer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseTemplates(data)
}
