package blogcore

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"go.abhg.dev/goldmark/frontmatter"
	"gopkg.in/yaml.v3"
)

type FrontmatterFormat string

const (
	FrontmatterTOML FrontmatterFormat = "toml"
	FrontmatterYAML FrontmatterFormat = "yaml"
)

// RenderFunc turns a raw post body into HTML.
type RenderFunc func(body string) (string, error)

// DefaultRenderer returns a RenderFunc that escapes any raw HTML in the body and then renders it with
// goldmark using the GFM, Typographer and Footnote extensions. Raw HTML therefore ends up as text.
func DefaultRenderer() RenderFunc {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Typographer,
			extension.Footnote,
		),
	)

	return func(body string) (string, error) {
		var buf bytes.Buffer
		if err := md.Convert([]byte(html.EscapeString(body)), &buf); err != nil {
			return "", fmt.Errorf("failed to convert markdown: %w", err)
		}
		return buf.String(), nil
	}
}

// PostMeta represents the frontmatter of an archived post
type PostMeta struct {
	Title   string    `yaml:"title" toml:"title"`
	Author  int64     `yaml:"author,omitempty" toml:"author,omitempty"`
	Created time.Time `yaml:"created" toml:"created"`
	Tags    []string  `yaml:"tags,omitempty" toml:"tags,omitempty"`
	Image   string    `yaml:"image,omitempty" toml:"image,omitempty"`
}

// ParseDocument reads a markdown document with optional YAML (---) or TOML (+++) frontmatter and
// returns the decoded frontmatter together with the raw markdown body that follows it.
func ParseDocument(src []byte) (PostMeta, string, error) {
	src = bytes.ReplaceAll(src, []byte("\r\n"), []byte("\n"))

	md := goldmark.New(goldmark.WithExtensions(&frontmatter.Extender{}))
	ctx := parser.NewContext()
	if err := md.Convert(src, io.Discard, parser.WithContext(ctx)); err != nil {
		return PostMeta{}, "", fmt.Errorf("failed to convert markdown: %w", err)
	}

	meta := PostMeta{}
	body := string(src)

	data := frontmatter.Get(ctx)
	if data == nil {
		// No frontmatter found
		return meta, body, nil
	}

	if err := data.Decode(&meta); err != nil {
		return meta, body, fmt.Errorf("failed to decode frontmatter: %w", err)
	}

	return meta, stripFrontmatter(body), nil
}

// stripFrontmatter removes a leading frontmatter block delimited by --- or +++ lines
func stripFrontmatter(doc string) string {
	for _, delim := range []string{"---", "+++"} {
		if !strings.HasPrefix(doc, delim+"\n") {
			continue
		}

		rest := doc[len(delim)+1:]
		if rest == delim {
			return ""
		}

		var body string
		if strings.HasPrefix(rest, delim+"\n") {
			body = rest[len(delim)+1:]
		} else {
			end := strings.Index(rest, "\n"+delim+"\n")
			if end < 0 {
				if strings.HasSuffix(rest, "\n"+delim) {
					return ""
				}
				return doc
			}
			body = rest[end+len(delim)+2:]
		}

		// FormatDocument puts exactly one blank line after the closing delimiter
		return strings.TrimPrefix(body, "\n")
	}

	return doc
}

// GenerateFrontmatter encodes the metadata in the given format without delimiters.
func GenerateFrontmatter(meta *PostMeta, format FrontmatterFormat) (string, error) {
	var frontmatter strings.Builder

	if meta == nil {
		return "", nil
	}

	switch format {
	case FrontmatterYAML:
		yamlData, err := yaml.Marshal(meta)
		if err != nil {
			return "", fmt.Errorf("failed to marshal YAML frontmatter: %w", err)
		}
		frontmatter.Write(yamlData)

	case FrontmatterTOML:
		encoder := toml.NewEncoder(&frontmatter)
		if err := encoder.Encode(meta); err != nil {
			return "", fmt.Errorf("failed to marshal TOML frontmatter: %w", err)
		}

	default:
		return "", fmt.Errorf("unsupported frontmatter format: %s", format)
	}

	return frontmatter.String(), nil
}

// FormatDocument combines frontmatter and body into a markdown document
func FormatDocument(meta *PostMeta, body string, format FrontmatterFormat) (string, error) {
	fm, err := GenerateFrontmatter(meta, format)
	if err != nil {
		return "", err
	}

	switch format {
	case FrontmatterYAML:
		return fmt.Sprintf("---\n%s---\n\n%s", fm, body), nil
	case FrontmatterTOML:
		return fmt.Sprintf("+++\n%s+++\n\n%s", fm, body), nil
	default:
		return "", fmt.Errorf("unsupported frontmatter format: %s", format)
	}
}
