// Package report renders human-readable RIB tables and path-query
// results for the simulator's CLI, the way a router's "show ip bgp"
// and "show ip bgp <prefix>" commands would.
package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
	"time"
)

// RIBEntry is one row of a rendered RIB table.
type RIBEntry struct {
	Prefix      string
	NextHop     string
	ASPath      string
	LocalPref   int
	MED         int
	Origin      string
	Communities string
	Best        bool
}

// RIBData is the input to RenderRIB: every known entry at one router,
// for one of the three RIB views (in/local/out).
type RIBData struct {
	Router      string
	View        string // "in", "local", or "out"
	Peer        string // populated for "in"/"out" views
	GeneratedAt string
	Entries     []RIBEntry
}

// PathData is the input to RenderPath: the forwarding path a prefix
// takes starting from one router.
type PathData struct {
	Router      string
	Prefix      string
	GeneratedAt string
	Hops        []string
	Err         string
}

const defaultRIBTemplate = `Router: {{.Router}} ({{.View}}{{if .Peer}} via {{.Peer}}{{end}})
Generated: {{.GeneratedAt}}
{{printf "%-3s %-20s %-15s %-25s %6s %6s %-8s" "" "Network" "Next Hop" "AS Path" "LocPrf" "MED" "Origin"}}
{{- range .Entries}}
{{printf "%-3s %-20s %-15s %-25s %6d %6d %-8s" (ternary .Best "*>" "* ") .Prefix .NextHop .ASPath .LocalPref .MED .Origin}}
{{- end}}
{{len .Entries}} prefixes shown
`

const defaultPathTemplate = `show ip bgp {{.Prefix}} from {{.Router}}
Generated: {{.GeneratedAt}}
{{- if .Err}}
error: {{.Err}}
{{- else}}
{{range $i, $hop := .Hops}}{{if $i}} -> {{end}}{{$hop}}{{end}}
{{- end}}
`

func ternary(cond bool, t, f string) string {
	if cond {
		return t
	}
	return f
}

var funcs = template.FuncMap{"ternary": ternary}

// Renderer renders RIB and path-query reports via text/template. An
// override directory may supply "rib.tmpl"/"path.tmpl" files to
// replace the built-in formats; missing overrides fall back silently
// to the defaults embedded above.
type Renderer struct {
	outputDir    string
	ribTemplate  *template.Template
	pathTemplate *template.Template
}

// NewRenderer builds a Renderer. templateDir, if non-empty, is checked
// for "rib.tmpl"/"path.tmpl" overrides. outputDir, if non-empty, is
// created for WriteReport to write into.
func NewRenderer(templateDir, outputDir string) (*Renderer, error) {
	r := &Renderer{outputDir: outputDir}

	ribSrc := defaultRIBTemplate
	if templateDir != "" {
		if data, err := os.ReadFile(filepath.Join(templateDir, "rib.tmpl")); err == nil {
			ribSrc = string(data)
		}
	}
	ribTmpl, err := template.New("rib").Funcs(funcs).Parse(ribSrc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse RIB template: %w", err)
	}
	r.ribTemplate = ribTmpl

	pathSrc := defaultPathTemplate
	if templateDir != "" {
		if data, err := os.ReadFile(filepath.Join(templateDir, "path.tmpl")); err == nil {
			pathSrc = string(data)
		}
	}
	pathTmpl, err := template.New("path").Funcs(funcs).Parse(pathSrc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse path template: %w", err)
	}
	r.pathTemplate = pathTmpl

	if outputDir != "" {
		if err := os.MkdirAll(outputDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output dir: %w", err)
		}
	}

	return r, nil
}

// RenderRIB renders a RIB table.
func (r *Renderer) RenderRIB(data RIBData) (string, error) {
	data.GeneratedAt = time.Now().Format(time.RFC3339)

	var buf bytes.Buffer
	if err := r.ribTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render RIB report: %w", err)
	}
	return buf.String(), nil
}

// RenderPath renders a path-query result.
func (r *Renderer) RenderPath(data PathData) (string, error) {
	data.GeneratedAt = time.Now().Format(time.RFC3339)

	var buf bytes.Buffer
	if err := r.pathTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render path report: %w", err)
	}
	return buf.String(), nil
}

// WriteReport writes rendered content to name within the renderer's
// output directory.
func (r *Renderer) WriteReport(name, content string) error {
	if r.outputDir == "" {
		return fmt.Errorf("report: no output directory configured")
	}
	path := filepath.Join(r.outputDir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write report %s: %w", name, err)
	}
	return nil
}
