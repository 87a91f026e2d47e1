package classifier

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// amountCapture is appended to every default label; the amount is always the
// last capturing group of a pattern.
const amountCapture = `\s*[:\-]?\s*(\$?\s*[0-9][0-9.,\s]{2,})`

// PatternSpec is a labelled extraction expression as written in a rules file.
type PatternSpec struct {
	Label string `yaml:"label" toml:"label"`
	Expr  string `yaml:"expr" toml:"expr"`
}

// RuleSet is the serialisable form of the classifier configuration.
// Empty sections fall back to the built-in defaults.
type RuleSet struct {
	ImageExtensions []string `yaml:"image_extensions" toml:"image_extensions"`
	Keywords        struct {
		Factura     []string `yaml:"factura" toml:"factura"`
		Transaccion []string `yaml:"transaccion" toml:"transaccion"`
	} `yaml:"keywords" toml:"keywords"`
	Patterns struct {
		Factura     []PatternSpec `yaml:"factura" toml:"factura"`
		Transaccion []PatternSpec `yaml:"transaccion" toml:"transaccion"`
	} `yaml:"patterns" toml:"patterns"`
}

type pattern struct {
	label string
	re    *regexp.Regexp
}

// Rules is the compiled, immutable classifier configuration.
type Rules struct {
	imageExts           []string
	invoiceKeywords     []string
	transactionKeywords []string
	invoicePatterns     []pattern
	transactionPatterns []pattern
}

// DefaultRuleSet returns the built-in configuration for Colombian invoices
// and bank/wallet transfer receipts.
func DefaultRuleSet() RuleSet {
	var rs RuleSet
	rs.ImageExtensions = []string{".png", ".jpg", ".jpeg", ".webp"}
	rs.Keywords.Factura = []string{"FACTURA", "NIT", "IVA", "SUBTOTAL", "TOTAL", "RESOLUCION", "DIAN"}
	rs.Keywords.Transaccion = []string{
		"TRANSACCI", "COMPROBANTE", "NEQUI", "DAVIPLATA", "BANCO",
		"ABONO", "CREDITO", "CONSIGNACI", "PAGO RECIBIDO", "REFERENCIA",
	}
	rs.Patterns.Factura = []PatternSpec{
		{Label: "total_a_pagar", Expr: `\bTOTAL\s*A\s*PAGAR` + amountCapture},
		{Label: "valor_total", Expr: `\bVALOR\s*TOTAL` + amountCapture},
		{Label: "total", Expr: `\bTOTAL` + amountCapture},
	}
	rs.Patterns.Transaccion = []PatternSpec{
		{Label: "valor_transaccion", Expr: `\b(?:VALOR|MONTO|IMPORTE)\s*(?:DE\s*LA\s*TRANSACCI[ÓO]N)?` + amountCapture},
		{Label: "abono_recibido", Expr: `\b(?:ABONO|CR[ÉE]DITO|CONSIGNACI[ÓO]N|PAGO\s*RECIBIDO)` + amountCapture},
	}
	return rs
}

// DefaultRules returns the compiled built-in configuration.
func DefaultRules() *Rules {
	r, err := NewRules(DefaultRuleSet())
	if err != nil {
		panic(fmt.Sprintf("default classifier rules: %v", err))
	}
	return r
}

// NewRules validates and compiles rs.
func NewRules(rs RuleSet) (*Rules, error) {
	def := DefaultRuleSet()
	if len(rs.ImageExtensions) == 0 {
		rs.ImageExtensions = def.ImageExtensions
	}
	if len(rs.Keywords.Factura) == 0 {
		rs.Keywords.Factura = def.Keywords.Factura
	}
	if len(rs.Keywords.Transaccion) == 0 {
		rs.Keywords.Transaccion = def.Keywords.Transaccion
	}
	if len(rs.Patterns.Factura) == 0 {
		rs.Patterns.Factura = def.Patterns.Factura
	}
	if len(rs.Patterns.Transaccion) == 0 {
		rs.Patterns.Transaccion = def.Patterns.Transaccion
	}

	r := &Rules{
		imageExts:           normalizeExtensions(rs.ImageExtensions),
		invoiceKeywords:     normalizeKeywords(rs.Keywords.Factura),
		transactionKeywords: normalizeKeywords(rs.Keywords.Transaccion),
	}

	var err error
	if r.invoicePatterns, err = compilePatterns(rs.Patterns.Factura); err != nil {
		return nil, fmt.Errorf("factura patterns: %w", err)
	}
	if r.transactionPatterns, err = compilePatterns(rs.Patterns.Transaccion); err != nil {
		return nil, fmt.Errorf("transaccion patterns: %w", err)
	}
	return r, nil
}

// LoadRules reads a YAML (.yaml, .yml) or TOML (.toml) rules file.
func LoadRules(path string) (*Rules, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var rs RuleSet
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &rs)
	case ".toml":
		err = toml.Unmarshal(b, &rs)
	default:
		return nil, fmt.Errorf("unsupported rules file extension %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	return NewRules(rs)
}

// Supports reports whether ext (with leading dot, any case) is an image type
// the OCR collaborator accepts.
func (r *Rules) Supports(ext string) bool {
	return slices.Contains(r.imageExts, strings.ToLower(ext))
}

// ImageExtensions returns a copy of the supported extensions.
func (r *Rules) ImageExtensions() []string {
	return slices.Clone(r.imageExts)
}

// Keywords returns copies of the invoice and transaction keyword sets.
func (r *Rules) Keywords() (invoice, transaction []string) {
	return slices.Clone(r.invoiceKeywords), slices.Clone(r.transactionKeywords)
}

func normalizeExtensions(in []string) []string {
	out := make([]string, 0, len(in))
	for _, e := range in {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if !slices.Contains(out, e) {
			out = append(out, e)
		}
	}
	return out
}

// normalizeKeywords upper-cases and dedupes, so each keyword scores at most once.
func normalizeKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	for _, k := range in {
		k = strings.ToUpper(strings.TrimSpace(k))
		if k == "" || slices.Contains(out, k) {
			continue
		}
		out = append(out, k)
	}
	return out
}

func compilePatterns(specs []PatternSpec) ([]pattern, error) {
	out := make([]pattern, 0, len(specs))
	for i, s := range specs {
		if strings.TrimSpace(s.Expr) == "" {
			return nil, fmt.Errorf("pattern %d (%s): empty expression", i, s.Label)
		}
		re, err := regexp.Compile("(?i)" + s.Expr)
		if err != nil {
			return nil, fmt.Errorf("pattern %d (%s): %w", i, s.Label, err)
		}
		if re.NumSubexp() == 0 {
			return nil, fmt.Errorf("pattern %d (%s): %w", i, s.Label, errNoCapture)
		}
		label := s.Label
		if label == "" {
			label = fmt.Sprintf("pattern_%d", i)
		}
		out = append(out, pattern{label: label, re: re})
	}
	return out, nil
}

var errNoCapture = errors.New("expression needs a capturing group for the amount")
