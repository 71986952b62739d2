// Package catalog defines the program and database option sets offered by
// the submission form. Defaults cover the standard NCBI programs and
// databases; a YAML file can replace either list for installations fronting
// custom databases.
package catalog

import (
	"fmt"
	"os"

	log "github.com/go-pkgz/lgr"
	"gopkg.in/yaml.v3"
)

// sentinel values mean "use the accompanying free-text override instead
// of a predefined choice"
const (
	SentinelProgram  = "other_program"
	SentinelDatabase = "other_database"
)

// Option is a single dropdown entry, submitted as Value and displayed as Label.
type Option struct {
	Value string `yaml:"value" json:"value" jsonschema:"required"`
	Label string `yaml:"label" json:"label"`
}

// Catalog holds both option sets, sentinels excluded.
type Catalog struct {
	Programs  []Option `yaml:"programs" json:"programs"`
	Databases []Option `yaml:"databases" json:"databases"`
}

// Default returns the built-in NCBI program and database sets.
func Default() Catalog {
	return Catalog{
		Programs: []Option{
			{Value: "blastn", Label: "blastn (nucleotide)"},
			{Value: "blastp", Label: "blastp (protein)"},
			{Value: "blastx", Label: "blastx (translated nucleotide)"},
			{Value: "tblastn", Label: "tblastn (protein vs translated db)"},
			{Value: "tblastx", Label: "tblastx (translated vs translated)"},
		},
		Databases: []Option{
			{Value: "nt", Label: "nt (nucleotide collection)"},
			{Value: "nr", Label: "nr (non-redundant protein)"},
			{Value: "refseq_rna", Label: "RefSeq RNA"},
			{Value: "refseq_protein", Label: "RefSeq Protein"},
			{Value: "swissprot", Label: "UniProtKB/Swiss-Prot"},
			{Value: "pdb", Label: "PDB"},
		},
	}
}

// Load reads a catalog from a YAML file. Empty sections fall back to the
// built-in defaults, so a file may override just one of the two lists.
func Load(path string) (Catalog, error) {
	data, err := os.ReadFile(path) // nolint gosec // path comes from the operator's config
	if err != nil {
		return Catalog{}, fmt.Errorf("can't read catalog file %s: %w", path, err)
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("can't parse catalog file %s: %w", path, err)
	}

	def := Default()
	if len(c.Programs) == 0 {
		c.Programs = def.Programs
	}
	if len(c.Databases) == 0 {
		c.Databases = def.Databases
	}

	if err := c.Verify(); err != nil {
		return Catalog{}, fmt.Errorf("catalog file %s failed validation: %w", path, err)
	}

	log.Printf("[INFO] catalog loaded from %s, %d programs, %d databases", path, len(c.Programs), len(c.Databases))
	return c, nil
}

// Verify checks the catalog for empty values, duplicates and collisions
// with the sentinel values.
func (c Catalog) Verify() error {
	if err := verifyOptions(c.Programs, SentinelProgram, "program"); err != nil {
		return err
	}
	return verifyOptions(c.Databases, SentinelDatabase, "database")
}

func verifyOptions(opts []Option, sentinel, kind string) error {
	if len(opts) == 0 {
		return fmt.Errorf("at least one %s option is required", kind)
	}
	seen := map[string]bool{}
	for i, opt := range opts {
		if opt.Value == "" {
			return fmt.Errorf("%s option %d: value is required", kind, i+1)
		}
		if opt.Value == sentinel {
			return fmt.Errorf("%s option %d: value %q is reserved", kind, i+1, sentinel)
		}
		if seen[opt.Value] {
			return fmt.Errorf("%s option %d: duplicate value %q", kind, i+1, opt.Value)
		}
		seen[opt.Value] = true
	}
	return nil
}

// ResolveProgram picks the effective program for a submission. The sentinel
// selects the free-text override when one was typed; everything else is
// forwarded as-is without checking it against the option set, the backend
// service is expected to reject values it doesn't support.
func ResolveProgram(program, override string) string {
	if program == SentinelProgram && override != "" {
		return override
	}
	return program
}

// ResolveDatabase is the database counterpart of ResolveProgram.
func ResolveDatabase(database, override string) string {
	if database == SentinelDatabase && override != "" {
		return override
	}
	return database
}
